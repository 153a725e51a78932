// Package directory implements the node pool: the directory of currently
// live relays, its HTTP surface, its node-context admission probe, and the
// background healthcheck loop that evicts relays which stop answering.
package directory

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one directory entry: a relay's observed address, its advertised
// public key (PEM), its version string, and when it was last written by
// Upsert (on admission via /add). Healthcheck passes do not update LastSeen.
type Entry struct {
	Addr      string
	PublicKey []byte // PEM
	Version   string
	LastSeen  time.Time
}

// Store is the single-writer/many-reader directory of live entries. An
// in-memory map is the read path every request uses; a sqlite table behind
// it persists entries across restarts, so a freshly restarted directory
// does not forget every relay it last admitted -- the next healthcheck pass
// either confirms or evicts each recovered row.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	db      *sql.DB
}

// Open opens (creating if necessary) the sqlite-backed store at path and
// loads any previously persisted entries into memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("directory.Open: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory.Open: create table: %w", err)
	}

	s := &Store{entries: make(map[string]Entry), db: db}
	if err := s.loadFromDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory.Open: %w", err)
	}
	return s, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	addr TEXT PRIMARY KEY,
	public_key TEXT NOT NULL,
	version TEXT NOT NULL,
	last_seen INTEGER NOT NULL
)`

func (s *Store) loadFromDB() error {
	rows, err := s.db.Query(`SELECT addr, public_key, version, last_seen FROM nodes`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var addr, pubKey, version string
		var lastSeenUnix int64
		if err := rows.Scan(&addr, &pubKey, &version, &lastSeenUnix); err != nil {
			return err
		}
		s.entries[addr] = Entry{
			Addr:      addr,
			PublicKey: []byte(pubKey),
			Version:   version,
			LastSeen:  time.Unix(lastSeenUnix, 0),
		}
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces e, keyed by e.Addr.
func (s *Store) Upsert(e Entry) error {
	if e.LastSeen.IsZero() {
		e.LastSeen = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO nodes (addr, public_key, version, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(addr) DO UPDATE SET public_key=excluded.public_key, version=excluded.version, last_seen=excluded.last_seen`,
		e.Addr, string(e.PublicKey), e.Version, e.LastSeen.Unix(),
	)
	if err != nil {
		return fmt.Errorf("directory.Upsert: %w", err)
	}
	s.entries[e.Addr] = e
	return nil
}

// Delete evicts the entry keyed by addr, if present.
func (s *Store) Delete(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM nodes WHERE addr = ?`, addr); err != nil {
		return fmt.Errorf("directory.Delete: %w", err)
	}
	delete(s.entries, addr)
	return nil
}

// Get returns the entry keyed by addr, if present.
func (s *Store) Get(addr string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[addr]
	return e, ok
}

// List returns a snapshot copy of every current entry. The order is
// unspecified (insertion-order-irrelevant per the data model).
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}
