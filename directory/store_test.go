package directory

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStoreUpsertGetList(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nodes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	e := Entry{Addr: "10.0.0.1:9001", PublicKey: []byte("pem-data"), Version: "1.2.0", LastSeen: time.Now()}
	if err := store.Upsert(e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok := store.Get(e.Addr)
	if !ok {
		t.Fatalf("Get: expected entry present")
	}
	if got.Version != e.Version {
		t.Errorf("Version = %q, want %q", got.Version, e.Version)
	}

	list := store.List()
	if len(list) != 1 {
		t.Fatalf("List: len = %d, want 1", len(list))
	}
}

func TestStoreUpsertReplaces(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nodes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	addr := "10.0.0.2:9001"
	if err := store.Upsert(Entry{Addr: addr, PublicKey: []byte("a"), Version: "1.0.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(Entry{Addr: addr, PublicKey: []byte("b"), Version: "2.0.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok := store.Get(addr)
	if !ok {
		t.Fatalf("Get: expected entry present")
	}
	if got.Version != "2.0.0" {
		t.Errorf("Version = %q, want %q", got.Version, "2.0.0")
	}
	if len(store.List()) != 1 {
		t.Errorf("List: expected single entry after replace, got %d", len(store.List()))
	}
}

func TestStoreDelete(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nodes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	addr := "10.0.0.3:9001"
	if err := store.Upsert(Entry{Addr: addr, PublicKey: []byte("a"), Version: "1.0.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Delete(addr); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.Get(addr); ok {
		t.Errorf("Get: expected entry gone after Delete")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Upsert(Entry{Addr: "10.0.0.4:9001", PublicKey: []byte("a"), Version: "1.0.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, ok := reopened.Get("10.0.0.4:9001"); !ok {
		t.Errorf("expected entry to survive reopen")
	}
}
