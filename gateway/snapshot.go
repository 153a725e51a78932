// Package gateway implements the client-facing HTTP CONNECT proxy: it picks
// a relay chain from the node pool's current snapshot, builds the nested
// RSA handshake packet, and relays the tunnelled bytes end to end.
package gateway

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"

	"github.com/negyio/negy/internal/dirapi"
	"github.com/negyio/negy/internal/poolclient"
)

// DefaultRefreshInterval is how often the gateway re-fetches the node pool's
// relay list.
const DefaultRefreshInterval = 30 * time.Second

// relayInfo is one directory entry resolved to a usable RSA public key.
type relayInfo struct {
	Addr    string
	PubKey  []byte // PEM, kept for re-parsing into *rsa.PublicKey lazily per use
	Version string
}

// Snapshot is an immutable view of the current relay set, already filtered
// by the configured minimum version.
type Snapshot struct {
	Relays []relayInfo
}

// SnapshotSource holds the gateway's current directory snapshot behind an
// atomic pointer so concurrent FetchNodes calls never block on the
// background refresh, and a refresh in progress never observes a half
// written snapshot.
type SnapshotSource struct {
	client     *poolclient.Client
	minVersion string
	current    atomic.Pointer[Snapshot]
	logger     *slog.Logger
}

// NewSnapshotSource builds a source against endpoint, requiring relays to
// advertise at least minVersion (compared as semver, not byte order -- see
// the design notes on the directory's original naive comparison).
func NewSnapshotSource(endpoint, minVersion string, logger *slog.Logger) *SnapshotSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotSource{
		client:     poolclient.New(endpoint),
		minVersion: minVersion,
		logger:     logger,
	}
}

// Current returns the most recently fetched snapshot, or nil if none has
// ever been fetched successfully.
func (s *SnapshotSource) Current() *Snapshot {
	return s.current.Load()
}

// RefreshOnce fetches the node pool's current list, filters it by minimum
// version, and swaps it in as the current snapshot. A failure leaves the
// previous snapshot in place and returns the error for the caller to log.
func (s *SnapshotSource) RefreshOnce(ctx context.Context) error {
	nodes, err := s.client.List(ctx)
	if err != nil {
		return fmt.Errorf("gateway.RefreshOnce: %w", err)
	}

	filtered := filterByMinVersion(nodes, s.minVersion)
	relays := make([]relayInfo, 0, len(filtered))
	for _, n := range filtered {
		pubPEM, err := decodeNodePubKey(n.PublicKey)
		if err != nil {
			s.logger.Warn("skipping relay with malformed public key", "addr", n.Addr, "error", err)
			continue
		}
		relays = append(relays, relayInfo{Addr: n.Addr, PubKey: pubPEM, Version: n.Version})
	}

	s.current.Store(&Snapshot{Relays: relays})
	return nil
}

// RunRefreshLoop refreshes on interval until ctx is cancelled. It runs an
// initial RefreshOnce synchronously so the gateway has a usable snapshot as
// soon as this returns, then continues in the background.
func (s *SnapshotSource) RunRefreshLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if err := s.RefreshOnce(ctx); err != nil {
		return fmt.Errorf("gateway.RunRefreshLoop: initial fetch: %w", err)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RefreshOnce(ctx); err != nil {
					s.logger.Warn("directory refresh failed, keeping previous snapshot", "error", err)
				}
			}
		}
	}()
	return nil
}

// filterByMinVersion keeps only entries whose version is >= minVersion under
// semantic-version ordering. The distilled behaviour this corrects compared
// version strings byte-by-byte, which misorders e.g. "0.9.0" ahead of
// "0.10.0"; golang.org/x/mod/semver compares numeric components properly.
// If minVersion is not valid semver, nodes is returned unfiltered; entries
// whose own version is not valid semver are always dropped otherwise.
func filterByMinVersion(nodes []dirapi.NodeEntry, minVersion string) []dirapi.NodeEntry {
	min := "v" + minVersion
	if !semver.IsValid(min) {
		return nodes
	}
	out := make([]dirapi.NodeEntry, 0, len(nodes))
	for _, n := range nodes {
		v := "v" + n.Version
		if !semver.IsValid(v) {
			continue
		}
		if semver.Compare(v, min) >= 0 {
			out = append(out, n)
		}
	}
	return out
}

func decodeNodePubKey(b64PEM string) ([]byte, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(b64PEM)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if _, err := x509.ParsePKCS1PublicKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}
	return pemBytes, nil
}
