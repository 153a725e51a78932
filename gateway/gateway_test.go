package gateway

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/negyio/negy/internal/dirapi"
	"github.com/negyio/negy/internal/negyerr"
)

func testRelayPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der := x509.MarshalPKCS1PublicKey(&priv.PublicKey)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der})
	return priv, pemBytes
}

func testSnapshot(t *testing.T, n int) *Snapshot {
	t.Helper()
	relays := make([]relayInfo, n)
	for i := 0; i < n; i++ {
		_, pubPEM := testRelayPEM(t)
		relays[i] = relayInfo{Addr: "127.0.0.1:0", PubKey: pubPEM, Version: "1.0.0"}
	}
	return &Snapshot{Relays: relays}
}

func TestFetchNodesSelectsDistinctHops(t *testing.T) {
	snap := testSnapshot(t, 5)
	fn := NewFetchNodes(snap, 3, nil)

	hs, err := fn.FetchNodes()
	if err != nil {
		t.Fatalf("FetchNodes: %v", err)
	}
	if len(hs.chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(hs.chain))
	}

	seen := make(map[string]bool)
	seenRelay := make(map[string]bool)
	for _, hop := range hs.chain {
		if hop.PubKey == nil {
			t.Fatalf("hop has nil public key")
		}
		relayKey := hop.PubKey.N.String()
		if seenRelay[relayKey] {
			t.Errorf("same relay selected for more than one hop")
		}
		seenRelay[relayKey] = true
		key := string(hop.Delimiter[:])
		if seen[key] {
			t.Errorf("duplicate delimiter across hops")
		}
		seen[key] = true
	}
}

func TestFetchNodesTooFewRelays(t *testing.T) {
	snap := testSnapshot(t, 2)
	fn := NewFetchNodes(snap, 3, nil)

	_, err := fn.FetchNodes()
	if !errors.Is(err, negyerr.ErrTooFewRelays) {
		t.Fatalf("err = %v, want ErrTooFewRelays", err)
	}
}

func TestFetchNodesEmptySnapshot(t *testing.T) {
	fn := NewFetchNodes(&Snapshot{}, 1, nil)
	if _, err := fn.FetchNodes(); err == nil {
		t.Fatalf("expected error for empty snapshot")
	}
}

func TestBuildHandshakePacketStructure(t *testing.T) {
	snap := testSnapshot(t, 2)
	fn := NewFetchNodes(snap, 2, nil)
	hs, err := fn.FetchNodes()
	if err != nil {
		t.Fatalf("FetchNodes: %v", err)
	}

	packet, err := buildHandshakePacket(hs.chain, "example.com:443")
	if err != nil {
		t.Fatalf("buildHandshakePacket: %v", err)
	}
	if len(packet) == 0 {
		t.Fatalf("empty packet")
	}
	if packet[0] != 0x01 {
		t.Errorf("leading tag = %#x, want 0x01", packet[0])
	}
}

func TestFilterByMinVersionOrdersNumerically(t *testing.T) {
	nodes := []dirapi.NodeEntry{
		{Addr: "a", Version: "0.9.0"},
		{Addr: "b", Version: "0.10.0"},
		{Addr: "c", Version: "1.2.0"},
	}

	filtered := filterByMinVersion(nodes, "0.10.0")

	addrs := make(map[string]bool)
	for _, n := range filtered {
		addrs[n.Addr] = true
	}
	if addrs["a"] {
		t.Errorf("0.9.0 should be filtered out by min version 0.10.0")
	}
	if !addrs["b"] || !addrs["c"] {
		t.Errorf("0.10.0 and 1.2.0 should both pass min version 0.10.0, got %v", filtered)
	}
}
