package gateway

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/negyio/negy/internal/cryptutil"
	"github.com/negyio/negy/internal/negyerr"
	"github.com/negyio/negy/internal/selection"
	"github.com/negyio/negy/internal/wire"
)

// relayHop is one selected relay together with the fresh per-tunnel key
// material minted for it.
type relayHop struct {
	Addr       string
	PubKey     *rsa.PublicKey
	SessionKey cryptutil.SessionKey
	Delimiter  wire.Delimiter
}

// GatewayFetchNodes is the entry phase for a new client connection: it has
// a directory snapshot to pick a chain from but has not yet selected one.
type GatewayFetchNodes struct {
	snapshot *Snapshot
	hops     int
	logger   *slog.Logger
}

// NewFetchNodes begins the FetchNodes phase against snapshot, requiring
// hops relays per chain.
func NewFetchNodes(snapshot *Snapshot, hops int, logger *slog.Logger) *GatewayFetchNodes {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayFetchNodes{snapshot: snapshot, hops: hops, logger: logger}
}

// FetchNodes selects hops relays uniformly without replacement from the
// snapshot and mints fresh session key material for each, then moves to the
// Handshake phase.
func (g *GatewayFetchNodes) FetchNodes() (*GatewayHandshake, error) {
	if g.snapshot == nil || len(g.snapshot.Relays) == 0 {
		return nil, negyerr.Config("gateway.FetchNodes", fmt.Errorf("%w: directory snapshot is empty", negyerr.ErrTooFewRelays))
	}

	picked, err := selection.Choose(g.snapshot.Relays, g.hops)
	if err != nil {
		return nil, err
	}

	chain := make([]relayHop, len(picked))
	for i, r := range picked {
		pub, err := parseRelayPubKey(r.PubKey)
		if err != nil {
			return nil, negyerr.Crypto("gateway.FetchNodes", fmt.Errorf("relay %s: %w", r.Addr, err))
		}
		sessionKey, err := cryptutil.NewSessionKey()
		if err != nil {
			return nil, negyerr.Crypto("gateway.FetchNodes", err)
		}
		delimiter, err := wire.NewDelimiter()
		if err != nil {
			return nil, negyerr.Crypto("gateway.FetchNodes", err)
		}
		chain[i] = relayHop{
			Addr:       r.Addr,
			PubKey:     pub,
			SessionKey: sessionKey,
			Delimiter:  delimiter,
		}
	}

	return &GatewayHandshake{chain: chain, logger: g.logger}, nil
}

func parseRelayPubKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}
