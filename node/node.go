// Package node implements the relay's per-connection state machine:
// Init -> Accepted -> {Tunnelling | ContextServed}. Each phase is a
// distinct type exposing only the transitions valid from that phase.
package node

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/negyio/negy/internal/cryptutil"
	"github.com/negyio/negy/internal/negyerr"
	"github.com/negyio/negy/internal/wire"
)

// successorDrainWindow bounds how long Accept waits, after reading the
// fixed-size handshake header, for any successor bytes the gateway already
// wrote in the same flight. The window restarts after every read that
// returns data; once a full window passes with nothing arriving, the
// successor is taken as complete. Handshake forwards only the bytes drained
// this way: anything that arrives after that silence is not forwarded as
// part of the successor.
const successorDrainWindow = 150 * time.Millisecond

// NodeInit is a freshly-accepted TCP connection that has not yet been
// classified by its protocol tag.
type NodeInit struct {
	conn    net.Conn
	priv    *rsa.PrivateKey
	pubPEM  []byte
	version string
	logger  *slog.Logger
}

// New wraps an accepted connection in the Init phase.
func New(conn net.Conn, priv *rsa.PrivateKey, version string, logger *slog.Logger) (*NodeInit, error) {
	pubPEM, err := marshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeInit{conn: conn, priv: priv, pubPEM: pubPEM, version: version, logger: logger}, nil
}

func marshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der := x509.MarshalPKCS1PublicKey(pub)
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}

// NodeAccepted is a connection whose leading protocol tag has been parsed
// but not yet acted on.
type NodeAccepted struct {
	conn    net.Conn
	priv    *rsa.PrivateKey
	pubPEM  []byte
	version string
	logger  *slog.Logger

	tag     wire.Tag
	payload []byte // everything read past the tag byte so far
}

// Tag reports which protocol tag this connection presented.
func (a *NodeAccepted) Tag() wire.Tag { return a.tag }

// Accept reads the inbound connection until the leading protocol tag is
// known and, for a tunnel handshake, until the fixed-size handshake header
// is fully buffered.
func (n *NodeInit) Accept() (*NodeAccepted, error) {
	tagBuf := make([]byte, 1)
	if _, err := io.ReadFull(n.conn, tagBuf); err != nil {
		return nil, negyerr.IO("node.Accept", err)
	}
	tag, err := wire.ParseTag(tagBuf)
	if err != nil {
		return nil, err
	}

	accepted := &NodeAccepted{
		conn:    n.conn,
		priv:    n.priv,
		pubPEM:  n.pubPEM,
		version: n.version,
		logger:  n.logger,
		tag:     tag,
	}

	if tag == wire.TagContext {
		return accepted, nil
	}

	k := cryptutil.ModulusSize(&n.priv.PublicKey)
	headerLen := 3 * k
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(n.conn, header); err != nil {
		return nil, negyerr.IO("node.Accept", fmt.Errorf("reading handshake header: %w", err))
	}
	accepted.payload = header
	accepted.payload = append(accepted.payload, drainPending(n.conn)...)
	return accepted, nil
}

// drainPending reads whatever successor bytes the gateway wrote immediately
// after this relay's own handshake header. A short Read is not a signal
// that the successor is complete -- the gateway's single Write can arrive
// split across several TCP segments -- so the deadline is reset after every
// byte received, sliding forward as long as data keeps coming. Only once no
// further bytes arrive for a full successorDrainWindow (or the connection
// errors) is the successor considered fully buffered; for the last hop,
// where there is no successor at all, this simply waits out one window.
func drainPending(conn net.Conn) []byte {
	defer conn.SetReadDeadline(time.Time{})

	var out []byte
	buf := make([]byte, 4096)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(successorDrainWindow))
		n, err := conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return out
}
