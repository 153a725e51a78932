package node

import (
	"bytes"
	"fmt"
	"net"

	"github.com/negyio/negy/internal/cryptutil"
	"github.com/negyio/negy/internal/negyerr"
	"github.com/negyio/negy/internal/wire"
)

// NodeContextServed is the terminal phase reached after answering a
// directory healthcheck / context probe.
type NodeContextServed struct{}

// ServeContext answers a tag 0x02 probe: the relay's PEM public key, a NUL
// separator, then its version string, in a single write. Valid only when
// Tag() == wire.TagContext.
func (a *NodeAccepted) ServeContext() (*NodeContextServed, error) {
	if a.tag != wire.TagContext {
		return nil, negyerr.Protocol("node.ServeContext", fmt.Errorf("called with tag %v, want context probe", a.tag))
	}
	reply := append(append([]byte{}, a.pubPEM...), 0x00)
	reply = append(reply, []byte(a.version)...)
	if _, err := a.conn.Write(reply); err != nil {
		return nil, negyerr.IO("node.ServeContext", err)
	}
	_ = a.conn.Close()
	return &NodeContextServed{}, nil
}

// NodeTunnelling is a relay connection that has completed the handshake and
// is ready for steady-state full-duplex relaying.
type NodeTunnelling struct {
	downstream net.Conn
	upstream   net.Conn
	cipher     *cryptutil.SessionCipher
	delimiter  []byte
}

// Handshake decrypts the three RSA-wrapped secrets, connects to the decoded
// destination, forwards any successor bytes and verifies the upstream's
// "OK" reply, then acknowledges the downstream. Valid only when
// Tag() == wire.TagTunnel.
func (a *NodeAccepted) Handshake() (*NodeTunnelling, error) {
	if a.tag != wire.TagTunnel {
		return nil, negyerr.Protocol("node.Handshake", fmt.Errorf("called with tag %v, want tunnel handshake", a.tag))
	}

	k := cryptutil.ModulusSize(&a.priv.PublicKey)
	if len(a.payload) < 3*k {
		return nil, negyerr.Protocol("node.Handshake", fmt.Errorf("handshake header too short: got %d, want at least %d", len(a.payload), 3*k))
	}

	delimCT := a.payload[0:k]
	destCT := a.payload[k : 2*k]
	keyIVCT := a.payload[2*k : 3*k]
	successor := a.payload[3*k:]

	delimiter, err := cryptutil.UnwrapRSA(a.priv, delimCT)
	if err != nil {
		return nil, fmt.Errorf("node.Handshake: decrypt delimiter: %w", err)
	}
	destPlain, err := cryptutil.UnwrapRSA(a.priv, destCT)
	if err != nil {
		return nil, fmt.Errorf("node.Handshake: decrypt destination: %w", err)
	}
	keyIVPlain, err := cryptutil.UnwrapRSA(a.priv, keyIVCT)
	if err != nil {
		return nil, fmt.Errorf("node.Handshake: decrypt session key: %w", err)
	}

	dest := decodeDestination(destPlain)
	sessionKey, err := cryptutil.SessionKeyFromBytes(keyIVPlain)
	if err != nil {
		return nil, fmt.Errorf("node.Handshake: %w", err)
	}

	upstream, err := net.Dial("tcp", dest)
	if err != nil {
		return nil, negyerr.IO("node.Handshake", fmt.Errorf("dial destination %s: %w", dest, err))
	}

	if len(successor) > 0 {
		if _, err := upstream.Write(successor); err != nil {
			_ = upstream.Close()
			return nil, negyerr.IO("node.Handshake", fmt.Errorf("forward successor: %w", err))
		}
		if err := requireOKReply(upstream); err != nil {
			_ = upstream.Close()
			return nil, err
		}
	}

	if _, err := a.conn.Write([]byte("OK")); err != nil {
		_ = upstream.Close()
		return nil, negyerr.IO("node.Handshake", fmt.Errorf("ack downstream: %w", err))
	}

	return &NodeTunnelling{
		downstream: a.conn,
		upstream:   upstream,
		cipher:     cryptutil.NewSessionCipher(sessionKey),
		delimiter:  delimiter,
	}, nil
}

// decodeDestination extracts the ASCII destination string, trimming at the
// first NUL byte if one is present (defensive; RSA/PKCS1 decryption already
// recovers the exact plaintext length, so a NUL should never appear inside
// a well-formed destination string).
func decodeDestination(plain []byte) string {
	if idx := bytes.IndexByte(plain, 0x00); idx >= 0 {
		return string(plain[:idx])
	}
	return string(plain)
}

// requireOKReply reads the upstream's handshake reply and requires it to be
// exactly the two bytes "OK".
func requireOKReply(conn net.Conn) error {
	buf := make([]byte, 3)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read upstream reply: %w", err)
	}
	return wire.CheckOKReply(buf[:n])
}
