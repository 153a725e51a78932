package directory

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/negyio/negy/internal/negyerr"
	"github.com/negyio/negy/internal/wire"
)

// ProbeTimeout bounds how long a context probe may take end to end.
const ProbeTimeout = 5 * time.Second

// probeResult is what a successful node-context probe recovers from a
// relay: its advertised public key (PEM) and version string.
type probeResult struct {
	PublicKey []byte
	Version   string
}

// probeNode dials addr, sends the directory healthcheck tag (0x02), and
// reads back the NUL-delimited "PEM || 0x00 || version" reply. It never
// uses TLS -- the teacher's own directory probes are plaintext TCP against
// relays that have no certificate of their own, since the RSA handshake key
// itself is what a client trusts.
func probeNode(addr string) (*probeResult, error) {
	conn, err := net.DialTimeout("tcp", addr, ProbeTimeout)
	if err != nil {
		return nil, negyerr.IO("directory.probeNode", fmt.Errorf("dial %s: %w", addr, err))
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ProbeTimeout))

	if _, err := conn.Write([]byte{byte(wire.TagContext)}); err != nil {
		return nil, negyerr.IO("directory.probeNode", fmt.Errorf("write probe tag: %w", err))
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if bytes.IndexByte(buf, 0x00) >= 0 {
				break
			}
		}
		if err != nil {
			return nil, negyerr.Protocol("directory.probeNode", fmt.Errorf("read context reply: %w", err))
		}
	}

	idx := bytes.IndexByte(buf, 0x00)
	if idx < 0 {
		return nil, negyerr.Protocol("directory.probeNode", fmt.Errorf("context reply missing separator"))
	}

	return &probeResult{
		PublicKey: append([]byte{}, buf[:idx]...),
		Version:   string(buf[idx+1:]),
	}, nil
}

// verifyClaim probes addr and requires the relay's own report of its public
// key and version to match claimedPubKeyPEM/claimedVersion exactly,
// preventing an /add (or re-probed healthcheck) caller from registering an
// address it doesn't control, or under a version it isn't actually running.
func verifyClaim(addr string, claimedPubKeyPEM []byte, claimedVersion string) (*probeResult, error) {
	result, err := probeNode(addr)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(bytes.TrimSpace(result.PublicKey), bytes.TrimSpace(claimedPubKeyPEM)) {
		return nil, negyerr.Directory("directory.verifyClaim", negyerr.ErrPubKeyMismatch)
	}
	if result.Version != claimedVersion {
		return nil, negyerr.Directory("directory.verifyClaim", negyerr.ErrVersionMismatch)
	}
	return result, nil
}
