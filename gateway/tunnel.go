package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/negyio/negy/internal/cryptutil"
	"github.com/negyio/negy/internal/wire"
)

// GatewayTunnel is a connection past the relay handshake, ready for
// full-duplex relaying between the client and the first relay.
type GatewayTunnel struct {
	chain      []relayHop
	client     net.Conn
	firstRelay net.Conn
}

// Tunnel runs the full-duplex steady state until either side closes. The
// two directions share one connection pair, so as soon as either one
// returns -- on EOF, a read error, or a write error -- both connections are
// closed to unblock whichever direction is still parked in a Read.
func (t *GatewayTunnel) Tunnel(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = t.client.Close()
			_ = t.firstRelay.Close()
		})
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := t.relayClientToFirstHop(logger)
		closeBoth()
		errs <- err
	}()
	go func() {
		defer wg.Done()
		err := t.relayFirstHopToClient(logger)
		closeBoth()
		errs <- err
	}()

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// relayClientToFirstHop encrypts client bytes with each hop's session key in
// reverse order (innermost hop first, so the outermost -- first relay's --
// layer ends up on the outside of the ciphertext), appending each hop's
// delimiter after its own layer.
func (t *GatewayTunnel) relayClientToFirstHop(logger *slog.Logger) error {
	ciphers := make([]*cryptutil.SessionCipher, len(t.chain))
	for i, hop := range t.chain {
		ciphers[i] = cryptutil.NewSessionCipher(hop.SessionKey)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := t.client.Read(buf)
		if n > 0 {
			data := append([]byte{}, buf[:n]...)
			for i := len(t.chain) - 1; i >= 0; i-- {
				ct, encErr := ciphers[i].Encrypt(data)
				if encErr != nil {
					return encErr
				}
				data = append(ct, t.chain[i].Delimiter[:]...)
			}
			if _, werr := t.firstRelay.Write(data); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Debug("client read error", "error", err)
			return nil
		}
	}
}

// relayFirstHopToClient peels one FrameReader/decrypt layer per hop in
// forward chain order (the first relay's framing is the outermost layer on
// this direction's wire, matching how it was produced at each relay in
// turn), writing the final plaintext to the client.
func (t *GatewayTunnel) relayFirstHopToClient(logger *slog.Logger) error {
	readers := make([]*wire.FrameReader, len(t.chain))
	ciphers := make([]*cryptutil.SessionCipher, len(t.chain))
	for i, hop := range t.chain {
		d := hop.Delimiter
		readers[i] = wire.NewFrameReader(d[:])
		ciphers[i] = cryptutil.NewSessionCipher(hop.SessionKey)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := t.firstRelay.Read(buf)
		if n > 0 {
			if werr := t.pumpThroughChain(buf[:n], readers, ciphers); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Debug("first relay read error", "error", err)
			return nil
		}
	}
}

// pumpThroughChain feeds newBytes into the first hop's FrameReader, and for
// every frame that FrameReader yields, decrypts it and feeds the result into
// the next hop's FrameReader, repeating until the chain is exhausted, then
// writes whatever plaintext frames finally emerge to the client.
func (t *GatewayTunnel) pumpThroughChain(newBytes []byte, readers []*wire.FrameReader, ciphers []*cryptutil.SessionCipher) error {
	pending := [][]byte{newBytes}
	for hop := 0; hop < len(readers); hop++ {
		var next [][]byte
		for _, chunk := range pending {
			for _, frame := range readers[hop].Feed(chunk) {
				plain, err := ciphers[hop].Decrypt(frame)
				if err != nil {
					return err
				}
				next = append(next, plain)
			}
		}
		pending = next
		if pending == nil {
			return nil
		}
	}

	for _, plain := range pending {
		if _, err := t.client.Write(plain); err != nil {
			return err
		}
	}
	return nil
}
