package node

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/negyio/negy/internal/wire"
)

// Tunnel runs the full-duplex steady-state relay until either side closes.
// Downstream -> upstream bytes are delimiter-framed and AES-decrypted one
// layer; upstream -> downstream bytes are AES-encrypted and delimiter-framed
// as a single new layer. Both directions run concurrently; EOF on either
// terminates the tunnel, a downstream read error is logged and treated like
// EOF, and a write error on either side is fatal to the tunnel. As soon as
// either direction returns, both connections are closed so the other
// direction's blocked Read unblocks instead of leaking the goroutine and
// both file descriptors.
func (t *NodeTunnelling) Tunnel(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = t.downstream.Close()
			_ = t.upstream.Close()
		})
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := t.relayDownstreamToUpstream(logger)
		closeBoth()
		errs <- err
	}()
	go func() {
		defer wg.Done()
		err := t.relayUpstreamToDownstream(logger)
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

func (t *NodeTunnelling) relayDownstreamToUpstream(logger *slog.Logger) error {
	fr := wire.NewFrameReader(t.delimiter)
	buf := make([]byte, 32*1024)
	for {
		n, err := t.downstream.Read(buf)
		if n > 0 {
			for _, frame := range fr.Feed(buf[:n]) {
				plain, decErr := t.cipher.Decrypt(frame)
				if decErr != nil {
					return decErr
				}
				if _, werr := t.upstream.Write(plain); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Debug("downstream read error", "error", err)
			return nil
		}
	}
}

func (t *NodeTunnelling) relayUpstreamToDownstream(logger *slog.Logger) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.upstream.Read(buf)
		if n > 0 {
			ct, encErr := t.cipher.Encrypt(buf[:n])
			if encErr != nil {
				return encErr
			}
			frame := append(ct, t.delimiter...)
			if _, werr := t.downstream.Write(frame); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Debug("upstream read error", "error", err)
			return nil
		}
	}
}
