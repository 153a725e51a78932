package node

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"net"

	"github.com/negyio/negy/internal/wire"
)

// Serve accepts connections from ln until ctx is cancelled or ln is closed,
// running each through the Init -> Accepted -> {Tunnelling | ContextServed}
// state machine on its own goroutine. A per-connection error is logged and
// terminates that connection only; the accept loop itself never stops on a
// connection's account.
func Serve(ctx context.Context, ln net.Listener, priv *rsa.PrivateKey, version string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		go handleConn(conn, priv, version, logger)
	}
}

func handleConn(conn net.Conn, priv *rsa.PrivateKey, version string, logger *slog.Logger) {
	connLogger := logger.With("remote_addr", conn.RemoteAddr().String())

	init, err := New(conn, priv, version, connLogger)
	if err != nil {
		connLogger.Warn("init failed", "error", err)
		_ = conn.Close()
		return
	}

	accepted, err := init.Accept()
	if err != nil {
		connLogger.Debug("accept failed", "error", err)
		_ = conn.Close()
		return
	}

	switch accepted.Tag() {
	case wire.TagContext:
		if _, err := accepted.ServeContext(); err != nil {
			connLogger.Warn("serve context failed", "error", err)
		}
	default:
		tunnelling, err := accepted.Handshake()
		if err != nil {
			connLogger.Warn("handshake failed", "error", err)
			_ = conn.Close()
			return
		}
		if err := tunnelling.Tunnel(connLogger); err != nil {
			connLogger.Debug("tunnel ended", "error", err)
		}
	}
}
