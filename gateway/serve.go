package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"
)

// Serve accepts client connections from ln until ctx is cancelled or ln is
// closed, running each through FetchNodes -> Handshake -> Tunnel on its own
// goroutine. A per-connection error is logged and terminates that
// connection only.
func Serve(ctx context.Context, ln net.Listener, snapshots *SnapshotSource, hops int, logger *slog.Logger) {
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
		go handleConn(conn, snapshots, hops, logger)
	}
}

func handleConn(client net.Conn, snapshots *SnapshotSource, hops int, logger *slog.Logger) {
	tunnelID := uuid.NewString()
	connLogger := logger.With("tunnel_id", tunnelID, "remote_addr", client.RemoteAddr().String())

	fetchNodes := NewFetchNodes(snapshots.Current(), hops, connLogger)
	handshake, err := fetchNodes.FetchNodes()
	if err != nil {
		connLogger.Warn("fetch nodes failed", "error", err)
		_ = client.Close()
		return
	}

	tunnel, err := handshake.Handshake(client)
	if err != nil {
		connLogger.Warn("handshake failed", "error", err)
		_ = client.Close()
		return
	}

	if err := tunnel.Tunnel(connLogger); err != nil {
		connLogger.Debug("tunnel ended", "error", err)
	}
}
