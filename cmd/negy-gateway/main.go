// Command negy-gateway runs the gateway: it accepts local HTTP CONNECT
// requests, selects a relay chain from the node pool's current snapshot,
// drives the nested handshake, and relays the tunnelled bytes end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/negyio/negy/gateway"
	"github.com/negyio/negy/internal/logging"
	"github.com/negyio/negy/internal/negyerr"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("negy-gateway", flag.ContinueOnError)
	bind := fs.String("bind", "0.0.0.0", "address to bind the gateway's CONNECT listener on")
	port := fs.Int("port", 8800, "port to bind the gateway's CONNECT listener on")
	poolEndpoint := fs.String("node-pool-endpoint", "http://127.0.0.1:7000", "base URL of the node pool's HTTP API")
	hops := fs.Int("hops", 3, "number of relays per tunnel")
	minVersion := fs.String("min-version", "0.1.0", "minimum relay version to select, compared as semver")
	refreshInterval := fs.Duration("refresh-interval", gateway.DefaultRefreshInterval, "interval between directory snapshot refreshes")
	logFile := fs.String("log-file", "", "optional path for structured JSON logs in addition to stderr text logs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port <= 0 || *port > 65535 {
		return negyerr.Config("negy-gateway", fmt.Errorf("--port out of range: %d", *port))
	}
	if *hops < 1 {
		return negyerr.Config("negy-gateway", fmt.Errorf("--hops must be at least 1, got %d", *hops))
	}

	logger, logFileHandle, err := logging.New(logging.LevelFromEnv(), *logFile)
	if err != nil {
		return fmt.Errorf("negy-gateway: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots := gateway.NewSnapshotSource(*poolEndpoint, *minVersion, logger)
	if err := snapshots.RunRefreshLoop(ctx, *refreshInterval); err != nil {
		return fmt.Errorf("negy-gateway: initial directory fetch: %w", err)
	}

	addr := net.JoinHostPort(*bind, fmt.Sprintf("%d", *port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("negy-gateway: listen %s: %w", addr, err)
	}
	defer ln.Close()

	logger.Info("gateway listening", "addr", addr, "pool", *poolEndpoint, "hops", *hops)
	gateway.Serve(ctx, ln, snapshots, *hops, logger)
	return nil
}
