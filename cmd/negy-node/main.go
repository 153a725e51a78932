// Command negy-node runs a relay node: it terminates one hop of the onion
// tunnel, answers the directory's node-context probe, and registers itself
// with the configured node pool at startup.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/negyio/negy/internal/logging"
	"github.com/negyio/negy/internal/negyerr"
	"github.com/negyio/negy/internal/poolclient"
	"github.com/negyio/negy/node"
)

// Version is this relay's advertised version string, reported to the
// directory on registration and on every context probe.
const Version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("negy-node", flag.ContinueOnError)
	bind := fs.String("bind", "0.0.0.0", "address to bind the relay's TCP listener on")
	port := fs.Int("port", 9100, "port to bind the relay's TCP listener on")
	poolEndpoint := fs.String("node-pool-endpoint", "http://127.0.0.1:7000", "base URL of the node pool's HTTP API")
	logFile := fs.String("log-file", "", "optional path for structured JSON logs in addition to stderr text logs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port <= 0 || *port > 65535 {
		return negyerr.Config("negy-node", fmt.Errorf("--port out of range: %d", *port))
	}

	logger, logFileHandle, err := logging.New(logging.LevelFromEnv(), *logFile)
	if err != nil {
		return fmt.Errorf("negy-node: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("negy-node: generating RSA keypair: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(*bind, fmt.Sprintf("%d", *port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("negy-node: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		client := poolclient.New(*poolEndpoint)
		if err := node.Register(ctx, client, priv, uint16(*port), Version, logger); err != nil {
			logger.Warn("registration loop ended without success", "error", err)
		}
	}()

	logger.Info("relay listening", "addr", addr, "pool", *poolEndpoint)
	node.Serve(ctx, ln, priv, Version, logger)
	return nil
}
