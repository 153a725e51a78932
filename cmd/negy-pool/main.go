// Command negy-pool runs the node directory: the HTTP service that
// maintains the currently live relay set, admits new relays via a
// node-context probe, and periodically re-probes every entry it holds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/negyio/negy/directory"
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
	fs := flag.NewFlagSet("negy-pool", flag.ContinueOnError)
	bind := fs.String("bind", "0.0.0.0", "address to bind the directory HTTP server on")
	port := fs.Int("port", 7000, "port to bind the directory HTTP server on")
	dbPath := fs.String("db", "negy-pool.db", "sqlite file backing the directory's entries")
	healthcheckInterval := fs.Duration("healthcheck-interval", directory.DefaultHealthcheckInterval, "interval between re-probes of every stored entry")
	logFile := fs.String("log-file", "", "optional path for structured JSON logs in addition to stderr text logs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port <= 0 || *port > 65535 {
		return negyerr.Config("negy-pool", fmt.Errorf("--port out of range: %d", *port))
	}

	logger, logFileHandle, err := logging.New(logging.LevelFromEnv(), *logFile)
	if err != nil {
		return fmt.Errorf("negy-pool: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	store, err := directory.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("negy-pool: opening store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go directory.RunHealthcheckLoop(ctx, store, *healthcheckInterval, logger)

	addr := net.JoinHostPort(*bind, fmt.Sprintf("%d", *port))
	srv := directory.NewServer(store, logger)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("node pool listening", "addr", addr, "db", *dbPath)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("negy-pool: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("negy-pool: shutdown: %w", err)
		}
	}
	return nil
}
