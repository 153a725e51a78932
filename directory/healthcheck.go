package directory

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHealthcheckInterval is how often the directory re-probes every
// entry it currently holds.
const DefaultHealthcheckInterval = 5 * time.Minute

// RunHealthcheckLoop re-probes every stored entry on interval until ctx is
// cancelled, evicting any entry whose relay no longer answers the context
// probe or whose reported key no longer matches what's on file.
func RunHealthcheckLoop(ctx context.Context, store *Store, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultHealthcheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthcheckOnce(store, logger)
		}
	}
}

func healthcheckOnce(store *Store, logger *slog.Logger) {
	for _, e := range store.List() {
		if _, err := verifyClaim(e.Addr, e.PublicKey, e.Version); err != nil {
			logger.Info("evicting unresponsive relay", "addr", e.Addr, "error", err)
			if err := store.Delete(e.Addr); err != nil {
				logger.Error("evict failed", "addr", e.Addr, "error", err)
			}
			continue
		}
	}
}
