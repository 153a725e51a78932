package node

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/negyio/negy/internal/poolclient"
)

// DefaultRegisterBackoff is how long Register waits between failed
// registration attempts.
const DefaultRegisterBackoff = 5 * time.Second

// Register announces this relay's port, public key, and version to the
// node pool via POST /add, retrying on a fixed backoff until the pool
// accepts it or ctx is cancelled. It is carried even though the distilled
// spec marks RSA keypair generation and directory registration as outside
// the onion protocol's own correctness concerns -- a runnable relay binary
// still has to join a running pool somehow.
func Register(ctx context.Context, client *poolclient.Client, priv *rsa.PrivateKey, port uint16, version string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	pubPEM, err := marshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("node.Register: %w", err)
	}

	for {
		err := client.Add(ctx, port, pubPEM, version)
		if err == nil {
			logger.Info("registered with node pool", "port", port, "version", version)
			return nil
		}

		logger.Warn("registration attempt failed, retrying", "error", err, "backoff", DefaultRegisterBackoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("node.Register: %w", ctx.Err())
		case <-time.After(DefaultRegisterBackoff):
		}
	}
}
