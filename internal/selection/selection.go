// Package selection picks relays for a tunnel's chain. Unlike a weighted
// bandwidth-proportional path selection, this protocol picks uniformly
// without replacement among the current directory snapshot — but it keeps
// the crypto/rand-based, modulo-bias-free selection idiom used for weighted
// picks elsewhere in the style this repository is built from.
package selection

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/negyio/negy/internal/negyerr"
)

// Choose returns n elements of candidates, taken from n distinct positions
// chosen uniformly at random without replacement, preserving no particular order guarantee
// beyond "selected uniformly". It fails with a config error if n exceeds
// the number of candidates.
func Choose[T any](candidates []T, n int) ([]T, error) {
	if n > len(candidates) {
		return nil, negyerr.Config("selection.Choose", fmt.Errorf("%w: have %d, need %d", negyerr.ErrTooFewRelays, len(candidates), n))
	}
	if n <= 0 {
		return nil, nil
	}

	pool := make([]T, len(candidates))
	copy(pool, candidates)

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx, err := uniformIndex(len(pool))
		if err != nil {
			return nil, fmt.Errorf("selection.Choose: %w", err)
		}
		out = append(out, pool[idx])
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return out, nil
}

// uniformIndex returns a value in [0, n) chosen uniformly at random using
// crypto/rand, avoiding the modulo bias a naive "rand() % n" would
// introduce.
func uniformIndex(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("uniformIndex: n must be positive, got %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("crypto/rand: %w", err)
	}
	return int(v.Int64()), nil
}
