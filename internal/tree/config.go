// Package tree implements the parallel bottom-up tree builder (C6) and the
// selective node store (C7): a concurrent coordinate-keyed map with a
// store-depth policy that decides which interior nodes get materialized,
// and a lazy rebuild path for everything else.
package tree

import (
	"math"
	"runtime"

	"dapol/internal/dapolerr"
	"dapol/internal/logger"
)

// Height is a validated tree height, in [2, 64].
type Height uint8

// NewHeight validates h against the range the protocol allows.
func NewHeight(h uint8) (Height, error) {
	if h < 2 || h > 64 {
		return 0, dapolerr.Wrap(dapolerr.ErrInvalidConfig, "height %d out of range [2,64]", h)
	}
	return Height(h), nil
}

// MaxThreadCount bounds the number of worker goroutines the builder may
// run concurrently. Zero means "use available parallelism".
type MaxThreadCount uint16

// Resolve returns the effective thread count, defaulting to
// runtime.GOMAXPROCS(0) when unset.
func (m MaxThreadCount) Resolve() int {
	if m == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return int(m)
}

// MinRecommendedSparsity is the smallest capacity/entity-count ratio the
// builder considers healthy before warning that the tree is too dense.
const MinRecommendedSparsity = 2.0

// checkSparsity logs a warning when the tree capacity is not comfortably
// larger than the entity count.
func checkSparsity(numEntities int, width uint64) {
	if numEntities == 0 {
		return
	}
	ratio := float64(width) / float64(numEntities)
	if ratio < MinRecommendedSparsity {
		logger.Warn("tree capacity close to entity count", "ratio", ratio, "min_recommended", MinRecommendedSparsity)
	}
}

// EstimateStoreSize returns the closed-form bound on the number of nodes a
// full store-depth build materializes: 2n(h - log2(n)). Callers can use it
// to size a node-store map's initial capacity up front.
func EstimateStoreSize(numEntities int, height uint8) int {
	if numEntities <= 0 {
		return 1
	}
	logn := math.Log2(float64(numEntities))
	est := 2.0 * float64(numEntities) * (float64(height) - logn)
	if est < 1 {
		return 1
	}
	return int(est)
}
