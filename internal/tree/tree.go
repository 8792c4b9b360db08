package tree

import (
	"sort"

	"dapol/internal/coord"
	"dapol/internal/logger"
	"dapol/internal/nodecontent"
)

// Result is the outcome of a successful build: the root content and the
// store backing on-demand proof generation.
type Result struct {
	Root  *nodecontent.Content
	Store *Store
}

// Build runs the parallel bottom-up build (C6) over the given occupied
// leaves and returns the root content plus the selective store (C7)
// backing later proof generation. leaves maps bottom-layer x-coordinate to
// the already-derived leaf content for every occupied position.
func Build(height, storeDepth uint8, masterSecret, saltCom, saltHash []byte, leaves map[uint64]*nodecontent.Content, maxThreads MaxThreadCount) (*Result, error) {
	width := coord.LeafWidth(height)
	checkSparsity(len(leaves), width)

	sorted := make([]uint64, 0, len(leaves))
	for x := range leaves {
		sorted = append(sorted, x)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	threads := maxThreads.Resolve()
	store := newStore(height, storeDepth, masterSecret, saltCom, saltHash, leaves, sorted, threads, EstimateStoreSize(len(leaves), height))

	b := newBuilder(height, masterSecret, saltCom, saltHash, leaves, store, threads)

	logger.Info("building tree", "height", height, "entities", len(leaves), "store_depth", storeDepth, "max_threads", threads)

	root := coord.Root(height)
	rootContent, err := b.build(root, sorted)
	if err != nil {
		return nil, err
	}

	store.mu.Lock()
	store.nodes[root] = rootContent
	store.mu.Unlock()

	logger.Info("tree built", "height", height, "entities", len(leaves))

	return &Result{Root: rootContent, Store: store}, nil
}
