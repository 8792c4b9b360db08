package tree

import (
	"sort"
	"sync"

	"dapol/internal/coord"
	"dapol/internal/dapolerr"
	"dapol/internal/nodecontent"
)

// spawnThreshold is the subtree size, in leaves, at or above which the
// builder spawns a goroutine for one side of a split instead of recursing
// inline. Chosen so per-task overhead is dominated by useful work at
// roughly 1000 combines.
const spawnThreshold = 1024

// builder recursively combines occupied bottom-layer leaves (plus
// deterministic padding for everything else) into interior nodes, storing
// each combine result in store according to its policy.
type builder struct {
	height       uint8
	masterSecret []byte
	saltCom      []byte
	saltHash     []byte
	leaves       map[uint64]*nodecontent.Content
	store        *Store // nil during anchored rebuilds, which don't write through

	sem chan struct{}
}

func newBuilder(height uint8, masterSecret, saltCom, saltHash []byte, leaves map[uint64]*nodecontent.Content, store *Store, maxThreads int) *builder {
	if maxThreads < 1 {
		maxThreads = 1
	}
	return &builder{
		height:       height,
		masterSecret: masterSecret,
		saltCom:      saltCom,
		saltHash:     saltHash,
		leaves:       leaves,
		store:        store,
		sem:          make(chan struct{}, maxThreads-1),
	}
}

// build recurses from coordinate c, given the sorted list of occupied
// bottom-layer x-coordinates that fall within c's range.
func (b *builder) build(c coord.C, xs []uint64) (*nodecontent.Content, error) {
	if len(xs) == 0 {
		return nodecontent.NewPadding(b.masterSecret, c, b.saltCom, b.saltHash), nil
	}

	if c.Y == 0 {
		dapolerr.Invariant(len(xs) == 1 && xs[0] == c.X, "leaf build mismatch at x=%d y=%d", c.X, c.Y)
		leaf, ok := b.leaves[c.X]
		dapolerr.Invariant(ok, "missing leaf content for occupied x=%d", c.X)
		return leaf, nil
	}

	left, right := c.Children()
	mid := right.X << right.Y
	splitIdx := sort.Search(len(xs), func(i int) bool { return xs[i] >= mid })
	leftXs, rightXs := xs[:splitIdx], xs[splitIdx:]

	leftContent, rightContent, err := b.buildChildren(left, leftXs, right, rightXs)
	if err != nil {
		return nil, err
	}

	parent, err := nodecontent.Combine(leftContent, rightContent)
	if err != nil {
		return nil, err
	}

	if b.store != nil {
		b.store.maybeStore(c, parent)
	}

	return parent, nil
}

// buildChildren computes both children, running the left branch on a
// worker goroutine when the combined subtree is large enough and a thread
// slot is available; otherwise both run inline on the calling goroutine.
func (b *builder) buildChildren(left coord.C, leftXs []uint64, right coord.C, rightXs []uint64) (*nodecontent.Content, *nodecontent.Content, error) {
	totalWork := len(leftXs) + len(rightXs)
	if totalWork < spawnThreshold || !b.acquire() {
		leftContent, err := b.build(left, leftXs)
		if err != nil {
			return nil, nil, err
		}
		rightContent, err := b.build(right, rightXs)
		if err != nil {
			return nil, nil, err
		}
		return leftContent, rightContent, nil
	}
	defer b.release()

	var wg sync.WaitGroup
	var leftContent *nodecontent.Content
	var leftErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		leftContent, leftErr = b.build(left, leftXs)
	}()

	rightContent, rightErr := b.build(right, rightXs)
	wg.Wait()

	if leftErr != nil {
		return nil, nil, leftErr
	}
	if rightErr != nil {
		return nil, nil, rightErr
	}

	return leftContent, rightContent, nil
}

func (b *builder) acquire() bool {
	select {
	case b.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *builder) release() {
	<-b.sem
}

// xsInRange returns the contiguous slice of sorted whose values fall in [lo, hi).
func xsInRange(sorted []uint64, lo, hi uint64) []uint64 {
	start := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= lo })
	end := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= hi })
	return sorted[start:end]
}
