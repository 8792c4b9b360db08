package tree

import (
	"sort"
	"sync"

	"dapol/internal/coord"
	"dapol/internal/logger"
	"dapol/internal/nodecontent"
)

// Store is the concurrent coordinate-keyed map described by C7. Leaves
// that were an input to the build are always retained regardless of
// store-depth; interior nodes are retained only for the top storeDepth
// layers. A miss transparently triggers a minimal rebuild anchored on the
// known leaf inputs, which is idempotent and safe under concurrent Get
// calls via double-checked insert.
type Store struct {
	mu     sync.RWMutex
	nodes  map[coord.C]*nodecontent.Content
	leaves map[uint64]*nodecontent.Content
	sorted []uint64

	height       uint8
	storeDepth   uint8
	masterSecret []byte
	saltCom      []byte
	saltHash     []byte
	maxThreads   int
}

// newStore creates a store over the given occupied leaves. sorted must be
// the ascending-sorted keys of leaves.
func newStore(height, storeDepth uint8, masterSecret, saltCom, saltHash []byte, leaves map[uint64]*nodecontent.Content, sorted []uint64, maxThreads int, initialCap int) *Store {
	return &Store{
		nodes:        make(map[coord.C]*nodecontent.Content, initialCap),
		leaves:       leaves,
		sorted:       sorted,
		height:       height,
		storeDepth:   storeDepth,
		masterSecret: masterSecret,
		saltCom:      saltCom,
		saltHash:     saltHash,
		maxThreads:   maxThreads,
	}
}

// shouldStoreInterior reports whether an interior node at c should be
// persisted under the current store-depth policy.
func (s *Store) shouldStoreInterior(c coord.C) bool {
	if s.storeDepth == 0 {
		return c.Y == s.height-1
	}
	return c.Y >= s.height-s.storeDepth
}

// maybeStore records a freshly combined interior node if the store-depth
// policy retains its layer. Called only by the builder, which owns each
// coordinate exclusively during a single build, so this never races with
// itself; it can still race with a concurrent Get-triggered rebuild of an
// unrelated coordinate, which is why the map write is still guarded.
func (s *Store) maybeStore(c coord.C, content *nodecontent.Content) {
	if !s.shouldStoreInterior(c) {
		return
	}
	s.mu.Lock()
	s.nodes[c] = content
	s.mu.Unlock()
}

// Get returns the node content at c, always succeeding for a coordinate
// within the tree's bounds. Leaves are served directly from the retained
// leaf set (or deterministic padding); interior nodes are served from the
// store, rebuilding on a miss.
func (s *Store) Get(c coord.C) (*nodecontent.Content, error) {
	if c.Y == 0 {
		s.mu.RLock()
		leaf, ok := s.leaves[c.X]
		s.mu.RUnlock()
		if ok {
			return leaf, nil
		}
		return nodecontent.NewPadding(s.masterSecret, c, s.saltCom, s.saltHash), nil
	}

	s.mu.RLock()
	content, ok := s.nodes[c]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}

	logger.Debug("recomputing unstored node", "x", c.X, "y", c.Y)

	rebuilt, err := s.rebuild(c)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.nodes[c]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	if s.shouldStoreInterior(c) {
		s.nodes[c] = rebuilt
	}
	s.mu.Unlock()

	return rebuilt, nil
}

// rebuild recomputes the subtree rooted at c from the retained leaf set,
// without writing through to the store (the caller does that once, after
// the double-checked lookup).
func (s *Store) rebuild(c coord.C) (*nodecontent.Content, error) {
	lo := c.X << c.Y
	hi := (c.X + 1) << c.Y
	xs := xsInRange(s.sorted, lo, hi)

	b := newBuilder(s.height, s.masterSecret, s.saltCom, s.saltHash, s.leaves, nil, s.maxThreads)
	return b.build(c, xs)
}

// Entry is one persisted node record, pairing a coordinate with its full
// secret content, used by whole-tree serialization.
type Entry struct {
	Coord   coord.C
	Content *nodecontent.Content
}

// Entries returns a snapshot of every node Store currently holds: every
// occupied leaf, in ascending x order, followed by every retained interior
// node. Unoccupied leaves and unstored interior layers are never included;
// they are always cheap to re-derive from masterSecret and the salts.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.leaves)+len(s.nodes))
	for _, x := range s.sorted {
		out = append(out, Entry{Coord: coord.New(x, 0), Content: s.leaves[x]})
	}
	for c, content := range s.nodes {
		out = append(out, Entry{Coord: c, Content: content})
	}
	return out
}

// Restore rebuilds a Store from a previously serialized entry set, without
// recomputing anything: every entry comes back exactly as it was saved.
func Restore(height, storeDepth uint8, masterSecret, saltCom, saltHash []byte, entries []Entry, maxThreads MaxThreadCount) *Store {
	leaves := make(map[uint64]*nodecontent.Content)
	nodes := make(map[coord.C]*nodecontent.Content)
	sorted := make([]uint64, 0)

	for _, e := range entries {
		if e.Coord.Y == 0 {
			leaves[e.Coord.X] = e.Content
			sorted = append(sorted, e.Coord.X)
			continue
		}
		nodes[e.Coord] = e.Content
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Store{
		nodes:        nodes,
		leaves:       leaves,
		sorted:       sorted,
		height:       height,
		storeDepth:   storeDepth,
		masterSecret: masterSecret,
		saltCom:      saltCom,
		saltHash:     saltHash,
		maxThreads:   maxThreads.Resolve(),
	}
}
