// Package ndmsmt implements NDM-SMT position assignment (C5): shuffling
// entities into random, unique bottom-layer x-coordinates using a
// hashmap-optimized Durstenfeld variant that runs in O(n) time and memory
// regardless of how large the leaf width is.
package ndmsmt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"math/big"
	"sort"

	"github.com/zeebo/blake3"

	"dapol/internal/dapolerr"
	"dapol/internal/nodecontent"
)

// Shuffle draws successive positions from [0, width) without replacement,
// using a sparse map in place of a full-width array. Positions must be
// requested in order i = 0, 1, 2, ... len(entities)-1.
type Shuffle struct {
	width uint64
	m     map[uint64]uint64
	rng   io.Reader
}

// NewShuffle creates a shuffle over [0, width). rng defaults to
// crypto/rand.Reader; a caller-supplied deterministic reader is accepted
// for reproducible test runs.
func NewShuffle(width uint64, rng io.Reader) *Shuffle {
	if rng == nil {
		rng = rand.Reader
	}
	return &Shuffle{width: width, m: make(map[uint64]uint64), rng: rng}
}

// get returns what currently sits at slot k: the mapped value if k has
// been touched before, else k itself.
func (s *Shuffle) get(k uint64) uint64 {
	if v, ok := s.m[k]; ok {
		return v
	}
	return k
}

// Next draws the x-coordinate assigned to the i-th entity offered to the
// shuffle. Both endpoints of the underlying swap are fetched through the
// map, which is the detail the published algorithm gets wrong.
func (s *Shuffle) Next(i uint64) (uint64, error) {
	if i >= s.width {
		return 0, dapolerr.Wrap(dapolerr.ErrTooManyEntities, "position %d exceeds width %d", i, s.width)
	}

	j, err := randRange(s.rng, i, s.width)
	if err != nil {
		return 0, err
	}

	x := s.get(j)
	s.m[j] = s.get(i)
	return x, nil
}

// randRange draws a uniform random value in [lo, hi).
func randRange(r io.Reader, lo, hi uint64) (uint64, error) {
	span := hi - lo
	if span == 0 {
		return lo, nil
	}
	n, err := rand.Int(r, new(big.Int).SetUint64(span))
	if err != nil {
		return 0, err
	}
	return lo + n.Uint64(), nil
}

// SeededReader is a deterministic counter-mode stream built from a 32-byte
// seed, standing in for crypto/rand.Reader when the caller wants a
// reproducible shuffle (spec's "deterministic test mode" override of
// thread_rng). Block i of the stream is blake3("ndmsmt-seed" || seed ||
// le64(i)), so the output never repeats within any realistic draw count.
type SeededReader struct {
	seed    [32]byte
	counter uint64
	buf     []byte
}

// NewSeededReader builds a SeededReader over seed.
func NewSeededReader(seed [32]byte) *SeededReader {
	return &SeededReader{seed: seed}
}

func (r *SeededReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.buf) == 0 {
			var counterBytes [8]byte
			binary.LittleEndian.PutUint64(counterBytes[:], r.counter)
			r.counter++

			h := blake3.New()
			h.Write([]byte("ndmsmt-seed"))
			h.Write(r.seed[:])
			h.Write(counterBytes[:])
			r.buf = h.Sum(nil)
		}
		k := copy(p[n:], r.buf)
		r.buf = r.buf[k:]
		n += k
	}
	return n, nil
}

// CheckDuplicates returns DuplicateEntityID if any two entities share an id.
func CheckDuplicates(entities []nodecontent.Entity) error {
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		key := string(e.ID.Bytes())
		if _, ok := seen[key]; ok {
			return dapolerr.Wrap(dapolerr.ErrDuplicateEntityID, "duplicate entity id %q", e.ID.String())
		}
		seen[key] = struct{}{}
	}
	return nil
}

// AssignPositions shuffles a duplicate-free entity list into an injective
// id -> x map chosen uniformly among all injective maps into [0, width).
// The shuffle walks the entities in ascending id-byte order, so for a
// given rng the resulting map does not depend on the order in which the
// caller lists the same set.
func AssignPositions(entities []nodecontent.Entity, width uint64, rng io.Reader) (map[string]uint64, error) {
	if uint64(len(entities)) > width {
		return nil, dapolerr.Wrap(dapolerr.ErrTooManyEntities, "%d entities exceed capacity %d", len(entities), width)
	}

	ordered := make([]nodecontent.Entity, len(entities))
	copy(ordered, entities)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].ID.Bytes(), ordered[j].ID.Bytes()) < 0
	})

	sh := NewShuffle(width, rng)
	mapping := make(map[string]uint64, len(entities))

	for i, e := range ordered {
		x, err := sh.Next(uint64(i))
		if err != nil {
			return nil, err
		}
		mapping[string(e.ID.Bytes())] = x
	}

	return mapping, nil
}
