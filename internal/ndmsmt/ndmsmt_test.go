package ndmsmt

import (
	"bytes"
	"testing"

	"dapol/internal/nodecontent"
)

func entity(t *testing.T, id string, liability uint64) nodecontent.Entity {
	t.Helper()
	eid, err := nodecontent.NewID([]byte(id))
	if err != nil {
		t.Fatalf("NewID(%q): %v", id, err)
	}
	return nodecontent.Entity{ID: eid, Liability: liability}
}

func TestShuffleProducesUniqueValues(t *testing.T) {
	const width = 1000
	sh := NewShuffle(width, deterministicRNG(1))

	seen := make(map[uint64]bool)
	for i := uint64(0); i < 200; i++ {
		x, err := sh.Next(i)
		if err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
		if x >= width {
			t.Fatalf("Next(%d) = %d, out of range [0,%d)", i, x, width)
		}
		if seen[x] {
			t.Fatalf("Next(%d) = %d, duplicate position", i, x)
		}
		seen[x] = true
	}
}

func TestShuffleRejectsOutOfRange(t *testing.T) {
	sh := NewShuffle(4, deterministicRNG(1))
	if _, err := sh.Next(4); err == nil {
		t.Fatal("Next(width) should fail")
	}
}

func TestCheckDuplicatesDetectsRepeat(t *testing.T) {
	entities := []nodecontent.Entity{
		entity(t, "alice", 1),
		entity(t, "bob", 2),
		entity(t, "alice", 3),
	}
	if err := CheckDuplicates(entities); err == nil {
		t.Fatal("CheckDuplicates should detect the repeated id")
	}
}

func TestCheckDuplicatesAcceptsUniqueSet(t *testing.T) {
	entities := []nodecontent.Entity{
		entity(t, "alice", 1),
		entity(t, "bob", 2),
	}
	if err := CheckDuplicates(entities); err != nil {
		t.Fatalf("CheckDuplicates: %v", err)
	}
}

func TestAssignPositionsInjective(t *testing.T) {
	entities := []nodecontent.Entity{
		entity(t, "alice", 1),
		entity(t, "bob", 2),
		entity(t, "carol", 3),
	}

	mapping, err := AssignPositions(entities, 16, deterministicRNG(7))
	if err != nil {
		t.Fatalf("AssignPositions: %v", err)
	}

	seen := make(map[uint64]bool)
	for _, e := range entities {
		x, ok := mapping[string(e.ID.Bytes())]
		if !ok {
			t.Fatalf("mapping missing entry for %s", e.ID.String())
		}
		if seen[x] {
			t.Fatalf("position %d assigned to more than one entity", x)
		}
		seen[x] = true
	}
}

func TestAssignPositionsRejectsTooManyEntities(t *testing.T) {
	entities := []nodecontent.Entity{
		entity(t, "a", 1),
		entity(t, "b", 1),
		entity(t, "c", 1),
	}
	if _, err := AssignPositions(entities, 2, deterministicRNG(1)); err == nil {
		t.Fatal("AssignPositions should reject a set larger than width")
	}
}

// TestShuffleChiSquareUniformity is the quantified shuffle-correctness
// property from the spec: for a small width and many samples, the
// empirical position distribution must be close to uniform.
func TestShuffleChiSquareUniformity(t *testing.T) {
	const width = 16
	const samples = 100000

	counts := make([]int, width)
	for s := 0; s < samples; s++ {
		sh := NewShuffle(width, deterministicRNG(int64(s)))
		x, err := sh.Next(0)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		counts[x]++
	}

	expected := float64(samples) / float64(width)
	chiSquare := 0.0
	for _, c := range counts {
		diff := float64(c) - expected
		chiSquare += diff * diff / expected
	}

	// 15 degrees of freedom; a generous bound well above the 99.9th
	// percentile (~37.7) catches a genuinely biased shuffle while
	// tolerating ordinary sampling noise.
	const bound = 60.0
	if chiSquare > bound {
		t.Errorf("chi-square statistic %.2f exceeds uniformity bound %.2f", chiSquare, bound)
	}
}

// deterministicRNG returns a reproducible byte stream so shuffle tests
// don't depend on crypto/rand, without introducing a test dependency on
// math/rand's global state.
func deterministicRNG(seed int64) *splitmixReader {
	return &splitmixReader{state: uint64(seed) + 0x9E3779B97F4A7C15}
}

type splitmixReader struct {
	state uint64
	buf   bytes.Buffer
}

func (r *splitmixReader) Read(p []byte) (int, error) {
	for r.buf.Len() < len(p) {
		r.state += 0x9E3779B97F4A7C15
		z := r.state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z = z ^ (z >> 31)
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(z >> (8 * i))
		}
		r.buf.Write(b[:])
	}
	return r.buf.Read(p)
}
