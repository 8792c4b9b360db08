// Package coord implements the squashed-left Cartesian coordinate system
// used to address nodes in the tree. It is a pure function module with no
// state: every operation is a deterministic transform of (x, y).
package coord

import (
	"encoding/binary"

	"dapol/internal/dapolerr"
)

// C addresses a single node. Bottom layer is y=0; the root is at
// (0, height-1). x ranges over [0, 2^(height-1-y)-1].
type C struct {
	X uint64
	Y uint8
}

// New constructs a coordinate. Callers are responsible for keeping x within
// the bounds implied by y and the tree height; this package does not know
// the height.
func New(x uint64, y uint8) C {
	return C{X: x, Y: y}
}

// Root is the coordinate of the tree root for a tree of the given height.
func Root(height uint8) C {
	dapolerr.Invariant(height >= 1, "height must be >= 1, got %d", height)
	return C{X: 0, Y: height - 1}
}

// LeafWidth is the number of bottom-layer positions, 2^(height-1).
func LeafWidth(height uint8) uint64 {
	dapolerr.Invariant(height >= 1 && height <= 64, "height out of range: %d", height)
	return uint64(1) << (height - 1)
}

// Parent returns the coordinate of c's parent.
func (c C) Parent() C {
	return C{X: c.X >> 1, Y: c.Y + 1}
}

// IsLeftChild reports whether c is the left child of its parent.
func (c C) IsLeftChild() bool {
	return c.X&1 == 0
}

// IsRoot reports whether c is the root of a tree with the given height.
func (c C) IsRoot(height uint8) bool {
	return c.Y == height-1
}

// Sibling returns the coordinate sharing c's parent.
func (c C) Sibling() C {
	if c.IsLeftChild() {
		return C{X: c.X + 1, Y: c.Y}
	}
	return C{X: c.X - 1, Y: c.Y}
}

// Children returns the two coordinates that combine into c. c.Y must be >= 1.
func (c C) Children() (left, right C) {
	dapolerr.Invariant(c.Y >= 1, "Children called on leaf coordinate %v", c)
	y := c.Y - 1
	return C{X: c.X * 2, Y: y}, C{X: c.X*2 + 1, Y: y}
}

// PathToRoot returns the sequence of coordinates from c (exclusive) up to
// and including the root of a tree of the given height, i.e. the ancestors
// of c in bottom-up order.
func PathToRoot(c C, height uint8) []C {
	out := make([]C, 0, int(height)-int(c.Y)-1)
	for !c.IsRoot(height) {
		c = c.Parent()
		out = append(out, c)
	}
	return out
}

// Encode serializes c as 9 bytes: little-endian x, then y. This encoding
// feeds the HKDF info parameter for padding derivation and is part of the
// protocol; it must not change without a format bump.
func Encode(c C) []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint64(b[:8], c.X)
	b[8] = c.Y
	return b
}

// Bit returns bit number level of x (level 0 is the least significant
// bit). For a leaf x-coordinate, bit level tells which branch the path
// to the root takes at layer level: 0 for left, 1 for right.
func Bit(x uint64, level uint8) uint64 {
	return (x >> level) & 1
}
