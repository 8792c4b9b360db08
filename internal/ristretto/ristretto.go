// Package ristretto wraps the Ristretto255 group operations and Pedersen
// commitment scheme used throughout the tree: point/scalar encoding,
// generator setup, and the commit/combine arithmetic on node content.
package ristretto

import (
	"encoding/binary"
	"sync"

	oasis "github.com/oasisprotocol/curve25519-voi/primitives/ristretto255"
	"golang.org/x/crypto/sha3"

	"dapol/internal/dapolerr"
)

// Point and Scalar are re-exported so callers don't need to import the
// underlying group package directly.
type Point = oasis.Point
type Scalar = oasis.Scalar

var (
	gensOnce sync.Once
	g1, g2   *oasis.Point
)

// Generators returns the two fixed Pedersen generators: g1 is the
// Ristretto255 basepoint, g2 is the Elligator hash of SHA3-512(g1's
// compressed encoding). The discrete-log relation between them is assumed
// unknown.
func Generators() (*oasis.Point, *oasis.Point) {
	gensOnce.Do(func() {
		g1 = oasis.NewGeneratorPoint()
		digest := sha3.Sum512(g1.Bytes())
		g2 = oasis.NewIdentityPoint()
		if _, err := g2.SetUniformBytes(digest[:]); err != nil {
			dapolerr.Invariant(false, "deriving g2 from basepoint: %v", err)
		}
	})
	return g1, g2
}

// ScalarFromUint64 encodes v as a canonical scalar.
func ScalarFromUint64(v uint64) *oasis.Scalar {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[:8], v)
	s := oasis.NewScalar()
	if _, err := s.SetCanonicalBytes(b[:]); err != nil {
		dapolerr.Invariant(false, "encoding u64 scalar: %v", err)
	}
	return s
}

// ScalarFromUniformBytes reduces 64 uniform bytes modulo the group order,
// per the scalar-reduction contract for turning HKDF output into scalars.
func ScalarFromUniformBytes(b [64]byte) *oasis.Scalar {
	s := oasis.NewScalar()
	if _, err := s.SetUniformBytes(b[:]); err != nil {
		dapolerr.Invariant(false, "reducing uniform bytes to scalar: %v", err)
	}
	return s
}

// ScalarOne returns the multiplicative identity scalar.
func ScalarOne() *oasis.Scalar {
	return ScalarFromUint64(1)
}

// IdentityPoint returns the group identity element.
func IdentityPoint() *oasis.Point {
	return oasis.NewIdentityPoint()
}

// AddScalars returns a+b mod the group order.
func AddScalars(a, b *oasis.Scalar) *oasis.Scalar {
	return oasis.NewScalar().Add(a, b)
}

// SubtractScalars returns a-b mod the group order.
func SubtractScalars(a, b *oasis.Scalar) *oasis.Scalar {
	return oasis.NewScalar().Subtract(a, b)
}

// MultiplyScalars returns a*b mod the group order.
func MultiplyScalars(a, b *oasis.Scalar) *oasis.Scalar {
	return oasis.NewScalar().Multiply(a, b)
}

// InvertScalar returns s^-1 mod the group order. s must be nonzero.
func InvertScalar(s *oasis.Scalar) *oasis.Scalar {
	return oasis.NewScalar().Invert(s)
}

// NegateScalar returns -s mod the group order.
func NegateScalar(s *oasis.Scalar) *oasis.Scalar {
	return oasis.NewScalar().Negate(s)
}

// AddPoints returns a+b.
func AddPoints(a, b *oasis.Point) *oasis.Point {
	return oasis.NewIdentityPoint().Add(a, b)
}

// SubtractPoints returns a-b.
func SubtractPoints(a, b *oasis.Point) *oasis.Point {
	return oasis.NewIdentityPoint().Subtract(a, b)
}

// NegatePoint returns -p.
func NegatePoint(p *oasis.Point) *oasis.Point {
	return oasis.NewIdentityPoint().Negate(p)
}

// ScalarMultPoint returns s*p.
func ScalarMultPoint(s *oasis.Scalar, p *oasis.Point) *oasis.Point {
	return oasis.NewIdentityPoint().ScalarMult(s, p)
}

// Commit computes the Pedersen commitment liability*g1 + blinding*g2.
func Commit(liability uint64, blinding *oasis.Scalar) *oasis.Point {
	gen1, gen2 := Generators()
	l := ScalarFromUint64(liability)
	term1 := oasis.NewIdentityPoint().ScalarMult(l, gen1)
	term2 := oasis.NewIdentityPoint().ScalarMult(blinding, gen2)
	return oasis.NewIdentityPoint().Add(term1, term2)
}

// CommitScalar computes the Pedersen commitment l*g1 + blinding*g2 for a
// liability already held as a scalar.
func CommitScalar(l, blinding *oasis.Scalar) *oasis.Point {
	gen1, gen2 := Generators()
	term1 := oasis.NewIdentityPoint().ScalarMult(l, gen1)
	term2 := oasis.NewIdentityPoint().ScalarMult(blinding, gen2)
	return oasis.NewIdentityPoint().Add(term1, term2)
}

// EncodePoint returns the 32-byte compressed encoding of p.
func EncodePoint(p *oasis.Point) [32]byte {
	var out [32]byte
	copy(out[:], p.Bytes())
	return out
}

// DecodePoint parses a 32-byte compressed Ristretto255 point.
func DecodePoint(b []byte) (*oasis.Point, error) {
	p := oasis.NewIdentityPoint()
	if _, err := p.SetCanonicalBytes(b); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeScalar returns the 32-byte little-endian canonical encoding of s.
func EncodeScalar(s *oasis.Scalar) [32]byte {
	var out [32]byte
	copy(out[:], s.Bytes())
	return out
}

// DecodeScalar parses a 32-byte canonical scalar.
func DecodeScalar(b []byte) (*oasis.Scalar, error) {
	s := oasis.NewScalar()
	if _, err := s.SetCanonicalBytes(b); err != nil {
		return nil, err
	}
	return s, nil
}

// PointsEqual reports whether a and b encode the same group element.
func PointsEqual(a, b *oasis.Point) bool {
	return a.Equal(b) == 1
}
