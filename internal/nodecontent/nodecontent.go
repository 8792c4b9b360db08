// Package nodecontent implements the leaf and padding node factory (C4)
// and the data model shared by the whole tree: entities, node content, and
// the deterministic combine rule that folds two children into a parent.
package nodecontent

import (
	"bytes"

	"github.com/zeebo/blake3"

	"dapol/internal/coord"
	"dapol/internal/dapolerr"
	"dapol/internal/kdf"
	"dapol/internal/ristretto"
)

// MaxIDLen is the largest entity id accepted, in bytes (512 bits).
const MaxIDLen = 64

// Domain separation tags for the three hash constructions. Part of the
// protocol; never change without a wire format bump.
const (
	domainLeaf = "leaf"
	domainPad  = "pad"
	domainNode = "node"
)

// ID is an opaque entity identifier, 1 to MaxIDLen bytes.
type ID struct {
	raw []byte
}

// NewID validates and copies b into an ID.
func NewID(b []byte) (ID, error) {
	if len(b) == 0 || len(b) > MaxIDLen {
		return ID{}, dapolerr.Wrap(dapolerr.ErrEntityIDTooLong, "entity id length %d (max %d)", len(b), MaxIDLen)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return ID{raw: cp}, nil
}

// Bytes returns the raw id bytes. Callers must not mutate the result.
func (id ID) Bytes() []byte { return id.raw }

// Equal reports whether two ids carry the same bytes.
func (id ID) Equal(other ID) bool { return bytes.Equal(id.raw, other.raw) }

// String returns the id rendered as raw text, for logging and test output.
func (id ID) String() string { return string(id.raw) }

// HashBytes is the length-prefixed encoding fed into the leaf hash, so
// that ids of different lengths never collide under concatenation.
func (id ID) HashBytes() []byte {
	out := make([]byte, 1+len(id.raw))
	out[0] = byte(len(id.raw))
	copy(out[1:], id.raw)
	return out
}

// WireBytes returns the zero-padded 64-byte wire encoding used by the
// inclusion-proof leaf_id field.
func (id ID) WireBytes() [MaxIDLen]byte {
	var out [MaxIDLen]byte
	copy(out[:], id.raw)
	return out
}

// Entity is a single obligation holder.
type Entity struct {
	ID        ID
	Liability uint64
}

// Content is the content carried by a single tree node: a public hash and
// commitment, plus the secret liability and blinding factor that combine
// additively on the way up the tree.
type Content struct {
	Hash       [32]byte
	Commitment *ristretto.Point
	Liability  uint64
	Blinding   *ristretto.Scalar
}

// NewLeaf builds the leaf content for an entity at the bottom layer.
// Liabilities above maxLiability are rejected as LiabilityOverflow.
func NewLeaf(masterSecret []byte, id ID, liability, maxLiability uint64, saltCom, saltHash []byte) (*Content, error) {
	if liability > maxLiability {
		return nil, dapolerr.Wrap(dapolerr.ErrLiabilityOverflow, "leaf liability %d exceeds max %d", liability, maxLiability)
	}

	w := kdf.DeriveVerificationKey(masterSecret, id.HashBytes())
	blinding := ristretto.ScalarFromUniformBytes(kdf.DeriveBlindingSeed(w, saltCom))
	leafSalt := kdf.DeriveLeafSalt(w, saltHash)
	commitment := ristretto.Commit(liability, blinding)

	return &Content{
		Hash:       hashLeaf(id, leafSalt, commitment),
		Commitment: commitment,
		Liability:  liability,
		Blinding:   blinding,
	}, nil
}

// NewPadding builds the deterministic padding content for an unoccupied
// coordinate. It is used both for empty bottom-layer positions and, at
// any higher layer, as the single node standing for an entirely empty
// subtree. Padding always carries liability 0.
func NewPadding(masterSecret []byte, c coord.C, saltCom, saltHash []byte) *Content {
	blindingSeed, salt := kdf.DerivePaddingContent(masterSecret, c, saltCom, saltHash)
	blinding := ristretto.ScalarFromUniformBytes(blindingSeed)
	commitment := ristretto.Commit(0, blinding)

	return &Content{
		Hash:       hashPad(c, salt, commitment),
		Commitment: commitment,
		Liability:  0,
		Blinding:   blinding,
	}
}

// Combine folds two child node contents into their parent, per the
// Merkle-sum combine rule: commitments and blindings add, liabilities add
// with overflow detection, and the hash binds both children's hashes plus
// the new commitment.
func Combine(left, right *Content) (*Content, error) {
	liability, overflowed := addChecked(left.Liability, right.Liability)
	if overflowed {
		return nil, dapolerr.Wrap(dapolerr.ErrLiabilityOverflow, "interior node liability overflow (%d + %d)", left.Liability, right.Liability)
	}

	blinding := ristretto.AddScalars(left.Blinding, right.Blinding)
	commitment := ristretto.AddPoints(left.Commitment, right.Commitment)

	return &Content{
		Hash:       hashNode(left.Hash, right.Hash, commitment),
		Commitment: commitment,
		Liability:  liability,
		Blinding:   blinding,
	}, nil
}

func addChecked(a, b uint64) (sum uint64, overflowed bool) {
	sum = a + b
	return sum, sum < a
}

func hashLeaf(id ID, leafSalt [32]byte, commitment *ristretto.Point) [32]byte {
	h := blake3.New()
	h.Write([]byte(domainLeaf))
	h.Write(id.HashBytes())
	h.Write(leafSalt[:])
	cb := ristretto.EncodePoint(commitment)
	h.Write(cb[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashPad(c coord.C, salt [32]byte, commitment *ristretto.Point) [32]byte {
	h := blake3.New()
	h.Write([]byte(domainPad))
	h.Write(coord.Encode(c))
	h.Write(salt[:])
	cb := ristretto.EncodePoint(commitment)
	h.Write(cb[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashNode(hashLeft, hashRight [32]byte, commitment *ristretto.Point) [32]byte {
	h := blake3.New()
	h.Write([]byte(domainNode))
	h.Write(hashLeft[:])
	h.Write(hashRight[:])
	cb := ristretto.EncodePoint(commitment)
	h.Write(cb[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyLeafHash recomputes the hash a leaf should carry, given the id,
// its publicly disclosed salt, and a commitment rebuilt from the disclosed
// liability and blinding factor. Used by the proof verifier, which never
// has access to master_secret.
func VerifyLeafHash(id ID, leafSalt [32]byte, commitment *ristretto.Point) [32]byte {
	return hashLeaf(id, leafSalt, commitment)
}

// CombinePublic applies the interior-node combine rule using only publicly
// known hashes and commitments, without touching liability or blinding.
// Used by the proof verifier, which reconstructs commitments by point
// addition alone and never sees ancestor liabilities or blindings.
func CombinePublic(hashLeft, hashRight [32]byte, commitmentLeft, commitmentRight *ristretto.Point) (hash [32]byte, commitment *ristretto.Point) {
	commitment = ristretto.AddPoints(commitmentLeft, commitmentRight)
	hash = hashNode(hashLeft, hashRight, commitment)
	return hash, commitment
}
