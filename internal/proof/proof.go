// Package proof implements inclusion-proof generation (C8) and
// verification (C9): walking a leaf up to the root gathering sibling
// data, producing an aggregated range proof over every node on the path,
// and re-deriving the root hash/commitment on the verifier side from
// nothing but the disclosed path and the claimed root.
package proof

import (
	"encoding/binary"

	"dapol/internal/coord"
	"dapol/internal/dapolerr"
	"dapol/internal/kdf"
	"dapol/internal/nodecontent"
	"dapol/internal/rangeproof"
	"dapol/internal/ristretto"
	"dapol/internal/tree"
)

// wireMagic identifies the inclusion-proof wire format. Bumped whenever the
// layout below changes incompatibly.
const wireMagic = "DAPOLIP1"

// Sibling is the publicly disclosed half of a path step: the other
// child's hash and commitment.
type Sibling struct {
	Hash       [32]byte
	Commitment *ristretto.Point
}

// InclusionProof is the full proof that one entity's leaf is included
// under a committed root, per the wire layout in the external interface.
type InclusionProof struct {
	LeafID        nodecontent.ID
	LeafSalt      [32]byte
	LeafLiability uint64
	LeafBlinding  *ristretto.Scalar
	BitLength     int

	// Siblings and Directions run bottom-to-top, one entry per level
	// below the root. Directions[i] is true when the path node (not the
	// sibling) was the left child at that level.
	Siblings   []Sibling
	Directions []bool

	RangeProof *rangeproof.AggregatedProof
}

// Generate builds an inclusion proof for id, walking up from its leaf
// through st, which must hold (or be able to rebuild) every node on the
// path. masterSecret and saltHash are needed to re-derive the leaf salt
// disclosed in the proof; they are never included in the proof itself.
func Generate(st *tree.Store, height uint8, masterSecret, saltHash []byte, mapping map[string]uint64, id nodecontent.ID, bitLength int) (*InclusionProof, error) {
	x, ok := mapping[string(id.Bytes())]
	if !ok {
		return nil, dapolerr.Wrap(dapolerr.ErrUnknownEntity, "unknown entity %q", id.String())
	}

	cur := coord.New(x, 0)
	leaf, err := st.Get(cur)
	if err != nil {
		return nil, err
	}

	pathNodes := make([]*nodecontent.Content, 0, height)
	pathNodes = append(pathNodes, leaf)

	siblings := make([]Sibling, 0, int(height)-1)
	directions := make([]bool, 0, int(height)-1)

	for level := uint8(0); level < height-1; level++ {
		sibCoord := cur.Sibling()
		sib, err := st.Get(sibCoord)
		if err != nil {
			return nil, err
		}
		siblings = append(siblings, Sibling{Hash: sib.Hash, Commitment: sib.Commitment})
		directions = append(directions, cur.IsLeftChild())

		cur = cur.Parent()
		node, err := st.Get(cur)
		if err != nil {
			return nil, err
		}
		pathNodes = append(pathNodes, node)
	}

	liabilities := make([]uint64, len(pathNodes))
	blindings := make([]*ristretto.Scalar, len(pathNodes))
	for i, n := range pathNodes {
		liabilities[i] = n.Liability
		blindings[i] = n.Blinding
	}

	rp, err := rangeproof.Prove(rangeProofLabel(id), bitLength, liabilities, blindings)
	if err != nil {
		return nil, err
	}

	w := kdf.DeriveVerificationKey(masterSecret, id.HashBytes())
	leafSalt := kdf.DeriveLeafSalt(w, saltHash)

	return &InclusionProof{
		LeafID:        id,
		LeafSalt:      leafSalt,
		LeafLiability: leaf.Liability,
		LeafBlinding:  leaf.Blinding,
		BitLength:     bitLength,
		Siblings:      siblings,
		Directions:    directions,
		RangeProof:    rp,
	}, nil
}

// rangeProofLabel binds the range proof's Fiat-Shamir transcript to the
// entity it covers, so two different entities' proofs never share
// challenges even if their path liabilities happen to coincide.
func rangeProofLabel(id nodecontent.ID) string {
	return "dapol-rangeproof/" + string(id.HashBytes())
}

// Verify checks an inclusion proof against a claimed root hash and
// commitment. It never needs master_secret: every value it touches is
// either disclosed in the proof or reconstructed by point addition alone.
// A nil return means the proof is valid; otherwise the error is
// ErrInvalidPath (the reconstructed path does not reach the claimed root)
// or ErrInvalidRangeProof (the aggregated range proof failed).
func Verify(ip *InclusionProof, height uint8, rootHash [32]byte, rootCommitment *ristretto.Point) error {
	if ip == nil || len(ip.Siblings) != int(height)-1 || len(ip.Directions) != int(height)-1 {
		return dapolerr.Wrap(dapolerr.ErrInvalidPath, "proof path length does not match tree height %d", height)
	}

	leafCommitment := ristretto.Commit(ip.LeafLiability, ip.LeafBlinding)
	leafHash := nodecontent.VerifyLeafHash(ip.LeafID, ip.LeafSalt, leafCommitment)

	commitments := make([]*ristretto.Point, 0, height)
	commitments = append(commitments, leafCommitment)

	curHash, curCommitment := leafHash, leafCommitment

	for level := 0; level < len(ip.Siblings); level++ {
		sib := ip.Siblings[level]

		var hash [32]byte
		var commitment *ristretto.Point
		if ip.Directions[level] {
			hash, commitment = nodecontent.CombinePublic(curHash, sib.Hash, curCommitment, sib.Commitment)
		} else {
			hash, commitment = nodecontent.CombinePublic(sib.Hash, curHash, sib.Commitment, curCommitment)
		}

		curHash, curCommitment = hash, commitment
		commitments = append(commitments, commitment)
	}

	if curHash != rootHash {
		return dapolerr.Wrap(dapolerr.ErrInvalidPath, "reconstructed root hash does not match the claimed root")
	}
	if !ristretto.PointsEqual(curCommitment, rootCommitment) {
		return dapolerr.Wrap(dapolerr.ErrInvalidPath, "reconstructed root commitment does not match the claimed root")
	}

	if !rangeproof.Verify(rangeProofLabel(ip.LeafID), ip.BitLength, commitments, ip.RangeProof) {
		return dapolerr.Wrap(dapolerr.ErrInvalidRangeProof, "aggregated range proof failed verification")
	}

	return nil
}

// Encode serializes ip in the DAPOLIP1 wire format: a magic tag, bit
// length, path length, id length, the disclosed leaf fields, one sibling
// record per level, and the aggregated range proof.
func Encode(ip *InclusionProof) []byte {
	idBytes := ip.LeafID.Bytes()
	out := make([]byte, 0, 8+1+1+1+nodecontent.MaxIDLen+32+8+32+len(ip.Siblings)*65)

	out = append(out, []byte(wireMagic)...)
	out = append(out, byte(ip.BitLength))
	out = append(out, byte(len(ip.Siblings)))
	out = append(out, byte(len(idBytes)))

	idWire := ip.LeafID.WireBytes()
	out = append(out, idWire[:]...)
	out = append(out, ip.LeafSalt[:]...)

	var liab [8]byte
	binary.LittleEndian.PutUint64(liab[:], ip.LeafLiability)
	out = append(out, liab[:]...)

	blinding := ristretto.EncodeScalar(ip.LeafBlinding)
	out = append(out, blinding[:]...)

	for i, sib := range ip.Siblings {
		out = append(out, sib.Hash[:]...)
		commitment := ristretto.EncodePoint(sib.Commitment)
		out = append(out, commitment[:]...)
		if ip.Directions[i] {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}

	out = append(out, rangeproof.Encode(ip.RangeProof)...)
	return out
}

// Decode parses an inclusion proof previously produced by Encode.
func Decode(b []byte) (*InclusionProof, error) {
	if len(b) < len(wireMagic)+3 || string(b[:len(wireMagic)]) != wireMagic {
		return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad inclusion proof magic")
	}
	offset := len(wireMagic)

	bitLength := int(b[offset])
	offset++
	pathLength := int(b[offset])
	offset++
	idLen := int(b[offset])
	offset++

	if idLen == 0 || idLen > nodecontent.MaxIDLen {
		return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad inclusion proof id length %d", idLen)
	}

	need := offset + nodecontent.MaxIDLen + 32 + 8 + 32 + pathLength*65
	if len(b) < need {
		return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "inclusion proof truncated")
	}

	id, err := nodecontent.NewID(b[offset : offset+idLen])
	if err != nil {
		return nil, err
	}
	offset += nodecontent.MaxIDLen

	var leafSalt [32]byte
	copy(leafSalt[:], b[offset:offset+32])
	offset += 32

	leafLiability := binary.LittleEndian.Uint64(b[offset : offset+8])
	offset += 8

	leafBlinding, err := ristretto.DecodeScalar(b[offset : offset+32])
	if err != nil {
		return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad leaf blinding: %v", err)
	}
	offset += 32

	siblings := make([]Sibling, pathLength)
	directions := make([]bool, pathLength)
	for i := 0; i < pathLength; i++ {
		var hash [32]byte
		copy(hash[:], b[offset:offset+32])
		offset += 32

		commitment, err := ristretto.DecodePoint(b[offset : offset+32])
		if err != nil {
			return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad sibling commitment: %v", err)
		}
		offset += 32

		siblings[i] = Sibling{Hash: hash, Commitment: commitment}
		directions[i] = b[offset] != 0
		offset++
	}

	rp, _, err := rangeproof.Decode(b[offset:], bitLength)
	if err != nil {
		return nil, err
	}

	return &InclusionProof{
		LeafID:        id,
		LeafSalt:      leafSalt,
		LeafLiability: leafLiability,
		LeafBlinding:  leafBlinding,
		BitLength:     bitLength,
		Siblings:      siblings,
		Directions:    directions,
		RangeProof:    rp,
	}, nil
}
