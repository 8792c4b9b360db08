package rangeproof

import (
	"testing"

	"dapol/internal/ristretto"
)

func blinding(seed uint64) *ristretto.Scalar {
	return ristretto.ScalarFromUint64(seed)
}

func commitmentsFor(liabilities []uint64, blindings []*ristretto.Scalar) []*ristretto.Point {
	out := make([]*ristretto.Point, len(liabilities))
	for i := range liabilities {
		out[i] = ristretto.Commit(liabilities[i], blindings[i])
	}
	return out
}

func TestValidBitLength(t *testing.T) {
	tests := []struct {
		b    int
		want bool
	}{
		{8, true}, {16, true}, {32, true}, {64, true},
		{1, false}, {24, false}, {128, false},
	}
	for _, tt := range tests {
		if got := ValidBitLength(tt.b); got != tt.want {
			t.Errorf("ValidBitLength(%d) = %v, want %v", tt.b, got, tt.want)
		}
	}
}

func TestProveVerifyRoundTrip(t *testing.T) {
	liabilities := []uint64{0, 1, 42, 255, 100000}
	blindings := []*ristretto.Scalar{blinding(1), blinding(2), blinding(3), blinding(4), blinding(5)}
	commitments := commitmentsFor(liabilities, blindings)

	proof, err := Prove("test-label", 32, liabilities, blindings)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	if !Verify("test-label", 32, commitments, proof) {
		t.Fatal("Verify rejected a valid proof")
	}
}

func TestVerifyRejectsWrongLabel(t *testing.T) {
	liabilities := []uint64{7}
	blindings := []*ristretto.Scalar{blinding(99)}
	commitments := commitmentsFor(liabilities, blindings)

	proof, err := Prove("label-a", 16, liabilities, blindings)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	if Verify("label-b", 16, commitments, proof) {
		t.Fatal("Verify accepted a proof bound to a different transcript label")
	}
}

func TestVerifyRejectsTamperedCommitment(t *testing.T) {
	liabilities := []uint64{7}
	blindings := []*ristretto.Scalar{blinding(99)}

	proof, err := Prove("test-label", 16, liabilities, blindings)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	tampered := []*ristretto.Point{ristretto.Commit(8, blindings[0])}
	if Verify("test-label", 16, tampered, proof) {
		t.Fatal("Verify accepted a proof against a different commitment")
	}
}

func TestProveRejectsOutOfRangeLiability(t *testing.T) {
	// A commitment to a liability that does not fit in the claimed bit
	// length cannot be proven honestly; Prove itself should reject it.
	if _, err := Prove("test-label", 8, []uint64{256}, []*ristretto.Scalar{blinding(1)}); err == nil {
		t.Fatal("Prove should reject a liability that overflows the bit length")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	liabilities := []uint64{0, 1, 42, 255}
	blindings := []*ristretto.Scalar{blinding(1), blinding(2), blinding(3), blinding(4)}
	commitments := commitmentsFor(liabilities, blindings)

	proof, err := Prove("encode-label", 16, liabilities, blindings)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	encoded := Encode(proof)
	decoded, n, err := Decode(encoded, 16)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("Decode consumed %d bytes, want %d", n, len(encoded))
	}

	if !Verify("encode-label", 16, commitments, decoded) {
		t.Fatal("decoded proof failed to verify")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	liabilities := []uint64{5}
	blindings := []*ristretto.Scalar{blinding(1)}

	proof, err := Prove("trunc-label", 8, liabilities, blindings)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	encoded := Encode(proof)
	if _, _, err := Decode(encoded[:len(encoded)-1], 8); err == nil {
		t.Fatal("Decode should reject truncated input")
	}
}
