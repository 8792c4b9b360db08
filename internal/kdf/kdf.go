// Package kdf derives per-entity and per-padding secrets from the tree's
// master secret. Every function here is deterministic and side-effect
// free; master_secret only ever flows through this package, never
// directly into a hash or commitment.
package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"dapol/internal/coord"
	"dapol/internal/dapolerr"
)

// expand runs HKDF-SHA-256 with ikm as the input keying material and info
// as the context string, producing n bytes of output.
func expand(ikm, info []byte, n int) []byte {
	r := hkdf.New(sha256.New, ikm, nil, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA-256 can expand up to 255*32 bytes; n never approaches
		// that here, so a read failure means the runtime is broken.
		dapolerr.Invariant(false, "hkdf expand failed: %v", err)
	}
	return out
}

// DeriveVerificationKey computes w_u = HKDF(master_secret, id), the
// per-entity verification key handed to entities so they can self-verify
// their leaf.
func DeriveVerificationKey(masterSecret, id []byte) [32]byte {
	var out [32]byte
	copy(out[:], expand(masterSecret, id, 32))
	return out
}

// DeriveBlindingSeed computes HKDF(w, salt_com) as 64 uniform bytes,
// suitable for reduction into a Ristretto scalar.
func DeriveBlindingSeed(w [32]byte, saltCom []byte) [64]byte {
	var out [64]byte
	copy(out[:], expand(w[:], saltCom, 64))
	return out
}

// DeriveLeafSalt computes leaf_salt_u = HKDF(w_u, salt_hash).
func DeriveLeafSalt(w [32]byte, saltHash []byte) [32]byte {
	var out [32]byte
	copy(out[:], expand(w[:], saltHash, 32))
	return out
}

// PaddingKey computes w_pad = HKDF(master_secret, (x, y)), the padding
// analogue of DeriveVerificationKey.
func PaddingKey(masterSecret []byte, c coord.C) [32]byte {
	var out [32]byte
	copy(out[:], expand(masterSecret, coord.Encode(c), 32))
	return out
}

// DerivePaddingContent computes the blinding seed and hash salt for the
// padding node at coordinate c.
func DerivePaddingContent(masterSecret []byte, c coord.C, saltCom, saltHash []byte) (blindingSeed [64]byte, salt [32]byte) {
	w := PaddingKey(masterSecret, c)
	return DeriveBlindingSeed(w, saltCom), DeriveLeafSalt(w, saltHash)
}
