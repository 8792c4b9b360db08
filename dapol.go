// Package dapol implements DAPOL+ (Distributed Auditing Proof of
// Liabilities): a custodian builds a sparse Merkle sum tree over
// (entity, liability) pairs with Pedersen-committed, HKDF-blinded leaves,
// publishes only a root hash and commitment, and can later hand any
// entity an inclusion proof — a Merkle path plus an aggregated range
// proof — that verifies against that root without revealing anything
// about other entities.
package dapol

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"dapol/internal/coord"
	"dapol/internal/dapolerr"
	"dapol/internal/logger"
	"dapol/internal/ndmsmt"
	"dapol/internal/nodecontent"
	"dapol/internal/proof"
	"dapol/internal/rangeproof"
	"dapol/internal/ristretto"
	"dapol/internal/tree"
)

// EntityID is a 1-64 byte opaque obligation-holder identifier.
type EntityID = nodecontent.ID

// Entity is a single obligation: an id and its liability.
type Entity = nodecontent.Entity

// NewEntityID validates and wraps raw id bytes.
func NewEntityID(b []byte) (EntityID, error) {
	return nodecontent.NewID(b)
}

// AccumulatorKind selects the position-assignment scheme a tree uses.
// Only AccumulatorNdmSmt is populated; DM-SMT (deterministic mapping) is
// referenced upstream but never implemented, so it has no variant here.
type AccumulatorKind uint8

const (
	// AccumulatorNdmSmt places entities at uniformly random, unique
	// bottom-layer positions (C5).
	AccumulatorNdmSmt AccumulatorKind = iota
)

// Config is the full input to Build. Defaults are applied by Validate,
// which Build calls internally.
type Config struct {
	// Accumulator selects the position-assignment scheme. Zero value is
	// AccumulatorNdmSmt, the only supported kind.
	Accumulator AccumulatorKind

	// Height is the tree height H, in [2, 64]. Capacity is 2^(H-1)
	// leaves. Defaults to 32.
	Height uint8

	// MaxLiability rejects any single leaf's liability above this bound.
	// Defaults to 2^32.
	MaxLiability uint64

	// SaltCom and SaltHash are public per-tree randomizers mixed into
	// blinding and salt derivation respectively. Both default to 32
	// fresh random bytes when left nil.
	SaltCom  []byte
	SaltHash []byte

	// MasterSecret is the prover-only 256-bit seed feeding every HKDF
	// derivation. Required, must be exactly 32 bytes.
	MasterSecret []byte

	// Seed overrides the CSPRNG driving NDM-SMT position assignment with
	// a deterministic counter-mode stream, for reproducible test runs.
	// Left nil, Build draws positions from crypto/rand.Reader. Must be
	// exactly 32 bytes when set.
	Seed []byte

	// Entities is the input obligation list. Ids must be unique.
	Entities []Entity

	// MaxThreadCount bounds build parallelism. Zero means "use
	// available parallelism" (runtime.GOMAXPROCS(0)).
	MaxThreadCount uint16

	// StoreDepth is the selective node-store depth D, in [0, Height].
	// D=Height stores every node; D=0 stores only the root.
	StoreDepth uint8

	// RangeProofBitLength is the range-proof bit length B, one of
	// {8,16,32,64}. Defaults to 64.
	RangeProofBitLength int
}

// Validate applies defaults and checks the config is self-consistent,
// without touching the entity list itself (duplicate/capacity checks
// happen during Build, once width is known).
func (c *Config) Validate() error {
	if c.Accumulator != AccumulatorNdmSmt {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "unsupported accumulator kind %d", c.Accumulator)
	}

	if c.Height == 0 {
		c.Height = 32
	}
	if _, err := tree.NewHeight(c.Height); err != nil {
		return err
	}

	if c.MaxLiability == 0 {
		c.MaxLiability = 1 << 32
	}

	if c.RangeProofBitLength == 0 {
		c.RangeProofBitLength = 64
	}
	if !rangeproof.ValidBitLength(c.RangeProofBitLength) {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "bit length %d must be one of 8,16,32,64", c.RangeProofBitLength)
	}

	if len(c.MasterSecret) != 32 {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "master secret must be exactly 32 bytes, got %d", len(c.MasterSecret))
	}

	if c.SaltCom == nil {
		c.SaltCom = randomSalt()
	} else if len(c.SaltCom) != 32 {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "salt_com must be exactly 32 bytes, got %d", len(c.SaltCom))
	}
	if c.SaltHash == nil {
		c.SaltHash = randomSalt()
	} else if len(c.SaltHash) != 32 {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "salt_hash must be exactly 32 bytes, got %d", len(c.SaltHash))
	}

	if c.StoreDepth > c.Height {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "store depth %d exceeds height %d", c.StoreDepth, c.Height)
	}

	if c.Seed != nil && len(c.Seed) != 32 {
		return dapolerr.Wrap(dapolerr.ErrInvalidConfig, "seed must be exactly 32 bytes, got %d", len(c.Seed))
	}

	return nil
}

func randomSalt() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		dapolerr.Invariant(false, "reading random salt: %v", err)
	}
	return b
}

// DapolTree is a built, immutable tree. There is no mutation API: every
// field here is fixed at Build time, matching the Empty -> Building ->
// Built -> Serialized lifecycle with no reverse transitions.
type DapolTree struct {
	root  *nodecontent.Content
	store *tree.Store

	masterSecret []byte
	saltCom      []byte
	saltHash     []byte
	mapping      map[string]uint64

	height       uint8
	storeDepth   uint8
	maxLiability uint64
	bitLength    int
	accumulator  AccumulatorKind
}

// Build assigns every entity to a leaf position, constructs all leaves,
// and runs the parallel bottom-up build to a single root.
func Build(cfg Config) (*DapolTree, error) {
	logger.Init()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ndmsmt.CheckDuplicates(cfg.Entities); err != nil {
		return nil, err
	}

	width := coord.LeafWidth(cfg.Height)

	var rng io.Reader
	if cfg.Seed != nil {
		var seed [32]byte
		copy(seed[:], cfg.Seed)
		rng = ndmsmt.NewSeededReader(seed)
	}

	mapping, err := ndmsmt.AssignPositions(cfg.Entities, width, rng)
	if err != nil {
		return nil, err
	}

	leaves := make(map[uint64]*nodecontent.Content, len(cfg.Entities))
	var totalLiability uint64
	for _, e := range cfg.Entities {
		x := mapping[string(e.ID.Bytes())]

		leaf, err := nodecontent.NewLeaf(cfg.MasterSecret, e.ID, e.Liability, cfg.MaxLiability, cfg.SaltCom, cfg.SaltHash)
		if err != nil {
			return nil, err
		}
		leaves[x] = leaf

		sum, overflowed := addChecked(totalLiability, e.Liability)
		if overflowed {
			return nil, dapolerr.Wrap(dapolerr.ErrLiabilityOverflow, "total liability overflow summing entity inputs")
		}
		totalLiability = sum
	}

	if cfg.RangeProofBitLength < 64 {
		capacity := uint64(1) << uint(cfg.RangeProofBitLength)
		if totalLiability >= capacity {
			return nil, dapolerr.Wrap(dapolerr.ErrLiabilityOverflow, "total liability %d does not fit in %d bits", totalLiability, cfg.RangeProofBitLength)
		}
	}

	result, err := tree.Build(cfg.Height, cfg.StoreDepth, cfg.MasterSecret, cfg.SaltCom, cfg.SaltHash, leaves, tree.MaxThreadCount(cfg.MaxThreadCount))
	if err != nil {
		return nil, err
	}

	return &DapolTree{
		root:         result.Root,
		store:        result.Store,
		masterSecret: cfg.MasterSecret,
		saltCom:      cfg.SaltCom,
		saltHash:     cfg.SaltHash,
		mapping:      mapping,
		height:       cfg.Height,
		storeDepth:   cfg.StoreDepth,
		maxLiability: cfg.MaxLiability,
		bitLength:    cfg.RangeProofBitLength,
		accumulator:  cfg.Accumulator,
	}, nil
}

func addChecked(a, b uint64) (sum uint64, overflowed bool) {
	sum = a + b
	return sum, sum < a
}

// PublicRootData is everything published to the public bulletin board.
type PublicRootData struct {
	HRoot [32]byte
	CRoot [32]byte
}

// PublicRootData returns the tree's published root hash and commitment.
func (t *DapolTree) PublicRootData() PublicRootData {
	return PublicRootData{
		HRoot: t.root.Hash,
		CRoot: ristretto.EncodePoint(t.root.Commitment),
	}
}

// SecretRootData is the ProveTot output: the total liability and the
// blinding factor binding it, known only to the prover.
type SecretRootData struct {
	LiabilitySum uint64
	BlindingSum  [32]byte
}

// SecretRootData returns the tree's total liability and root blinding
// factor.
func (t *DapolTree) SecretRootData() SecretRootData {
	return SecretRootData{
		LiabilitySum: t.root.Liability,
		BlindingSum:  ristretto.EncodeScalar(t.root.Blinding),
	}
}

// VerifyRootCommitment is VerifyTot: it checks that cRoot really does
// commit to liabilitySum under blindingSum, without needing anything
// else from the tree. Point equality on Ristretto255 is constant-time.
func VerifyRootCommitment(cRoot [32]byte, blindingSum [32]byte, liabilitySum uint64) bool {
	claimed, err := ristretto.DecodePoint(cRoot[:])
	if err != nil {
		return false
	}
	blinding, err := ristretto.DecodeScalar(blindingSum[:])
	if err != nil {
		return false
	}
	reconstructed := ristretto.Commit(liabilitySum, blinding)
	return ristretto.PointsEqual(reconstructed, claimed)
}

// MasterSecret returns the tree's master secret. Held by the prover only;
// never transmitted as part of a proof or the public root data.
func (t *DapolTree) MasterSecret() []byte {
	out := make([]byte, len(t.masterSecret))
	copy(out, t.masterSecret)
	return out
}

// EntityMapping returns the secret id -> bottom-layer x-coordinate map,
// keyed by raw entity id bytes.
func (t *DapolTree) EntityMapping() map[string]uint64 {
	out := make(map[string]uint64, len(t.mapping))
	for k, v := range t.mapping {
		out[k] = v
	}
	return out
}

// InclusionProof is a Merkle path plus an aggregated range proof over
// every node on that path, provable against only the root.
type InclusionProof struct {
	inner  *proof.InclusionProof
	height uint8
}

// GenerateInclusionProof builds a proof for id. An optional
// aggregationFactor overrides the tree's configured range-proof bit
// length for this one proof.
func (t *DapolTree) GenerateInclusionProof(id EntityID, aggregationFactor ...int) (*InclusionProof, error) {
	bitLength := t.bitLength
	if len(aggregationFactor) > 0 {
		bitLength = aggregationFactor[0]
	}

	ip, err := proof.Generate(t.store, t.height, t.masterSecret, t.saltHash, t.mapping, id, bitLength)
	if err != nil {
		return nil, err
	}

	return &InclusionProof{inner: ip, height: t.height}, nil
}

// Verify checks the proof against a claimed root hash and commitment. A
// false, nil result means the proof itself is invalid (bad path or range
// proof); a non-nil error means the inputs could not even be checked (a
// malformed root commitment).
func (ip *InclusionProof) Verify(rootHash [32]byte, rootCommitment [32]byte) (bool, error) {
	commitment, err := ristretto.DecodePoint(rootCommitment[:])
	if err != nil {
		return false, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad root commitment: %v", err)
	}

	switch err := proof.Verify(ip.inner, ip.height, rootHash, commitment); {
	case err == nil:
		return true, nil
	case errors.Is(err, dapolerr.ErrInvalidPath), errors.Is(err, dapolerr.ErrInvalidRangeProof):
		return false, nil
	default:
		return false, err
	}
}

// Encode serializes ip in the DAPOLIP1 wire format.
func (ip *InclusionProof) Encode() []byte {
	return proof.Encode(ip.inner)
}

// DecodeInclusionProof parses a proof previously produced by Encode.
// height must match the tree the proof will be verified against.
func DecodeInclusionProof(b []byte, height uint8) (*InclusionProof, error) {
	inner, err := proof.Decode(b)
	if err != nil {
		return nil, err
	}
	return &InclusionProof{inner: inner, height: height}, nil
}

// treeMagic identifies the whole-tree persistence format.
const treeMagic = "DAPOLTR1"

// Serialize writes the whole tree in the .dapoltree format: every node
// the store currently holds, plus enough configuration to rebuild
// anything unstored lazily after deserialization. The output contains
// master_secret in the clear; callers must treat it as a prover-only
// file.
func (t *DapolTree) Serialize(w io.Writer) error {
	var buf bytes.Buffer
	var u64 [8]byte

	buf.WriteString(treeMagic)
	buf.WriteByte(t.height)

	binary.LittleEndian.PutUint64(u64[:], t.maxLiability)
	buf.Write(u64[:])

	buf.Write(t.saltCom)
	buf.Write(t.saltHash)
	buf.WriteByte(t.storeDepth)
	buf.WriteByte(byte(t.bitLength))
	buf.WriteByte(byte(t.accumulator))
	buf.Write(t.masterSecret)

	binary.LittleEndian.PutUint64(u64[:], uint64(len(t.mapping)))
	buf.Write(u64[:])
	for id, x := range t.mapping {
		buf.WriteByte(byte(len(id)))
		buf.WriteString(id)
		binary.LittleEndian.PutUint64(u64[:], x)
		buf.Write(u64[:])
	}

	entries := t.store.Entries()
	binary.LittleEndian.PutUint64(u64[:], uint64(len(entries)))
	buf.Write(u64[:])
	for _, e := range entries {
		buf.Write(coord.Encode(e.Coord))
		buf.Write(e.Content.Hash[:])
		commitment := ristretto.EncodePoint(e.Content.Commitment)
		buf.Write(commitment[:])
		binary.LittleEndian.PutUint64(u64[:], e.Content.Liability)
		buf.Write(u64[:])
		blinding := ristretto.EncodeScalar(e.Content.Blinding)
		buf.Write(blinding[:])
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Deserialize parses a .dapoltree file, restoring the node store exactly
// as it was saved. Unstored nodes remain lazily recomputable, the same
// guarantee the tree offered before serialization.
func Deserialize(r io.Reader) (*DapolTree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if len(data) < len(treeMagic)+1+8+32+32+1+1+1+32+8+8 || string(data[:len(treeMagic)]) != treeMagic {
		return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad or truncated tree header")
	}
	offset := len(treeMagic)

	height := data[offset]
	offset++

	maxLiability := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8

	saltCom := append([]byte(nil), data[offset:offset+32]...)
	offset += 32
	saltHash := append([]byte(nil), data[offset:offset+32]...)
	offset += 32

	storeDepth := data[offset]
	offset++
	bitLength := int(data[offset])
	offset++
	accumulator := AccumulatorKind(data[offset])
	offset++

	masterSecret := append([]byte(nil), data[offset:offset+32]...)
	offset += 32

	numMappings := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	mapping := make(map[string]uint64, numMappings)
	for i := uint64(0); i < numMappings; i++ {
		if offset+1 > len(data) {
			return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "entity mapping truncated")
		}
		idLen := int(data[offset])
		offset++
		if offset+idLen+8 > len(data) {
			return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "entity mapping truncated")
		}
		id := string(data[offset : offset+idLen])
		offset += idLen
		x := binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		mapping[id] = x
	}

	if offset+8 > len(data) {
		return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "node store header truncated")
	}
	numEntries := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8

	entries := make([]tree.Entry, numEntries)
	for i := uint64(0); i < numEntries; i++ {
		if offset+9+32+32+8+32 > len(data) {
			return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "node store entry truncated")
		}

		x := binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		y := data[offset]
		offset++

		var hash [32]byte
		copy(hash[:], data[offset:offset+32])
		offset += 32

		commitment, err := ristretto.DecodePoint(data[offset : offset+32])
		if err != nil {
			return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad node commitment: %v", err)
		}
		offset += 32

		liability := binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8

		blinding, err := ristretto.DecodeScalar(data[offset : offset+32])
		if err != nil {
			return nil, dapolerr.Wrap(dapolerr.ErrDeserialization, "bad node blinding: %v", err)
		}
		offset += 32

		entries[i] = tree.Entry{
			Coord: coord.New(x, y),
			Content: &nodecontent.Content{
				Hash:       hash,
				Commitment: commitment,
				Liability:  liability,
				Blinding:   blinding,
			},
		}
	}

	store := tree.Restore(height, storeDepth, masterSecret, saltCom, saltHash, entries, 0)

	root, err := store.Get(coord.Root(height))
	if err != nil {
		return nil, err
	}

	return &DapolTree{
		root:         root,
		store:        store,
		masterSecret: masterSecret,
		saltCom:      saltCom,
		saltHash:     saltHash,
		mapping:      mapping,
		height:       height,
		storeDepth:   storeDepth,
		maxLiability: maxLiability,
		bitLength:    bitLength,
		accumulator:  accumulator,
	}, nil
}
