package proof

import (
	"bytes"
	"testing"

	"dapol/internal/coord"
	"dapol/internal/ndmsmt"
	"dapol/internal/nodecontent"
	"dapol/internal/tree"
)

func testMasterSecret() []byte { return bytes.Repeat([]byte{0x09}, 32) }
func testSaltCom() []byte      { return []byte("salt-com") }
func testSaltHash() []byte     { return []byte("salt-hash") }

type fixture struct {
	height   uint8
	store    *tree.Store
	mapping  map[string]uint64
	rootHash [32]byte
}

func buildFixture(t *testing.T, height uint8, storeDepth uint8, entities []nodecontent.Entity) fixture {
	t.Helper()

	width := uint64(1) << (height - 1)
	mapping, err := ndmsmt.AssignPositions(entities, width, nil)
	if err != nil {
		t.Fatalf("AssignPositions: %v", err)
	}

	leaves := make(map[uint64]*nodecontent.Content, len(entities))
	for _, e := range entities {
		x := mapping[string(e.ID.Bytes())]
		leaf, err := nodecontent.NewLeaf(testMasterSecret(), e.ID, e.Liability, 1000, testSaltCom(), testSaltHash())
		if err != nil {
			t.Fatalf("NewLeaf: %v", err)
		}
		leaves[x] = leaf
	}

	result, err := tree.Build(height, storeDepth, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("tree.Build: %v", err)
	}

	return fixture{height: height, store: result.Store, mapping: mapping, rootHash: result.Root.Hash}
}

func entity(t *testing.T, id string, liability uint64) nodecontent.Entity {
	t.Helper()
	eid, err := nodecontent.NewID([]byte(id))
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return nodecontent.Entity{ID: eid, Liability: liability}
}

func rootOf(t *testing.T, f fixture) *nodecontent.Content {
	t.Helper()
	root, err := f.store.Get(coord.Root(f.height))
	if err != nil {
		t.Fatalf("Get(root): %v", err)
	}
	return root
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	entities := []nodecontent.Entity{
		entity(t, "alice", 10),
		entity(t, "bob", 20),
		entity(t, "carol", 30),
	}
	f := buildFixture(t, 4, 4, entities)
	root := rootOf(t, f)

	aliceID, _ := nodecontent.NewID([]byte("alice"))
	ip, err := Generate(f.store, f.height, testMasterSecret(), testSaltHash(), f.mapping, aliceID, 16)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := Verify(ip, f.height, root.Hash, root.Commitment); err != nil {
		t.Fatalf("Verify rejected a valid inclusion proof: %v", err)
	}
}

func TestGenerateUnknownEntity(t *testing.T) {
	entities := []nodecontent.Entity{entity(t, "alice", 10)}
	f := buildFixture(t, 4, 4, entities)

	eveID, _ := nodecontent.NewID([]byte("eve"))
	if _, err := Generate(f.store, f.height, testMasterSecret(), testSaltHash(), f.mapping, eveID, 16); err == nil {
		t.Fatal("Generate should fail for an entity not in the mapping")
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	entities := []nodecontent.Entity{
		entity(t, "alice", 10),
		entity(t, "bob", 20),
	}
	f := buildFixture(t, 3, 3, entities)
	root := rootOf(t, f)

	aliceID, _ := nodecontent.NewID([]byte("alice"))
	ip, err := Generate(f.store, f.height, testMasterSecret(), testSaltHash(), f.mapping, aliceID, 16)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	ip.LeafLiability += 1
	if err := Verify(ip, f.height, root.Hash, root.Commitment); err == nil {
		t.Fatal("Verify accepted a proof with a tampered leaf liability")
	}
}

func TestVerifyRejectsWrongRoot(t *testing.T) {
	entities := []nodecontent.Entity{entity(t, "alice", 10), entity(t, "bob", 20)}
	f := buildFixture(t, 3, 3, entities)

	aliceID, _ := nodecontent.NewID([]byte("alice"))
	ip, err := Generate(f.store, f.height, testMasterSecret(), testSaltHash(), f.mapping, aliceID, 16)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var wrongRoot [32]byte
	copy(wrongRoot[:], "not-the-real-root-hash-value!!!!")
	root := rootOf(t, f)
	if err := Verify(ip, f.height, wrongRoot, root.Commitment); err == nil {
		t.Fatal("Verify accepted a proof against a mismatched root hash")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entities := []nodecontent.Entity{entity(t, "alice", 10), entity(t, "bob", 20)}
	f := buildFixture(t, 3, 3, entities)
	root := rootOf(t, f)

	aliceID, _ := nodecontent.NewID([]byte("alice"))
	ip, err := Generate(f.store, f.height, testMasterSecret(), testSaltHash(), f.mapping, aliceID, 16)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	encoded := Encode(ip)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if err := Verify(decoded, f.height, root.Hash, root.Commitment); err != nil {
		t.Fatalf("decoded proof failed to verify: %v", err)
	}
}
