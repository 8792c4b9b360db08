package tree

import (
	"bytes"
	"testing"

	"dapol/internal/coord"
	"dapol/internal/nodecontent"
)

func testMasterSecret() []byte { return bytes.Repeat([]byte{0x07}, 32) }
func testSaltCom() []byte      { return []byte("salt-com") }
func testSaltHash() []byte     { return []byte("salt-hash") }

func leafAt(t *testing.T, id string, liability uint64) *nodecontent.Content {
	t.Helper()
	eid, err := nodecontent.NewID([]byte(id))
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	leaf, err := nodecontent.NewLeaf(testMasterSecret(), eid, liability, 1000, testSaltCom(), testSaltHash())
	if err != nil {
		t.Fatalf("NewLeaf: %v", err)
	}
	return leaf
}

func TestBuildRootLiabilityIsSum(t *testing.T) {
	leaves := map[uint64]*nodecontent.Content{
		0: leafAt(t, "alice", 10),
		3: leafAt(t, "bob", 20),
		5: leafAt(t, "carol", 30),
	}

	result, err := Build(4, 4, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if result.Root.Liability != 60 {
		t.Errorf("root liability = %d, want 60", result.Root.Liability)
	}
}

func TestBuildDeterministicAcrossStoreDepth(t *testing.T) {
	leaves := map[uint64]*nodecontent.Content{
		0: leafAt(t, "alice", 10),
		3: leafAt(t, "bob", 20),
		5: leafAt(t, "carol", 30),
		7: leafAt(t, "dave", 40),
	}

	shallow, err := Build(4, 0, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("Build(D=0): %v", err)
	}
	deep, err := Build(4, 4, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("Build(D=4): %v", err)
	}

	if shallow.Root.Hash != deep.Root.Hash {
		t.Error("root hash differs by store depth")
	}
	if shallow.Root.Liability != deep.Root.Liability {
		t.Error("root liability differs by store depth")
	}
}

func TestBuildDeterministicAcrossThreadCount(t *testing.T) {
	leaves := map[uint64]*nodecontent.Content{
		0:  leafAt(t, "alice", 10),
		13: leafAt(t, "bob", 20),
		31: leafAt(t, "carol", 30),
		63: leafAt(t, "dave", 40),
	}

	single, err := Build(8, 8, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 1)
	if err != nil {
		t.Fatalf("Build(threads=1): %v", err)
	}
	many, err := Build(8, 8, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 16)
	if err != nil {
		t.Fatalf("Build(threads=16): %v", err)
	}

	if single.Root.Hash != many.Root.Hash {
		t.Error("root hash depends on thread count")
	}
}

func TestStoreGetRecomputesUnstoredNode(t *testing.T) {
	leaves := map[uint64]*nodecontent.Content{
		0: leafAt(t, "alice", 10),
		3: leafAt(t, "bob", 20),
	}

	result, err := Build(3, 0, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// store_depth 0 only retains the root; every other node must be
	// recomputed on demand and match what a full-depth build produces.
	full, err := Build(3, 3, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("Build(full): %v", err)
	}

	node, err := result.Store.Get(coord.New(0, 1))
	if err != nil {
		t.Fatalf("Get(interior): %v", err)
	}
	wantNode, err := full.Store.Get(coord.New(0, 1))
	if err != nil {
		t.Fatalf("Get(interior) on full store: %v", err)
	}
	if node.Hash != wantNode.Hash {
		t.Error("recomputed interior node does not match the full-depth build's node")
	}
}

func TestEstimateStoreSizePositive(t *testing.T) {
	if got := EstimateStoreSize(0, 10); got < 1 {
		t.Errorf("EstimateStoreSize(0, 10) = %d, want >= 1", got)
	}
	if got := EstimateStoreSize(100, 20); got < 1 {
		t.Errorf("EstimateStoreSize(100, 20) = %d, want >= 1", got)
	}
}

func TestEntriesRoundTripThroughRestore(t *testing.T) {
	leaves := map[uint64]*nodecontent.Content{
		0: leafAt(t, "alice", 10),
		3: leafAt(t, "bob", 20),
	}

	result, err := Build(3, 3, testMasterSecret(), testSaltCom(), testSaltHash(), leaves, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	entries := result.Store.Entries()
	if len(entries) == 0 {
		t.Fatal("Entries() returned nothing for a full-depth build")
	}

	restored := Restore(3, 3, testMasterSecret(), testSaltCom(), testSaltHash(), entries, 0)

	root, err := restored.Get(coord.Root(3))
	if err != nil {
		t.Fatalf("restored Get(root): %v", err)
	}
	if root.Hash != result.Root.Hash {
		t.Error("restored root hash does not match the original build")
	}
}
