package node

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/consensus"
	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/dag/dagtest"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T, b *dagtest.Builder, idx int, store dag.Store) *Core {
	conf := TestConfig(t)
	core, err := NewCore(
		NewValidator(b.Keys[idx], fmt.Sprintf("node%d", idx)),
		b.Committee,
		store,
		consensus.NewSignedBlockValidator(b.Committee, conf.Limits(), 2),
		conf,
		common.NewTestEntry(t, fmt.Sprintf("core%d", idx)))
	require.NoError(t, err)
	require.NoError(t, core.Bootstrap())
	return core
}

// otherLayers builds rounds first..last for authorities B, C and D only. Three
// out of four equal stakes form a quorum, so the DAG advances without A.
func otherLayers(b *dagtest.Builder, first, last dag.Round) [][]*dag.Block {
	others := dagtest.Authorities(1, 2, 3)
	res := [][]*dag.Block{}
	for r := first; r <= last; r++ {
		res = append(res, b.Layer(r, others, others))
	}
	return res
}

type faultyStore struct {
	dag.Store
	failBlocks  bool
	failCommits bool
	hidden      map[dag.BlockRef]bool
}

func (s *faultyStore) GetBlock(ref dag.BlockRef) (*dag.Block, error) {
	if s.hidden[ref] {
		return nil, common.NewStoreErr("Block", common.KeyNotFound, ref.String())
	}
	return s.Store.GetBlock(ref)
}

func (s *faultyStore) SetBlocks(blocks []*dag.Block) error {
	if s.failBlocks {
		return errors.New("disk full")
	}
	return s.Store.SetBlocks(blocks)
}

func (s *faultyStore) SetCommits(commits []*dag.Commit) error {
	if s.failCommits && len(commits) > 0 {
		return errors.New("disk full")
	}
	return s.Store.SetCommits(commits)
}

func TestCoreProposeFirstRound(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())

	require.NoError(t, core.SubmitTransaction([]byte("tx")))

	block, subDags, err := core.TryPropose()
	require.NoError(t, err)
	require.Empty(t, subDags)
	require.NotNil(t, block)
	require.Equal(t, dag.Round(1), block.Round())
	require.Len(t, block.Ancestors(), 4)
	require.Equal(t, b.Genesis[0].Ref(), block.Ancestors()[0], "own ancestor first")
	require.Equal(t, [][]byte{[]byte("tx")}, block.Transactions())

	pub, err := b.Committee.Authority(0).PublicKey()
	require.NoError(t, err)
	ok, err := block.Verify(pub)
	require.NoError(t, err)
	require.True(t, ok)

	again, _, err := core.TryPropose()
	require.NoError(t, err)
	require.Nil(t, again, "one block per round")

	_, _, err = core.ProposeAt(1)
	require.ErrorIs(t, err, ErrAlreadyProposed)

	_, _, err = core.ProposeAt(3)
	require.ErrorIs(t, err, ErrRoundNotReached)
}

func TestCoreAddBlocksAdvancesRound(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())
	require.Equal(t, dag.Round(1), core.Round())

	layers := otherLayers(b, 1, 2)

	_, err := core.AddBlocks(layers[0][:2])
	require.NoError(t, err)
	require.Equal(t, dag.Round(1), core.Round(), "two of four is no quorum")

	_, err = core.AddBlocks(layers[0][2:])
	require.NoError(t, err)
	require.Equal(t, dag.Round(2), core.Round())

	_, err = core.AddBlocks(layers[1])
	require.NoError(t, err)
	require.Equal(t, dag.Round(3), core.Round())

	block, _, err := core.TryPropose()
	require.NoError(t, err)
	require.Equal(t, dag.Round(3), block.Round())
	require.Equal(t, b.Genesis[0].Ref(), block.Ancestors()[0])
	for _, anc := range block.Ancestors()[1:] {
		require.Equal(t, dag.Round(2), anc.Round)
	}

	// The proposal of a later round must still be accepted by a peer.
	peer := newTestCore(t, b, 1, dag.NewInmemStore())
	_, err = peer.AddBlocks(append(append(layers[0], layers[1]...), block))
	require.NoError(t, err)
	require.Equal(t, "11", peer.GetStats()["known_blocks"])
}

func TestCoreDeduplicates(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())

	layer := otherLayers(b, 1, 1)[0]
	_, err := core.AddBlocks(layer)
	require.NoError(t, err)
	_, err = core.AddBlocks(layer)
	require.NoError(t, err)

	stats := core.GetStats()
	require.Equal(t, "7", stats["known_blocks"])
	require.Equal(t, "0", stats["equivocations"])
}

func TestCorePendingAncestors(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())

	layers := otherLayers(b, 1, 2)

	subDags, err := core.AddBlocks(layers[1])
	require.NoError(t, err)
	require.Empty(t, subDags)
	require.Equal(t, "3", core.GetStats()["pending_blocks"])
	require.Equal(t, dag.Round(1), core.Round())

	missing := core.MissingAncestors()
	require.Len(t, missing, 3)
	for i, blk := range layers[0] {
		require.Equal(t, blk.Ref(), missing[i])
	}

	got, err := core.GetBlocks(missing)
	require.NoError(t, err)
	require.Empty(t, got, "pending blocks are not served")

	_, err = core.AddBlocks(layers[0])
	require.NoError(t, err)
	require.Equal(t, "0", core.GetStats()["pending_blocks"])
	require.Empty(t, core.MissingAncestors())
	require.Equal(t, dag.Round(3), core.Round())

	got, err = core.GetBlocks(missing)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestCorePendingBufferBound(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())
	core.conf.MaxPendingBlocks = 4

	layers := otherLayers(b, 1, 3)

	_, err := core.AddBlocks(append(layers[1], layers[2]...))
	require.NoError(t, err)

	stats := core.GetStats()
	require.Equal(t, "4", stats["pending_blocks"])
	require.Equal(t, "2", stats["evicted_blocks"])

	// Round 2 survived the eviction and is released by round 1.
	_, err = core.AddBlocks(layers[0])
	require.NoError(t, err)
	require.Equal(t, dag.Round(3), core.Round())
}

func TestCoreRejectsInvalidBlocks(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())

	forged := dag.NewBlock(0, 1, 1, 1000, dag.GenesisRefs(b.Committee), nil)
	wrongKey, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	require.NoError(t, forged.Sign(wrongKey))

	_, err = core.AddBlocks([]*dag.Block{forged})
	require.True(t, common.IsKind(err, common.ValidationFailure), "got %v", err)
	require.Equal(t, "4", core.GetStats()["known_blocks"])
	require.Nil(t, core.Halted())
}

func TestCoreEquivocation(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())

	g := b.Genesis
	ancestors := []dag.BlockRef{g[1].Ref(), g[0].Ref(), g[2].Ref(), g[3].Ref()}
	first := b.Block(1, 1, ancestors)
	second := b.Block(1, 1, ancestors, []byte("other payload"))

	_, err := core.AddBlocks([]*dag.Block{first})
	require.NoError(t, err)
	_, err = core.AddBlocks([]*dag.Block{second})
	require.NoError(t, err)

	stats := core.GetStats()
	require.Equal(t, "1", stats["equivocations"])
	require.Equal(t, "6", stats["known_blocks"])
}

func TestCoreCommitsAndStorageFailure(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	store := &faultyStore{Store: dag.NewInmemStore()}
	core := newTestCore(t, b, 0, store)

	// Wave 0 elects A, which never proposes here, so it is skipped. Wave 1
	// elects B at round 4 and is decided at round 6.
	layers := otherLayers(b, 1, 6)
	for _, l := range layers[:5] {
		subDags, err := core.AddBlocks(l)
		require.NoError(t, err)
		require.Empty(t, subDags)
	}

	store.failCommits = true
	_, err := core.AddBlocks(layers[5])
	require.True(t, common.IsKind(err, common.StorageFailure), "got %v", err)
	require.Nil(t, core.Halted())

	stats := core.GetStats()
	require.Equal(t, "0", stats["commits"])
	require.Equal(t, "5", stats["quorum_round"])
	require.Equal(t, "3", stats["pending_blocks"])

	store.failCommits = false
	subDags, err := core.AddBlocks(layers[5])
	require.NoError(t, err)
	require.Len(t, subDags, 1)
	require.Equal(t, uint64(0), subDags[0].Index)
	require.Equal(t, layers[3][0].Ref(), subDags[0].Leader)

	stats = core.GetStats()
	require.Equal(t, "1", stats["commits"])
	require.Equal(t, "1", stats["skipped_leaders"])
	require.Equal(t, "6", stats["quorum_round"])

	last, err := store.LastCommit()
	require.NoError(t, err)
	require.Equal(t, subDags[0].Leader, last.Leader)
}

func TestCoreProposalRetry(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	store := &faultyStore{Store: dag.NewInmemStore()}
	core := newTestCore(t, b, 0, store)

	store.failBlocks = true
	require.NoError(t, core.SubmitTransaction([]byte("tx")))
	_, _, err := core.TryPropose()
	require.True(t, common.IsKind(err, common.StorageFailure), "got %v", err)

	_, _, err = core.ProposeAt(1)
	require.ErrorIs(t, err, ErrAlreadyProposed, "the failed block still owns the round")

	store.failBlocks = false
	block, _, err := core.TryPropose()
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, dag.Round(1), block.Round())
	require.Equal(t, [][]byte{[]byte("tx")}, block.Transactions())
	require.True(t, store.Contains(block.Ref()))
}

func TestCoreCloseEpoch(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	core := newTestCore(t, b, 0, dag.NewInmemStore())

	layers := otherLayers(b, 1, 3)
	_, err := core.AddBlocks(layers[0])
	require.NoError(t, err)
	_, err = core.AddBlocks(layers[2])
	require.NoError(t, err)
	require.NoError(t, core.SubmitTransaction([]byte("dropped")))

	_, err = core.CloseEpoch()
	require.NoError(t, err)
	require.True(t, core.EpochClosed())

	stats := core.GetStats()
	require.Equal(t, "0", stats["pending_blocks"])
	require.Equal(t, "0", stats["transaction_pool"])

	_, err = core.AddBlocks(layers[1])
	require.ErrorIs(t, err, ErrEpochClosed)
	_, _, err = core.TryPropose()
	require.ErrorIs(t, err, ErrEpochClosed)
	require.ErrorIs(t, core.SubmitTransaction([]byte("late")), ErrEpochClosed)
	_, err = core.CloseEpoch()
	require.ErrorIs(t, err, ErrEpochClosed)
}

func TestCoreHaltsOnInvariantViolation(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	store := &faultyStore{Store: dag.NewInmemStore()}
	core := newTestCore(t, b, 0, store)

	layers := otherLayers(b, 1, 6)
	for _, l := range layers[:5] {
		_, err := core.AddBlocks(l)
		require.NoError(t, err)
	}

	// B4 gets committed by round 6, and its causal history has a hole.
	store.hidden = map[dag.BlockRef]bool{layers[0][0].Ref(): true}

	_, err := core.AddBlocks(layers[5])
	require.True(t, common.IsFatal(err), "got %v", err)
	require.NotNil(t, core.Halted())
	require.Equal(t, "true", core.GetStats()["halted"])

	store.hidden = nil
	_, err = core.AddBlocks(layers[5])
	require.ErrorIs(t, err, ErrHalted)
	_, _, err = core.TryPropose()
	require.ErrorIs(t, err, ErrHalted)
}

func TestCoreBootstrapFromBadger(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := os.MkdirTemp("test_data", "core")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	b := dagtest.NewEqualBuilder(4)

	store, err := dag.NewBadgerStore(dir, 100, common.NewTestEntry(t, "badger"))
	require.NoError(t, err)
	core := newTestCore(t, b, 0, store)

	for _, l := range otherLayers(b, 1, 6) {
		_, err := core.AddBlocks(l)
		require.NoError(t, err)
	}
	block, _, err := core.TryPropose()
	require.NoError(t, err)
	require.Equal(t, dag.Round(7), block.Round())

	before := core.GetStats()
	require.Equal(t, "1", before["commits"])
	require.NoError(t, store.Close())

	reopened, err := dag.LoadBadgerStore(dir, 100, common.NewTestEntry(t, "badger"))
	require.NoError(t, err)
	defer reopened.Close()

	recovered := newTestCore(t, b, 0, reopened)
	after := recovered.GetStats()
	for _, k := range []string{"commits", "known_blocks", "quorum_round", "last_proposed_round", "last_decided_round"} {
		require.Equal(t, before[k], after[k], k)
	}

	again, _, err := recovered.TryPropose()
	require.NoError(t, err)
	require.Nil(t, again, "no second block for round 7 after restart")

	_, err = recovered.AddBlocks(otherLayers(b, 7, 7)[0])
	require.NoError(t, err)
	next, _, err := recovered.TryPropose()
	require.NoError(t, err)
	require.Equal(t, dag.Round(8), next.Round())
	require.Equal(t, block.Ref(), next.Ancestors()[0])
}

// TestCoreAgreement runs four cores in lock step, delivering every proposal
// to every other core, and checks that they commit the same sequence.
func TestCoreAgreement(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)

	cores := make([]*Core, 4)
	for i := range cores {
		cores[i] = newTestCore(t, b, i, dag.NewInmemStore())
	}
	require.NoError(t, cores[2].SubmitTransaction([]byte("hello")))

	commits := make([][]*consensus.CommittedSubDag, 4)

	for step := 0; step < 12; step++ {
		for i, core := range cores {
			block, subDags, err := core.TryPropose()
			require.NoError(t, err)
			commits[i] = append(commits[i], subDags...)
			if block == nil {
				continue
			}
			for j, other := range cores {
				if j == i {
					continue
				}
				subDags, err := other.AddBlocks([]*dag.Block{block})
				require.NoError(t, err)
				commits[j] = append(commits[j], subDags...)
			}
		}
	}

	shortest := len(commits[0])
	for _, c := range commits {
		if len(c) < shortest {
			shortest = len(c)
		}
	}
	require.Greater(t, shortest, 1)

	found := false
	for i := 0; i < shortest; i++ {
		ref := commits[0][i]
		for j := 1; j < 4; j++ {
			other := commits[j][i]
			require.Equal(t, uint64(i), other.Index)
			require.Equal(t, ref.Leader, other.Leader)
			require.Equal(t, ref.Digest, other.Digest)
			require.Equal(t, ref.Timestamp, other.Timestamp)
		}
		for _, blk := range ref.Blocks {
			for _, tx := range blk.Transactions() {
				if string(tx) == "hello" {
					found = true
				}
			}
		}
	}
	require.True(t, found, "submitted transaction was committed")
}
