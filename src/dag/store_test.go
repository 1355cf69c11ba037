package dag_test

import (
	"os"
	"testing"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/dag/dagtest"
	"github.com/stretchr/testify/require"
)

func initBadgerStore(t *testing.T) *dag.BadgerStore {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := os.MkdirTemp("test_data", "badger")
	if err != nil {
		t.Fatal(err)
	}

	store, err := dag.NewBadgerStore(dir, 100, common.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func removeBadgerStore(store *dag.BadgerStore, t *testing.T) {
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(store.StorePath()); err != nil {
		t.Fatal(err)
	}
}

// testStore runs the Store contract against any implementation.
func testStore(t *testing.T, store dag.Store) {
	b := dagtest.NewEqualBuilder(4)

	require.NoError(t, store.SetBlocks(b.Genesis))
	blocks := b.Layers(1, 3)
	require.NoError(t, store.SetBlocks(blocks))

	// idempotent
	require.NoError(t, store.SetBlocks(blocks[:4]))

	for _, blk := range blocks {
		require.True(t, store.Contains(blk.Ref()))
		got, err := store.GetBlock(blk.Ref())
		require.NoError(t, err)
		require.Equal(t, blk.Ref(), got.Ref())
	}

	missing := dag.BlockRef{Author: 0, Round: 9}
	_, err := store.GetBlock(missing)
	require.True(t, common.IsStore(err, common.KeyNotFound))
	require.False(t, store.Contains(missing))

	round2, err := store.GetBlocksByRound(2)
	require.NoError(t, err)
	require.Len(t, round2, 4)
	for i := 1; i < len(round2); i++ {
		require.True(t, round2[i-1].Ref().Less(round2[i].Ref()))
	}

	slot, err := store.GetBlocksAtAuthorityRound(1, 3)
	require.NoError(t, err)
	require.Len(t, slot, 1)
	require.EqualValues(t, 1, slot[0].Author())

	require.Equal(t, dag.Round(3), store.HighestRound())

	last, err := store.LastBlockBefore(2, 3)
	require.NoError(t, err)
	require.Equal(t, dag.Round(2), last.Round())
	require.EqualValues(t, 2, last.Author())

	_, err = store.LastBlockBefore(2, 0)
	require.True(t, common.IsStore(err, common.KeyNotFound))

	// every round-3 block reaches all round-1 blocks
	top := b.Latest(0)
	linked, err := store.LinkedToRound(top, 1)
	require.NoError(t, err)
	require.Len(t, linked, 4)

	linked, err = store.LinkedToRound(top, 3)
	require.NoError(t, err)
	require.Empty(t, linked)

	refs := store.BlockRefs(1)
	require.Len(t, refs, 12)
	require.Equal(t, dag.Round(1), refs[0].Round)

	_, err = store.LastCommit()
	require.True(t, common.IsStore(err, common.Empty))

	c0 := &dag.Commit{Index: 0, Leader: blocks[0].Ref(), Blocks: []dag.BlockRef{blocks[0].Ref()}}
	c1 := &dag.Commit{Index: 1, Leader: blocks[5].Ref(), Blocks: []dag.BlockRef{blocks[5].Ref()}}
	require.NoError(t, store.SetCommits([]*dag.Commit{c0, c1}))
	require.NoError(t, store.SetCommits([]*dag.Commit{c1}))
	require.Error(t, store.SetCommits([]*dag.Commit{{Index: 5}}))

	lc, err := store.LastCommit()
	require.NoError(t, err)
	require.EqualValues(t, 1, lc.Index)

	gc, err := store.GetCommit(0)
	require.NoError(t, err)
	require.Equal(t, c0.Leader, gc.Leader)
}

func TestInmemStore(t *testing.T) {
	testStore(t, dag.NewInmemStore())
}

func TestBadgerStore(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)
	testStore(t, store)
}

func TestLoadBadgerStore(t *testing.T) {
	store := initBadgerStore(t)
	path := store.StorePath()
	defer os.RemoveAll(path)

	b := dagtest.NewEqualBuilder(4)
	require.NoError(t, store.SetBlocks(b.Genesis))
	blocks := b.Layers(1, 2)
	require.NoError(t, store.SetBlocks(blocks))
	require.NoError(t, store.SetCommits([]*dag.Commit{{Index: 0, Leader: blocks[0].Ref()}}))
	require.NoError(t, store.Close())

	loaded, err := dag.LoadBadgerStore(path, 100, common.NewTestEntry(t, "badger"))
	require.NoError(t, err)
	defer loaded.Close()

	require.Equal(t, dag.Round(2), loaded.HighestRound())
	require.Len(t, loaded.BlockRefs(0), 12)
	for _, blk := range blocks {
		got, err := loaded.GetBlock(blk.Ref())
		require.NoError(t, err)
		require.Equal(t, blk.Digest(), got.Digest())
	}

	lc, err := loaded.LastCommit()
	require.NoError(t, err)
	require.Equal(t, blocks[0].Ref(), lc.Leader)

	_, err = dag.LoadBadgerStore("test_data/does_not_exist", 100, nil)
	require.Error(t, err)
}
