package consensus

import (
	"bytes"
	"testing"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/dag/dagtest"
	"github.com/stretchr/testify/require"
)

func TestSignedBlockValidatorAcceptsHonestDAG(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	v := NewSignedBlockValidator(b.Committee, Limits{}, 4)

	blocks := b.Layers(1, 5)
	for _, blk := range blocks {
		require.NoError(t, v.Validate(blk), blk.String())
	}
	require.NoError(t, v.ValidateAll(blocks))
}

func TestSignedBlockValidatorRejects(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	v := NewSignedBlockValidator(b.Committee, Limits{MaxTxSize: 8, MaxTxCount: 2, MaxBlockBytes: 12}, 2)

	g := dag.GenesisRefs(b.Committee)
	round1 := b.Layer(1, nil, nil)
	r1 := refsOf(round1)

	sign := func(blk *dag.Block) *dag.Block {
		require.NoError(t, blk.Sign(b.Keys[blk.Author()]))
		return blk
	}

	wrongEpoch := sign(dag.NewBlock(1, 0, 1, 0, g, nil))
	genesis := sign(dag.NewBlock(0, 0, 0, 0, nil, nil))
	badAuthor := dag.NewBlock(0, 9, 1, 0, g, nil)
	badAuthor.Signature = bytes.Repeat([]byte{1}, 64)

	unsigned := dag.NewBlock(0, 0, 2, 0, r1, nil)
	wrongKey := dag.NewBlock(0, 0, 2, 0, r1, nil)
	require.NoError(t, wrongKey.Sign(b.Keys[1]))

	fakeGenesis := dag.BlockRef{Author: 1, Round: 0, Digest: dag.Digest{7}}

	cases := []struct {
		name  string
		block *dag.Block
	}{
		{"wrong epoch", wrongEpoch},
		{"genesis round", genesis},
		{"unknown author", badAuthor},
		{"unsigned", unsigned},
		{"signed by another key", wrongKey},
		{"no ancestors", sign(dag.NewBlock(0, 0, 2, 0, nil, nil))},
		{"too many ancestors", sign(dag.NewBlock(0, 0, 2, 0, append(append([]dag.BlockRef{}, r1...), r1[0]), nil))},
		{"own block not first", sign(dag.NewBlock(0, 0, 2, 0, []dag.BlockRef{r1[1], r1[0], r1[2]}, nil))},
		{"own author twice", sign(dag.NewBlock(0, 0, 2, 0, []dag.BlockRef{r1[0], g[0], r1[2]}, nil))},
		{"ancestor from same round", sign(dag.NewBlock(0, 0, 1, 0, []dag.BlockRef{g[0], r1[1], g[2], g[3]}, nil))},
		{"fake genesis ancestor", sign(dag.NewBlock(0, 0, 1, 0, []dag.BlockRef{g[0], fakeGenesis, g[2], g[3]}, nil))},
		{"duplicate ancestor author", sign(dag.NewBlock(0, 0, 2, 0, []dag.BlockRef{r1[0], r1[1], g[1]}, nil))},
		{"ancestor author out of committee", sign(dag.NewBlock(0, 0, 2, 0, []dag.BlockRef{r1[0], r1[1], {Author: 8, Round: 1}}, nil))},
		{"no quorum of parents", sign(dag.NewBlock(0, 0, 2, 0, []dag.BlockRef{r1[0], r1[1], g[2], g[3]}, nil))},
		{"transaction too large", sign(dag.NewBlock(0, 0, 2, 0, r1, [][]byte{make([]byte, 9)}))},
		{"too many transactions", sign(dag.NewBlock(0, 0, 2, 0, r1, [][]byte{{1}, {2}, {3}}))},
		{"payload too large", sign(dag.NewBlock(0, 0, 2, 0, r1, [][]byte{make([]byte, 7), make([]byte, 7)}))},
	}

	for _, c := range cases {
		err := v.Validate(c.block)
		require.Error(t, err, c.name)
		require.True(t, common.IsKind(err, common.ValidationFailure), "%s: %v", c.name, err)
	}

	ok := sign(dag.NewBlock(0, 0, 2, 0, r1, [][]byte{make([]byte, 6), make([]byte, 6)}))
	require.NoError(t, v.Validate(ok))

	err := v.ValidateAll([]*dag.Block{ok, cases[3].block, ok})
	require.True(t, common.IsKind(err, common.ValidationFailure))
}

func TestAcceptAllValidator(t *testing.T) {
	var v BlockValidator = AcceptAllValidator{}
	require.NoError(t, v.Validate(dag.NewBlock(9, 9, 0, 0, nil, nil)))
	require.NoError(t, v.ValidateAll(nil))
}
