package consensus

import (
	"math/rand"
	"testing"

	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/dag/dagtest"
	"github.com/stretchr/testify/require"
)

func TestThresholdClockQuorum(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	tc := NewThresholdClock(b.Committee)
	require.Equal(t, dag.Round(1), tc.GetRound())

	round1 := b.Layer(1, nil, nil)

	for i, blk := range round1[:3] {
		advanced, err := tc.AddBlock(blk.Ref())
		require.NoError(t, err)
		require.Equal(t, i == 2, advanced)
	}
	require.Equal(t, dag.Round(2), tc.GetRound())

	advanced, err := tc.AddBlock(round1[3].Ref())
	require.NoError(t, err)
	require.False(t, advanced)
	require.Equal(t, dag.Round(2), tc.GetRound())

	// a second block from an authority already counted
	dup := b.Block(0, 1, []dag.BlockRef{b.Genesis[0].Ref(), b.Genesis[1].Ref(), b.Genesis[2].Ref()}, []byte("equivocation"))
	tc.AddBlock(dup.Ref())
	require.Equal(t, dag.Round(2), tc.GetRound())

	require.Zero(t, tc.PendingRounds())
}

func TestThresholdClockIgnoresGenesisAndDuplicates(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	tc := NewThresholdClock(b.Committee)

	for _, g := range b.Genesis {
		tc.AddBlock(g.Ref())
	}
	require.Equal(t, dag.Round(1), tc.GetRound())

	round1 := b.Layer(1, nil, nil)
	for i := 0; i < 5; i++ {
		tc.AddBlock(round1[0].Ref())
		tc.AddBlock(round1[1].Ref())
	}
	require.Equal(t, dag.Round(1), tc.GetRound())
	require.Equal(t, 1, tc.PendingRounds())
}

func TestThresholdClockJumps(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	tc := NewThresholdClock(b.Committee)

	blocks := b.Layers(1, 3)

	// round 3 first
	_, err := tc.AddBlocks(refsOf(blocks[8:]))
	require.NoError(t, err)
	require.Equal(t, dag.Round(4), tc.GetRound())

	_, err = tc.AddBlocks(refsOf(blocks[:8]))
	require.NoError(t, err)
	require.Equal(t, dag.Round(4), tc.GetRound())
}

func TestThresholdClockOrderIndependent(t *testing.T) {
	b := dagtest.NewEqualBuilder(7)
	blocks := b.Layers(1, 5)
	// a partial round on top
	blocks = append(blocks, b.Layer(6, dagtest.Authorities(0, 3, 4, 5), nil)...)
	blocks = append(blocks, b.Layer(7, dagtest.Authorities(1), nil)...)

	refs := refsOf(blocks)

	var final dag.Round
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		tc := NewThresholdClock(b.Committee)
		perm := r.Perm(len(refs))

		prev := tc.GetRound()
		for _, p := range perm {
			_, err := tc.AddBlock(refs[p])
			require.NoError(t, err)
			// and a duplicate
			tc.AddBlock(refs[p])
			require.GreaterOrEqual(t, tc.GetRound(), prev)
			prev = tc.GetRound()
		}

		if i == 0 {
			final = tc.GetRound()
		}
		require.Equal(t, final, tc.GetRound())
	}
	require.Equal(t, dag.Round(6), final)
}

func refsOf(blocks []*dag.Block) []dag.BlockRef {
	res := make([]dag.BlockRef, len(blocks))
	for i, b := range blocks {
		res[i] = b.Ref()
	}
	return res
}
