package consensus

import (
	"testing"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag/dagtest"
	"github.com/stretchr/testify/require"
)

func TestStakeAggregatorQuorum(t *testing.T) {
	c := dagtest.NewEqualBuilder(4).Committee
	agg := NewStakeAggregator[string](Quorum)

	status, err := agg.Add(0, "a", c)
	require.NoError(t, err)
	require.Equal(t, BelowThreshold, status)

	status, _ = agg.Add(1, "b", c)
	require.Equal(t, BelowThreshold, status)
	require.EqualValues(t, 2, agg.Stake())

	// the same authority again does not count twice
	status, _ = agg.Add(1, "b2", c)
	require.Equal(t, BelowThreshold, status)
	require.EqualValues(t, 2, agg.Stake())
	ev, ok := agg.Evidence(1)
	require.True(t, ok)
	require.Equal(t, "b", ev)

	status, _ = agg.Add(3, "d", c)
	require.Equal(t, ReachedThreshold, status)
	require.EqualValues(t, 3, agg.Stake())

	status, _ = agg.Add(3, "d", c)
	require.Equal(t, ReachedThreshold, status)
	require.EqualValues(t, 3, agg.Stake())

	require.Equal(t, []committee.AuthorityIndex{0, 1, 3}, agg.Contributors())

	agg.Clear()
	require.False(t, agg.Reached())
	require.Zero(t, agg.Stake())
}

func TestStakeAggregatorRejectsUnknownAuthority(t *testing.T) {
	c := dagtest.NewEqualBuilder(4).Committee
	agg := NewStakeAggregator[struct{}](Quorum)

	_, err := agg.Add(4, struct{}{}, c)
	require.Error(t, err)
	require.True(t, common.IsFatal(err))
	require.Zero(t, agg.Stake())
	require.Empty(t, agg.Contributors())
}

func TestStakeAggregatorWeighted(t *testing.T) {
	c := dagtest.NewBuilder(1, 1, 1, 7).Committee
	require.EqualValues(t, 7, c.QuorumThreshold())

	quorum := NewStakeAggregator[struct{}](Quorum)
	validity := NewStakeAggregator[struct{}](Validity)

	for i := 0; i < 3; i++ {
		status, err := quorum.Add(committee.AuthorityIndex(i), struct{}{}, c)
		require.NoError(t, err)
		require.Equal(t, BelowThreshold, status)
		validity.Add(committee.AuthorityIndex(i), struct{}{}, c)
	}
	require.EqualValues(t, 4, c.ValidityThreshold())
	require.False(t, validity.Reached())

	status, _ := quorum.Add(3, struct{}{}, c)
	require.Equal(t, ReachedThreshold, status)
	validity.Add(3, struct{}{}, c)
	require.True(t, validity.Reached())
}

func TestStakeAggregatorMonotonic(t *testing.T) {
	c := dagtest.NewBuilder(3, 1, 2, 5, 1, 1, 4).Committee
	agg := NewStakeAggregator[int](Quorum)

	seq := []int{2, 2, 0, 6, 2, 1, 5, 3, 4, 3, 0}
	var prev uint64
	reached := false
	for i, a := range seq {
		status, err := agg.Add(committee.AuthorityIndex(a), i, c)
		require.NoError(t, err)
		require.GreaterOrEqual(t, agg.Stake(), prev)
		prev = agg.Stake()

		if reached {
			require.Equal(t, ReachedThreshold, status)
		}
		if status == ReachedThreshold {
			require.True(t, c.ReachedQuorum(agg.Stake()))
			reached = true
		} else {
			require.False(t, c.ReachedQuorum(agg.Stake()))
		}
	}
	require.True(t, reached)
}
