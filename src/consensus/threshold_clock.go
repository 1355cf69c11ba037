package consensus

import (
	"time"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/dag"
)

// ThresholdClock tracks the highest round for which a quorum of blocks has
// been observed. The next local block targets the round after it.
type ThresholdClock struct {
	committee   *committee.Committee
	quorumRound dag.Round
	quorumTs    time.Time
	aggregators map[dag.Round]*StakeAggregator[dag.BlockRef]
	now         func() time.Time
}

// NewThresholdClock starts at round 0, so the first proposal targets round 1.
func NewThresholdClock(c *committee.Committee) *ThresholdClock {
	return &ThresholdClock{
		committee:   c,
		aggregators: make(map[dag.Round]*StakeAggregator[dag.BlockRef]),
		quorumTs:    time.Now(),
		now:         time.Now,
	}
}

// AddBlock feeds one block into the clock and reports whether the quorum round
// advanced. Blocks at or below the quorum round are ignored.
func (tc *ThresholdClock) AddBlock(ref dag.BlockRef) (bool, error) {
	if ref.Round <= tc.quorumRound {
		return false, nil
	}

	agg, ok := tc.aggregators[ref.Round]
	if !ok {
		agg = NewStakeAggregator[dag.BlockRef](Quorum)
		tc.aggregators[ref.Round] = agg
	}

	status, err := agg.Add(ref.Author, ref, tc.committee)
	if err != nil {
		return false, err
	}
	if status != ReachedThreshold {
		return false, nil
	}

	tc.quorumRound = ref.Round
	tc.quorumTs = tc.now()
	for r := range tc.aggregators {
		if r <= ref.Round {
			delete(tc.aggregators, r)
		}
	}
	return true, nil
}

// AddBlocks feeds several blocks and reports whether the quorum round
// advanced.
func (tc *ThresholdClock) AddBlocks(refs []dag.BlockRef) (bool, error) {
	advanced := false
	for _, ref := range refs {
		ok, err := tc.AddBlock(ref)
		if err != nil {
			return advanced, err
		}
		advanced = advanced || ok
	}
	return advanced, nil
}

// GetRound returns the round the next local block should target.
func (tc *ThresholdClock) GetRound() dag.Round {
	return tc.quorumRound + 1
}

// QuorumRound ...
func (tc *ThresholdClock) QuorumRound() dag.Round {
	return tc.quorumRound
}

// QuorumReachedAt is when the quorum round last advanced.
func (tc *ThresholdClock) QuorumReachedAt() time.Time {
	return tc.quorumTs
}

// PendingRounds is the number of rounds above the quorum round that have
// received blocks.
func (tc *ThresholdClock) PendingRounds() int {
	return len(tc.aggregators)
}
