package consensus

import (
	"sort"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
)

// QuorumStatus ...
type QuorumStatus int

const (
	// BelowThreshold ...
	BelowThreshold QuorumStatus = iota
	// ReachedThreshold ...
	ReachedThreshold
)

// String ...
func (s QuorumStatus) String() string {
	if s == ReachedThreshold {
		return "ReachedThreshold"
	}
	return "BelowThreshold"
}

// Threshold selects which committee threshold an aggregator targets.
type Threshold int

const (
	// Quorum is 2f+1.
	Quorum Threshold = iota
	// Validity is f+1.
	Validity
)

// StakeAggregator accumulates stake from distinct authorities. Evidence is
// recorded once per authority; later contributions from the same authority
// are ignored. Reaching the threshold is latched.
type StakeAggregator[K any] struct {
	threshold Threshold
	evidence  map[committee.AuthorityIndex]K
	stake     uint64
	reached   bool
}

// NewStakeAggregator ...
func NewStakeAggregator[K any](threshold Threshold) *StakeAggregator[K] {
	return &StakeAggregator[K]{
		threshold: threshold,
		evidence:  make(map[committee.AuthorityIndex]K),
	}
}

// Add records evidence from author and reports whether the threshold has been
// reached. An author outside the committee is refused with a
// ProtocolInvariantViolation and leaves the aggregator unchanged.
func (a *StakeAggregator[K]) Add(author committee.AuthorityIndex, evidence K, c *committee.Committee) (QuorumStatus, error) {
	if !c.IsValidIndex(author) {
		return a.status(), common.NewInvariantErr("authority %d is not in the committee of size %d", author, c.Size())
	}

	if _, ok := a.evidence[author]; !ok {
		a.evidence[author] = evidence
		a.stake += c.Stake(author)
	}

	if !a.reached {
		switch a.threshold {
		case Validity:
			a.reached = c.ReachedValidity(a.stake)
		default:
			a.reached = c.ReachedQuorum(a.stake)
		}
	}

	return a.status(), nil
}

func (a *StakeAggregator[K]) status() QuorumStatus {
	if a.reached {
		return ReachedThreshold
	}
	return BelowThreshold
}

// Reached ...
func (a *StakeAggregator[K]) Reached() bool {
	return a.reached
}

// Stake returns the combined stake of the distinct contributors.
func (a *StakeAggregator[K]) Stake() uint64 {
	return a.stake
}

// Contributors returns the authorities counted so far in ascending order.
func (a *StakeAggregator[K]) Contributors() []committee.AuthorityIndex {
	res := make([]committee.AuthorityIndex, 0, len(a.evidence))
	for author := range a.evidence {
		res = append(res, author)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Evidence returns what author contributed.
func (a *StakeAggregator[K]) Evidence(author committee.AuthorityIndex) (K, bool) {
	e, ok := a.evidence[author]
	return e, ok
}

// Clear resets the aggregator.
func (a *StakeAggregator[K]) Clear() {
	a.evidence = make(map[committee.AuthorityIndex]K)
	a.stake = 0
	a.reached = false
}
