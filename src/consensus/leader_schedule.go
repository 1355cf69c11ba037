package consensus

import (
	"github.com/mosaicnetworks/dagbft/src/committee"
)

// LeaderSchedule elects leaders by stake-weighted round robin. Over
// TotalStake consecutive waves, every authority leads a number of waves equal
// to its stake.
type LeaderSchedule struct {
	committee *committee.Committee
}

// NewLeaderSchedule ...
func NewLeaderSchedule(c *committee.Committee) *LeaderSchedule {
	return &LeaderSchedule{committee: c}
}

// ElectLeader returns the leader of the wave. A non-zero offset rotates the
// result, which gives distinct leaders when a wave has several.
func (s *LeaderSchedule) ElectLeader(wave uint64, offset uint64) committee.AuthorityIndex {
	pos := wave % s.committee.TotalStake()

	var (
		cumulative uint64
		leader     committee.AuthorityIndex
	)
	for _, idx := range s.committee.Indexes() {
		cumulative += s.committee.Stake(idx)
		if pos < cumulative {
			leader = idx
			break
		}
	}

	size := uint64(s.committee.Size())
	return committee.AuthorityIndex((uint64(leader) + offset) % size)
}
