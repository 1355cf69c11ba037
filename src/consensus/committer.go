package consensus

import (
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/sirupsen/logrus"
)

// MinimumWaveLength is one leader round, one voting round and one decision
// round.
const MinimumWaveLength = 3

// Decision is the outcome of the commit rule for a leader slot.
type Decision int

const (
	// Undecided ...
	Undecided Decision = iota
	// Commit ...
	Commit
	// Skip ...
	Skip
)

// String ...
func (d Decision) String() string {
	switch d {
	case Commit:
		return "Commit"
	case Skip:
		return "Skip"
	default:
		return "Undecided"
	}
}

// LeaderStatus is the decision for one leader slot. Block is only set for
// Commit.
type LeaderStatus struct {
	Slot     dag.AuthorityRound
	Decision Decision
	Block    *dag.Block
}

// String ...
func (s LeaderStatus) String() string {
	if s.Decision == Commit {
		return fmt.Sprintf("Commit(%s)", s.Block)
	}
	return fmt.Sprintf("%s(%s)", s.Decision, s.Slot)
}

// CommitterOptions shape the leader slots of a Committer.
type CommitterOptions struct {
	// WaveLength is the number of rounds from a leader round to its decision
	// round, inclusive.
	WaveLength int
	// LeadersPerRound is the number of leader slots of each leader round.
	LeadersPerRound int
	// Pipeline starts a wave at every round instead of every WaveLength
	// rounds.
	Pipeline bool
}

// Committer applies the wave-based commit rule to the blocks of a
// BlockReader. Deciding is read-only; the only state of the Committer is the
// position of the next undecided leader slot and the set of committed blocks,
// which change through Apply.
//
// Leader slots are numbered in (round, offset) order. Slot s belongs to wave
// s/LeadersPerRound and is led by the authority elected with offset
// s%LeadersPerRound.
type Committer struct {
	committee  *committee.Committee
	store      dag.BlockReader
	waveLength dag.Round
	leaders    uint64
	pipeline   bool
	schedule   *LeaderSchedule
	linearizer *Linearizer

	// index of the first undecided leader slot
	nextSlot uint64

	logger *logrus.Entry
}

// NewCommitter returns a Committer with one leader per wave and no
// pipelining.
func NewCommitter(c *committee.Committee,
	store dag.BlockReader,
	waveLength int,
	logger *logrus.Entry) (*Committer, error) {

	return NewUniversalCommitter(c, store, CommitterOptions{
		WaveLength:      waveLength,
		LeadersPerRound: 1,
	}, logger)
}

// NewUniversalCommitter returns a Committer that may have several leaders
// per round and overlapping waves.
func NewUniversalCommitter(c *committee.Committee,
	store dag.BlockReader,
	opts CommitterOptions,
	logger *logrus.Entry) (*Committer, error) {

	if opts.WaveLength < MinimumWaveLength {
		return nil, fmt.Errorf("wave length %d is below the minimum of %d", opts.WaveLength, MinimumWaveLength)
	}
	if opts.LeadersPerRound < 1 || opts.LeadersPerRound > c.Size() {
		return nil, fmt.Errorf("%d leaders per round with a committee of %d", opts.LeadersPerRound, c.Size())
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Committer{
		committee:  c,
		store:      store,
		waveLength: dag.Round(opts.WaveLength),
		leaders:    uint64(opts.LeadersPerRound),
		pipeline:   opts.Pipeline,
		schedule:   NewLeaderSchedule(c),
		linearizer: NewLinearizer(store),
		logger:     logger.WithField("component", "committer"),
	}, nil
}

/*******************************************************************************
Waves
*******************************************************************************/

// WaveLength ...
func (c *Committer) WaveLength() int {
	return int(c.waveLength)
}

// LeadersPerRound ...
func (c *Committer) LeadersPerRound() int {
	return int(c.leaders)
}

// stride is the number of rounds between two leader rounds.
func (c *Committer) stride() dag.Round {
	if c.pipeline {
		return 1
	}
	return c.waveLength
}

// WaveOf returns the wave whose leader round is at or before round. With
// pipelining every round leads its own wave. Genesis belongs to no wave.
func (c *Committer) WaveOf(round dag.Round) (uint64, bool) {
	if round == dag.GenesisRound {
		return 0, false
	}
	return uint64((round - 1) / c.stride()), true
}

// LeaderRound is the first round of the wave.
func (c *Committer) LeaderRound(wave uint64) dag.Round {
	return dag.Round(wave)*c.stride() + 1
}

// VotingRound ...
func (c *Committer) VotingRound(wave uint64) dag.Round {
	return c.LeaderRound(wave) + 1
}

// DecisionRound is the last round of the wave.
func (c *Committer) DecisionRound(wave uint64) dag.Round {
	return c.LeaderRound(wave) + c.waveLength - 1
}

// IsLeaderRound ...
func (c *Committer) IsLeaderRound(round dag.Round) bool {
	return round != dag.GenesisRound && (round-1)%c.stride() == 0
}

// ElectLeader returns the first leader slot of round, if round is a leader
// round.
func (c *Committer) ElectLeader(round dag.Round) (dag.AuthorityRound, bool) {
	leaders := c.ElectLeaders(round)
	if len(leaders) == 0 {
		return dag.AuthorityRound{}, false
	}
	return leaders[0], true
}

// ElectLeaders returns every leader slot of round in offset order.
func (c *Committer) ElectLeaders(round dag.Round) []dag.AuthorityRound {
	if !c.IsLeaderRound(round) {
		return nil
	}
	wave, _ := c.WaveOf(round)
	res := make([]dag.AuthorityRound, c.leaders)
	for i := range res {
		res[i] = c.slot(wave*c.leaders + uint64(i))
	}
	return res
}

// slot returns the leader slot with the given index.
func (c *Committer) slot(index uint64) dag.AuthorityRound {
	wave := index / c.leaders
	return dag.AuthorityRound{
		Author: c.schedule.ElectLeader(wave, index%c.leaders),
		Round:  c.LeaderRound(wave),
	}
}

// slotIndex is the inverse of slot.
func (c *Committer) slotIndex(s dag.AuthorityRound) (uint64, error) {
	if !c.IsLeaderRound(s.Round) {
		return 0, common.NewInvariantErr("%s is not a leader slot", s)
	}
	wave, _ := c.WaveOf(s.Round)
	for offset := uint64(0); offset < c.leaders; offset++ {
		if c.schedule.ElectLeader(wave, offset) == s.Author {
			return wave*c.leaders + offset, nil
		}
	}
	return 0, common.NewInvariantErr("%s is not a leader slot", s)
}

// LastDecided returns the round of the last decided leader slot, 0 before
// the first decision.
func (c *Committer) LastDecided() dag.Round {
	if c.nextSlot == 0 {
		return 0
	}
	return c.slot(c.nextSlot - 1).Round
}

/*******************************************************************************
Decisions
*******************************************************************************/

// TryDecide decides every leader slot from index next up to the slots of
// highestRound, and returns the longest decided prefix in slot order. Later
// leaders are decided first so that they can serve as anchors for earlier
// ones.
func (c *Committer) TryDecide(next uint64, highestRound dag.Round) ([]LeaderStatus, error) {
	var slots []dag.AuthorityRound
	for i := next; ; i++ {
		slot := c.slot(i)
		if slot.Round > highestRound {
			break
		}
		slots = append(slots, slot)
	}

	// statuses[i] is the decision for slots[i]
	statuses := make([]LeaderStatus, len(slots))

	for i := len(slots) - 1; i >= 0; i-- {
		status, err := c.tryDirectDecide(slots[i])
		if err != nil {
			return nil, err
		}

		if status.Decision == Undecided {
			status, err = c.tryIndirectDecide(slots[i], statuses[i+1:])
			if err != nil {
				return nil, err
			}
		}

		statuses[i] = status
	}

	decided := []LeaderStatus{}
	for _, s := range statuses {
		if s.Decision == Undecided {
			break
		}
		decided = append(decided, s)
	}

	return decided, nil
}

// tryDirectDecide applies the direct skip and direct commit rules to a slot.
func (c *Committer) tryDirectDecide(slot dag.AuthorityRound) (LeaderStatus, error) {
	status := LeaderStatus{Slot: slot}
	wave, _ := c.WaveOf(slot.Round)

	skip, err := c.enoughLeaderBlame(c.VotingRound(wave), slot)
	if err != nil {
		return status, err
	}
	if skip {
		status.Decision = Skip
		return status, nil
	}

	leaders, err := c.store.GetBlocksAtAuthorityRound(slot.Author, slot.Round)
	if err != nil {
		return status, c.readErr(err)
	}

	decisionBlocks, err := c.store.GetBlocksByRound(c.DecisionRound(wave))
	if err != nil {
		return status, c.readErr(err)
	}

	committed := []*dag.Block{}
	for _, leader := range leaders {
		ok, err := c.enoughLeaderSupport(decisionBlocks, leader)
		if err != nil {
			return status, err
		}
		if ok {
			committed = append(committed, leader)
		}
	}

	switch len(committed) {
	case 0:
		return status, nil
	case 1:
		status.Decision = Commit
		status.Block = committed[0]
		return status, nil
	default:
		return status, common.NewInvariantErr("%d equivocating blocks directly committed at slot %s", len(committed), slot)
	}
}

// tryIndirectDecide uses the first leader above the slot's decision round
// that is not skipped as an anchor. later holds the decisions for the
// following leader slots in ascending order.
func (c *Committer) tryIndirectDecide(slot dag.AuthorityRound, later []LeaderStatus) (LeaderStatus, error) {
	status := LeaderStatus{Slot: slot}
	wave, _ := c.WaveOf(slot.Round)
	decisionRound := c.DecisionRound(wave)

	for _, anchor := range later {
		if anchor.Slot.Round <= decisionRound {
			continue
		}
		switch anchor.Decision {
		case Skip:
			continue
		case Undecided:
			return status, nil
		case Commit:
			return c.decideFromAnchor(slot, anchor.Block)
		}
	}

	return status, nil
}

func (c *Committer) decideFromAnchor(slot dag.AuthorityRound, anchor *dag.Block) (LeaderStatus, error) {
	status := LeaderStatus{Slot: slot}
	wave, _ := c.WaveOf(slot.Round)

	leaders, err := c.store.GetBlocksAtAuthorityRound(slot.Author, slot.Round)
	if err != nil {
		return status, c.readErr(err)
	}

	potentialCertificates, err := c.store.LinkedToRound(anchor, c.DecisionRound(wave))
	if err != nil {
		return status, c.readErr(err)
	}

	certified := []*dag.Block{}
	for _, leader := range leaders {
		votes := map[dag.BlockRef]bool{}
		for _, cert := range potentialCertificates {
			ok, err := c.isCertificate(cert, leader, votes)
			if err != nil {
				return status, err
			}
			if ok {
				certified = append(certified, leader)
				break
			}
		}
	}

	switch len(certified) {
	case 0:
		status.Decision = Skip
	case 1:
		status.Decision = Commit
		status.Block = certified[0]
	default:
		return status, common.NewInvariantErr("anchor %s certifies %d blocks at slot %s", anchor, len(certified), slot)
	}

	return status, nil
}

// enoughLeaderBlame reports whether a quorum of voting-round blocks do not
// reference the leader slot at all.
func (c *Committer) enoughLeaderBlame(votingRound dag.Round, slot dag.AuthorityRound) (bool, error) {
	voters, err := c.store.GetBlocksByRound(votingRound)
	if err != nil {
		return false, c.readErr(err)
	}

	blame := NewStakeAggregator[struct{}](Quorum)
	for _, v := range voters {
		references := false
		for _, a := range v.Ancestors() {
			if a.Slot() == slot {
				references = true
				break
			}
		}
		if references {
			continue
		}
		status, err := blame.Add(v.Author(), struct{}{}, c.committee)
		if err != nil {
			return false, err
		}
		if status == ReachedThreshold {
			return true, nil
		}
	}
	return false, nil
}

// enoughLeaderSupport reports whether a quorum of the decision blocks are
// certificates for leader.
func (c *Committer) enoughLeaderSupport(decisionBlocks []*dag.Block, leader *dag.Block) (bool, error) {
	votes := map[dag.BlockRef]bool{}
	support := NewStakeAggregator[struct{}](Quorum)

	for _, d := range decisionBlocks {
		ok, err := c.isCertificate(d, leader, votes)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		status, err := support.Add(d.Author(), struct{}{}, c.committee)
		if err != nil {
			return false, err
		}
		if status == ReachedThreshold {
			return true, nil
		}
	}
	return false, nil
}

// isCertificate reports whether the ancestors of cert contain a quorum of
// votes for leader. votes memoizes vote checks across certificates of the
// same leader.
func (c *Committer) isCertificate(cert *dag.Block, leader *dag.Block, votes map[dag.BlockRef]bool) (bool, error) {
	agg := NewStakeAggregator[struct{}](Quorum)

	for _, ref := range cert.Ancestors() {
		isVote, known := votes[ref]
		if !known {
			ancestor, err := c.store.GetBlock(ref)
			if err != nil {
				return false, c.readErr(err)
			}
			isVote, err = c.isVote(ancestor, leader)
			if err != nil {
				return false, err
			}
			votes[ref] = isVote
		}

		if !isVote {
			continue
		}
		status, err := agg.Add(ref.Author, struct{}{}, c.committee)
		if err != nil {
			return false, err
		}
		if status == ReachedThreshold {
			return true, nil
		}
	}
	return false, nil
}

// isVote reports whether vote supports exactly this leader block at the
// leader's slot.
func (c *Committer) isVote(vote *dag.Block, leader *dag.Block) (bool, error) {
	supported, err := c.findSupportedBlock(leader.Slot(), vote)
	if err != nil {
		return false, err
	}
	return supported != nil && *supported == leader.Ref(), nil
}

// findSupportedBlock returns the block at slot that from references, directly
// or through ancestors above the slot's round. The first match in ancestor
// order wins.
func (c *Committer) findSupportedBlock(slot dag.AuthorityRound, from *dag.Block) (*dag.BlockRef, error) {
	if from.Round() <= slot.Round {
		return nil, nil
	}

	for _, a := range from.Ancestors() {
		if a.Slot() == slot {
			ref := a
			return &ref, nil
		}
		if a.Round <= slot.Round {
			continue
		}
		ancestor, err := c.store.GetBlock(a)
		if err != nil {
			return nil, c.readErr(err)
		}
		supported, err := c.findSupportedBlock(slot, ancestor)
		if err != nil {
			return nil, err
		}
		if supported != nil {
			return supported, nil
		}
	}

	return nil, nil
}

// readErr classifies store errors met while walking the DAG. A missing block
// means an unvalidated block reached the committer.
func (c *Committer) readErr(err error) error {
	if common.IsStore(err, common.KeyNotFound) {
		return common.NewInvariantErr("committer walked to a missing block: %v", err)
	}
	return err
}

/*******************************************************************************
Commit
*******************************************************************************/

// CommitPlan is the result of Prepare. It is applied with Apply once the
// commits it contains have been persisted.
type CommitPlan struct {
	Decided []LeaderStatus
	SubDags []*CommittedSubDag

	nextSlot   uint64
	linearized *linearizerState
}

// Commits returns the records to persist.
func (p *CommitPlan) Commits() []*dag.Commit {
	res := make([]*dag.Commit, len(p.SubDags))
	for i, s := range p.SubDags {
		res[i] = s.Commit()
	}
	return res
}

// Skipped returns the number of skipped leaders in the plan.
func (p *CommitPlan) Skipped() int {
	n := 0
	for _, s := range p.Decided {
		if s.Decision == Skip {
			n++
		}
	}
	return n
}

// Prepare decides new leaders and linearizes the committed ones without
// changing the Committer.
func (c *Committer) Prepare(highestRound dag.Round) (*CommitPlan, error) {
	decided, err := c.TryDecide(c.nextSlot, highestRound)
	if err != nil {
		return nil, err
	}

	plan := &CommitPlan{
		Decided:    decided,
		nextSlot:   c.nextSlot + uint64(len(decided)),
		linearized: c.linearizer.fork(),
	}

	for _, status := range decided {

		if status.Decision != Commit {
			c.logger.WithField("slot", status.Slot).Debug("Skip leader")
			continue
		}

		subDag, err := plan.linearized.linearize(status.Block)
		if err != nil {
			return nil, err
		}
		plan.SubDags = append(plan.SubDags, subDag)
	}

	return plan, nil
}

// Apply latches a prepared plan.
func (c *Committer) Apply(plan *CommitPlan) {
	c.nextSlot = plan.nextSlot
	c.linearizer.join(plan.linearized)

	for _, s := range plan.SubDags {
		c.logger.WithFields(logrus.Fields{
			"index":  s.Index,
			"leader": s.Leader,
			"blocks": len(s.Blocks),
		}).Debug("Commit sub-DAG")
	}
}

// TryCommit is Prepare followed by Apply, for callers without persistence.
func (c *Committer) TryCommit(highestRound dag.Round) ([]*CommittedSubDag, error) {
	plan, err := c.Prepare(highestRound)
	if err != nil {
		return nil, err
	}
	c.Apply(plan)
	return plan.SubDags, nil
}

// Recover restores the committer from persisted commits, given in index
// order. Skipped slots after the last commit are decided again.
func (c *Committer) Recover(commits []*dag.Commit) error {
	for _, commit := range commits {
		index, err := c.slotIndex(commit.Leader.Slot())
		if err != nil {
			return err
		}
		if err := c.linearizer.recover(commit); err != nil {
			return err
		}
		c.nextSlot = index + 1
	}
	return nil
}

// NextCommitIndex ...
func (c *Committer) NextCommitIndex() uint64 {
	return c.linearizer.state.nextIndex
}
