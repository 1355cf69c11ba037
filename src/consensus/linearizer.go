package consensus

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
)

// CommittedSubDag is the causal closure of a committed leader, minus the
// blocks committed earlier. Blocks are sorted by (round, author, digest).
type CommittedSubDag struct {
	Index          uint64
	Leader         dag.BlockRef
	Blocks         []*dag.Block
	Timestamp      int64
	PreviousDigest dag.Digest
	Digest         dag.Digest
}

// Commit returns the persisted form of the sub-DAG.
func (s *CommittedSubDag) Commit() *dag.Commit {
	refs := make([]dag.BlockRef, len(s.Blocks))
	for i, b := range s.Blocks {
		refs[i] = b.Ref()
	}
	return &dag.Commit{
		Index:          s.Index,
		Leader:         s.Leader,
		Blocks:         refs,
		Timestamp:      s.Timestamp,
		PreviousDigest: s.PreviousDigest,
	}
}

// String ...
func (s *CommittedSubDag) String() string {
	return fmt.Sprintf("SubDag(%d, leader %s, %d blocks)", s.Index, s.Leader, len(s.Blocks))
}

// Linearizer turns committed leaders into sub-DAGs and remembers which
// blocks have been committed.
type Linearizer struct {
	store dag.BlockReader
	state *linearizerState
}

// NewLinearizer ...
func NewLinearizer(store dag.BlockReader) *Linearizer {
	return &Linearizer{
		store: store,
		state: &linearizerState{
			store:     store,
			committed: make(map[dag.BlockRef]struct{}),
			overlay:   make(map[dag.BlockRef]struct{}),
		},
	}
}

// linearizerState is either the committed state of a Linearizer or a fork of
// it. A fork reads the committed set of its parent and records new commits in
// its own overlay, so the parent is unchanged until join.
type linearizerState struct {
	store         dag.BlockReader
	committed     map[dag.BlockRef]struct{}
	overlay       map[dag.BlockRef]struct{}
	nextIndex     uint64
	lastDigest    dag.Digest
	lastTimestamp int64
}

func (l *Linearizer) fork() *linearizerState {
	return &linearizerState{
		store:         l.store,
		committed:     l.state.committed,
		overlay:       make(map[dag.BlockRef]struct{}),
		nextIndex:     l.state.nextIndex,
		lastDigest:    l.state.lastDigest,
		lastTimestamp: l.state.lastTimestamp,
	}
}

func (l *Linearizer) join(s *linearizerState) {
	for ref := range s.overlay {
		l.state.committed[ref] = struct{}{}
	}
	l.state.nextIndex = s.nextIndex
	l.state.lastDigest = s.lastDigest
	l.state.lastTimestamp = s.lastTimestamp
}

func (l *Linearizer) recover(commit *dag.Commit) error {
	if commit.Index != l.state.nextIndex {
		return common.NewInvariantErr("recovering commit %d, expected %d", commit.Index, l.state.nextIndex)
	}
	for _, ref := range commit.Blocks {
		l.state.committed[ref] = struct{}{}
	}
	d, err := commit.Digest()
	if err != nil {
		return err
	}
	l.state.nextIndex = commit.Index + 1
	l.state.lastDigest = d
	l.state.lastTimestamp = commit.Timestamp
	return nil
}

// IsCommitted ...
func (l *Linearizer) IsCommitted(ref dag.BlockRef) bool {
	return l.state.isCommitted(ref)
}

func (s *linearizerState) isCommitted(ref dag.BlockRef) bool {
	if ref.Round == dag.GenesisRound {
		return true
	}
	if _, ok := s.committed[ref]; ok {
		return true
	}
	_, ok := s.overlay[ref]
	return ok
}

// linearize collects the uncommitted causal history of leader. Every
// ancestor must be in the store.
func (s *linearizerState) linearize(leader *dag.Block) (*CommittedSubDag, error) {
	blocks := []*dag.Block{leader}
	s.overlay[leader.Ref()] = struct{}{}

	for i := 0; i < len(blocks); i++ {
		for _, ref := range blocks[i].Ancestors() {
			if s.isCommitted(ref) {
				continue
			}
			ancestor, err := s.store.GetBlock(ref)
			if err != nil {
				if common.IsStore(err, common.KeyNotFound) {
					return nil, common.NewInvariantErr("ancestor %s of committed block %s is missing", ref, blocks[i])
				}
				return nil, err
			}
			s.overlay[ref] = struct{}{}
			blocks = append(blocks, ancestor)
		}
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Ref().Less(blocks[j].Ref())
	})

	ts := leader.Timestamp()
	if ts < s.lastTimestamp {
		ts = s.lastTimestamp
	}

	subDag := &CommittedSubDag{
		Index:          s.nextIndex,
		Leader:         leader.Ref(),
		Blocks:         blocks,
		Timestamp:      ts,
		PreviousDigest: s.lastDigest,
	}

	d, err := subDag.Commit().Digest()
	if err != nil {
		return nil, err
	}
	subDag.Digest = d

	s.nextIndex++
	s.lastDigest = d
	s.lastTimestamp = ts

	return subDag, nil
}
