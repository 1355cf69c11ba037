package dag

import (
	"fmt"
	"sync"

	"github.com/mosaicnetworks/dagbft/src/committee"
	cm "github.com/mosaicnetworks/dagbft/src/common"
)

// InmemStore is a Store that keeps everything in memory. It is used in tests
// and by authorities running without persistence.
type InmemStore struct {
	sync.RWMutex
	blocks  map[BlockRef]*Block
	index   *refIndex
	commits []*Commit
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		blocks: make(map[BlockRef]*Block),
		index:  newRefIndex(),
	}
}

/*******************************************************************************
Implement the Store interface
*******************************************************************************/

// GetBlock implements the Store interface.
func (s *InmemStore) GetBlock(ref BlockRef) (*Block, error) {
	s.RLock()
	defer s.RUnlock()
	return s.getBlock(ref)
}

func (s *InmemStore) getBlock(ref BlockRef) (*Block, error) {
	b, ok := s.blocks[ref]
	if !ok {
		return nil, missingBlockErr(ref)
	}
	return b, nil
}

// GetBlocksByRound implements the Store interface.
func (s *InmemStore) GetBlocksByRound(round Round) ([]*Block, error) {
	s.RLock()
	defer s.RUnlock()
	return s.lookup(s.index.Round(round))
}

// GetBlocksAtAuthorityRound implements the Store interface.
func (s *InmemStore) GetBlocksAtAuthorityRound(author committee.AuthorityIndex, round Round) ([]*Block, error) {
	s.RLock()
	defer s.RUnlock()
	return s.lookup(s.index.AuthorityRound(author, round))
}

// LinkedToRound implements the Store interface.
func (s *InmemStore) LinkedToRound(block *Block, round Round) ([]*Block, error) {
	s.RLock()
	defer s.RUnlock()
	return linkedToRound(s.getBlock, block, round)
}

// Contains implements the Store interface.
func (s *InmemStore) Contains(ref BlockRef) bool {
	s.RLock()
	defer s.RUnlock()
	return s.index.Has(ref)
}

// SetBlocks implements the Store interface.
func (s *InmemStore) SetBlocks(blocks []*Block) error {
	s.Lock()
	defer s.Unlock()
	for _, b := range blocks {
		ref := b.Ref()
		if s.index.Insert(ref) {
			s.blocks[ref] = b
		}
	}
	return nil
}

// SetCommits implements the Store interface. Commits must be stored in index
// order without gaps.
func (s *InmemStore) SetCommits(commits []*Commit) error {
	s.Lock()
	defer s.Unlock()
	for _, c := range commits {
		next := uint64(len(s.commits))
		if c.Index < next {
			continue
		}
		if c.Index > next {
			return cm.NewInvariantErr("commit %d stored before commit %d", c.Index, next)
		}
		s.commits = append(s.commits, c)
	}
	return nil
}

// GetCommit implements the Store interface.
func (s *InmemStore) GetCommit(index uint64) (*Commit, error) {
	s.RLock()
	defer s.RUnlock()
	if index >= uint64(len(s.commits)) {
		return nil, cm.NewStoreErr("Commit", cm.KeyNotFound, fmt.Sprint(index))
	}
	return s.commits[index], nil
}

// LastCommit implements the Store interface.
func (s *InmemStore) LastCommit() (*Commit, error) {
	s.RLock()
	defer s.RUnlock()
	if len(s.commits) == 0 {
		return nil, cm.NewStoreErr("Commit", cm.Empty, "")
	}
	return s.commits[len(s.commits)-1], nil
}

// HighestRound implements the Store interface.
func (s *InmemStore) HighestRound() Round {
	s.RLock()
	defer s.RUnlock()
	return s.index.HighestRound()
}

// LastBlockBefore implements the Store interface.
func (s *InmemStore) LastBlockBefore(author committee.AuthorityIndex, round Round) (*Block, error) {
	s.RLock()
	defer s.RUnlock()
	ref, ok := s.index.LastBefore(author, round)
	if !ok {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, fmt.Sprintf("%s<%d", author, round))
	}
	return s.getBlock(ref)
}

// BlockRefs implements the Store interface.
func (s *InmemStore) BlockRefs(from Round) []BlockRef {
	s.RLock()
	defer s.RUnlock()
	return s.index.From(from)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

func (s *InmemStore) lookup(refs []BlockRef) ([]*Block, error) {
	res := make([]*Block, 0, len(refs))
	for _, r := range refs {
		b, err := s.getBlock(r)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}
