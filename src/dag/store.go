package dag

import (
	"sort"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
)

// BlockReader is the lookup contract the consensus core needs from a block
// store.
type BlockReader interface {
	// GetBlock returns a KeyNotFound StoreErr if the block is unknown.
	GetBlock(ref BlockRef) (*Block, error)
	// GetBlocksByRound returns every block of the round in BlockRef order.
	GetBlocksByRound(round Round) ([]*Block, error)
	// GetBlocksAtAuthorityRound returns every block of the slot. More than one
	// means the author equivocated.
	GetBlocksAtAuthorityRound(author committee.AuthorityIndex, round Round) ([]*Block, error)
	// LinkedToRound returns the blocks of the given round reachable from
	// block through ancestor edges.
	LinkedToRound(block *Block, round Round) ([]*Block, error)
}

// Store adds the write path and the queries used for recovery.
type Store interface {
	BlockReader
	// Contains reports whether the block is stored.
	Contains(ref BlockRef) bool
	// SetBlocks stores blocks. Storing a known block is a no-op.
	SetBlocks(blocks []*Block) error
	// SetCommits stores commit records.
	SetCommits(commits []*Commit) error
	// GetCommit returns the commit with the given index.
	GetCommit(index uint64) (*Commit, error)
	// LastCommit returns the commit with the highest index, or an Empty
	// StoreErr if nothing was committed.
	LastCommit() (*Commit, error)
	// HighestRound returns the highest round of any stored block.
	HighestRound() Round
	// LastBlockBefore returns the highest-round block of author with a round
	// strictly lower than round, or a KeyNotFound StoreErr.
	LastBlockBefore(author committee.AuthorityIndex, round Round) (*Block, error)
	// BlockRefs returns the refs of all blocks with round >= from, in
	// BlockRef order, which is also a causal order.
	BlockRefs(from Round) []BlockRef
	// Close ...
	Close() error
	// StorePath returns the location of the database, if any.
	StorePath() string
}

// linkedToRound walks ancestor edges from block, never descending below
// round, and collects the blocks found exactly at round.
func linkedToRound(get func(BlockRef) (*Block, error), block *Block, round Round) ([]*Block, error) {
	if block.Round() <= round {
		return nil, nil
	}

	visited := map[BlockRef]bool{}
	found := []*Block{}
	queue := []*Block{block}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]

		for _, a := range b.Ancestors() {
			if a.Round < round || visited[a] {
				continue
			}
			visited[a] = true

			ancestor, err := get(a)
			if err != nil {
				return nil, err
			}

			if a.Round == round {
				found = append(found, ancestor)
			} else {
				queue = append(queue, ancestor)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].Ref().Less(found[j].Ref())
	})

	return found, nil
}

func missingBlockErr(ref BlockRef) error {
	return common.NewStoreErr("Block", common.KeyNotFound, ref.String())
}
