package consensus

import (
	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"golang.org/x/sync/errgroup"
)

// BlockValidator checks blocks before they are admitted into the DAG.
// Validation must not depend on any state other than the committee, so
// several blocks can be validated concurrently.
type BlockValidator interface {
	Validate(block *dag.Block) error
	ValidateAll(blocks []*dag.Block) error
}

// Limits bound the payload of a block. Zero means unlimited.
type Limits struct {
	MaxTxSize     int
	MaxTxCount    int
	MaxBlockBytes int
}

// SignedBlockValidator is the production BlockValidator. It checks the
// signature, the slot, the shape of the ancestor set and the payload limits.
type SignedBlockValidator struct {
	committee *committee.Committee
	genesis   map[dag.BlockRef]struct{}
	limits    Limits
	workers   int
}

// NewSignedBlockValidator ...
func NewSignedBlockValidator(c *committee.Committee, limits Limits, workers int) *SignedBlockValidator {
	genesis := make(map[dag.BlockRef]struct{}, c.Size())
	for _, ref := range dag.GenesisRefs(c) {
		genesis[ref] = struct{}{}
	}
	if workers <= 0 {
		workers = 1
	}
	return &SignedBlockValidator{
		committee: c,
		genesis:   genesis,
		limits:    limits,
		workers:   workers,
	}
}

// Validate implements BlockValidator.
func (v *SignedBlockValidator) Validate(block *dag.Block) error {
	body := block.Body

	if body.Epoch != v.committee.Epoch {
		return common.NewValidationErr("%s: wrong epoch %d, expected %d", block, body.Epoch, v.committee.Epoch)
	}
	if body.Round == dag.GenesisRound {
		return common.NewValidationErr("%s: unexpected genesis block", block)
	}

	author := v.committee.Authority(body.Author)
	if author == nil {
		return common.NewValidationErr("%s: invalid author %d", block, body.Author)
	}

	pubKey, err := author.PublicKey()
	if err != nil {
		return common.NewValidationErr("%s: author public key: %v", block, err)
	}
	ok, err := block.Verify(pubKey)
	if err != nil || !ok {
		return common.NewValidationErr("%s: invalid signature", block)
	}

	if err := v.validateAncestors(block); err != nil {
		return err
	}

	return v.validatePayload(block)
}

func (v *SignedBlockValidator) validateAncestors(block *dag.Block) error {
	body := block.Body

	if len(body.Ancestors) == 0 {
		return common.NewValidationErr("%s: no ancestors", block)
	}
	if len(body.Ancestors) > v.committee.Size() {
		return common.NewValidationErr("%s: %d ancestors exceed committee size %d", block, len(body.Ancestors), v.committee.Size())
	}

	seen := make(map[committee.AuthorityIndex]bool, len(body.Ancestors))
	parents := NewStakeAggregator[dag.BlockRef](Quorum)

	for i, a := range body.Ancestors {
		if !v.committee.IsValidIndex(a.Author) {
			return common.NewValidationErr("%s: ancestor %s has invalid author", block, a)
		}
		if i == 0 && a.Author != body.Author {
			return common.NewValidationErr("%s: first ancestor %s is not the author's own block", block, a)
		}
		if i > 0 && a.Author == body.Author {
			return common.NewValidationErr("%s: ancestor %s repeats the author", block, a)
		}
		if a.Round >= body.Round {
			return common.NewValidationErr("%s: ancestor %s is not from an earlier round", block, a)
		}
		if a.Round == dag.GenesisRound {
			if _, ok := v.genesis[a]; !ok {
				return common.NewValidationErr("%s: ancestor %s is not a genesis block", block, a)
			}
		}
		if seen[a.Author] {
			return common.NewValidationErr("%s: duplicate ancestor author %s", block, a.Author)
		}
		seen[a.Author] = true

		if a.Round == body.Round-1 {
			if _, err := parents.Add(a.Author, a, v.committee); err != nil {
				return common.NewValidationErr("%s: %v", block, err)
			}
		}
	}

	if !parents.Reached() {
		return common.NewValidationErr("%s: ancestors at round %d carry stake %d, below quorum %d",
			block, body.Round-1, parents.Stake(), v.committee.QuorumThreshold())
	}

	return nil
}

func (v *SignedBlockValidator) validatePayload(block *dag.Block) error {
	txs := block.Transactions()

	if v.limits.MaxTxCount > 0 && len(txs) > v.limits.MaxTxCount {
		return common.NewValidationErr("%s: %d transactions exceed limit %d", block, len(txs), v.limits.MaxTxCount)
	}

	total := 0
	for _, tx := range txs {
		if v.limits.MaxTxSize > 0 && len(tx) > v.limits.MaxTxSize {
			return common.NewValidationErr("%s: transaction of %d bytes exceeds limit %d", block, len(tx), v.limits.MaxTxSize)
		}
		total += len(tx)
	}

	if v.limits.MaxBlockBytes > 0 && total > v.limits.MaxBlockBytes {
		return common.NewValidationErr("%s: %d transaction bytes exceed limit %d", block, total, v.limits.MaxBlockBytes)
	}

	return nil
}

// ValidateAll validates blocks in parallel and returns the first failure.
func (v *SignedBlockValidator) ValidateAll(blocks []*dag.Block) error {
	return validateAll(v, blocks, v.workers)
}

func validateAll(v BlockValidator, blocks []*dag.Block, workers int) error {
	var g errgroup.Group
	g.SetLimit(workers)
	for _, b := range blocks {
		b := b
		g.Go(func() error {
			return v.Validate(b)
		})
	}
	return g.Wait()
}

// AcceptAllValidator accepts every block. It is only meant for tests.
type AcceptAllValidator struct{}

// Validate implements BlockValidator.
func (AcceptAllValidator) Validate(*dag.Block) error {
	return nil
}

// ValidateAll implements BlockValidator.
func (AcceptAllValidator) ValidateAll([]*dag.Block) error {
	return nil
}
