// Package dagtest builds signed DAGs for tests.
package dagtest

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
	"github.com/mosaicnetworks/dagbft/src/dag"
)

// Builder creates blocks for a committee whose keys it owns. Every block it
// creates is signed and remembered, so that later layers can reference it.
type Builder struct {
	Committee *committee.Committee
	Keys      []*ecdsa.PrivateKey
	Genesis   []*dag.Block

	blocks []*dag.Block
	byRef  map[dag.BlockRef]*dag.Block
	latest map[committee.AuthorityIndex]*dag.Block
}

// NewBuilder creates a committee with the given stakes.
func NewBuilder(stakes ...uint64) *Builder {
	authorities := make([]*committee.Authority, len(stakes))
	privKeys := make([]*ecdsa.PrivateKey, len(stakes))

	for i, s := range stakes {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			panic(err)
		}
		privKeys[i] = key
		authorities[i] = committee.NewAuthority(
			fmt.Sprintf("node%d", i),
			fmt.Sprintf("inmem://%d", i),
			keys.PublicKeyHex(&key.PublicKey),
			s)
	}

	c, err := committee.NewCommittee(0, authorities)
	if err != nil {
		panic(err)
	}

	return FromCommittee(c, privKeys)
}

// NewEqualBuilder creates a committee of n authorities with stake 1.
func NewEqualBuilder(n int) *Builder {
	stakes := make([]uint64, n)
	for i := range stakes {
		stakes[i] = 1
	}
	return NewBuilder(stakes...)
}

// FromCommittee creates a Builder for an existing committee.
func FromCommittee(c *committee.Committee, privKeys []*ecdsa.PrivateKey) *Builder {
	b := &Builder{
		Committee: c,
		Keys:      privKeys,
		Genesis:   dag.GenesisBlocks(c),
		byRef:     make(map[dag.BlockRef]*dag.Block),
		latest:    make(map[committee.AuthorityIndex]*dag.Block),
	}
	for _, g := range b.Genesis {
		b.byRef[g.Ref()] = g
		b.latest[g.Author()] = g
	}
	return b
}

// Block creates a block with explicit ancestors.
func (b *Builder) Block(author committee.AuthorityIndex, round dag.Round, ancestors []dag.BlockRef, txs ...[]byte) *dag.Block {
	block := dag.NewBlock(b.Committee.Epoch, author, round, int64(round)*1000+int64(author), ancestors, txs)
	if err := block.Sign(b.Keys[author]); err != nil {
		panic(err)
	}
	b.remember(block)
	return block
}

func (b *Builder) remember(block *dag.Block) {
	b.blocks = append(b.blocks, block)
	b.byRef[block.Ref()] = block
	if l := b.latest[block.Author()]; l == nil || l.Round() <= block.Round() {
		b.latest[block.Author()] = block
	}
}

// Latest returns the highest block built so far for author.
func (b *Builder) Latest(author committee.AuthorityIndex) *dag.Block {
	return b.latest[author]
}

// LatestBefore returns the highest block of author below round.
func (b *Builder) LatestBefore(author committee.AuthorityIndex, round dag.Round) *dag.Block {
	var best *dag.Block
	for _, blk := range b.byRef {
		if blk.Author() != author || blk.Round() >= round {
			continue
		}
		if best == nil || best.Round() < blk.Round() ||
			(best.Round() == blk.Round() && blk.Ref().Less(best.Ref())) {
			best = blk
		}
	}
	return best
}

// Layer creates one block per author in authors at round. Each block
// references the author's own latest block first, then the latest block
// below round of every author in from. A nil from means every authority.
func (b *Builder) Layer(round dag.Round, authors []committee.AuthorityIndex, from []committee.AuthorityIndex) []*dag.Block {
	if authors == nil {
		authors = b.Committee.Indexes()
	}
	if from == nil {
		from = b.Committee.Indexes()
	}

	res := []*dag.Block{}
	for _, a := range authors {
		ancestors := []dag.BlockRef{b.LatestBefore(a, round).Ref()}
		for _, f := range from {
			if f == a {
				continue
			}
			if anc := b.LatestBefore(f, round); anc != nil {
				ancestors = append(ancestors, anc.Ref())
			}
		}
		res = append(res, b.Block(a, round, ancestors))
	}
	return res
}

// Layers creates fully connected rounds from first to last inclusive.
func (b *Builder) Layers(first, last dag.Round) []*dag.Block {
	res := []*dag.Block{}
	for r := first; r <= last; r++ {
		res = append(res, b.Layer(r, nil, nil)...)
	}
	return res
}

// Blocks returns every non-genesis block in creation order, which is a
// causal order.
func (b *Builder) Blocks() []*dag.Block {
	return append([]*dag.Block{}, b.blocks...)
}

// Get returns a block built by b.
func (b *Builder) Get(ref dag.BlockRef) *dag.Block {
	return b.byRef[ref]
}

// Authorities is a shorthand for building index lists.
func Authorities(idx ...int) []committee.AuthorityIndex {
	res := make([]committee.AuthorityIndex, len(idx))
	for i, v := range idx {
		res[i] = committee.AuthorityIndex(v)
	}
	return res
}
