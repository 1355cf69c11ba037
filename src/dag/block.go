package dag

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/crypto"
	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
)

// BlockBody is the signed part of a block.
type BlockBody struct {
	Epoch     uint64
	Author    committee.AuthorityIndex
	Round     Round
	Timestamp int64 // milliseconds since the unix epoch
	// Ancestors lists at most one block per author from earlier rounds. The
	// author's own previous block always comes first.
	Ancestors    []BlockRef
	Transactions [][]byte
}

// Marshal returns the canonical encoding of the body.
func (bb *BlockBody) Marshal() ([]byte, error) {
	return encode(bb)
}

// Hash is the digest that gets signed.
func (bb *BlockBody) Hash() ([]byte, error) {
	data, err := bb.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(data), nil
}

// Block is the unit proposed by an authority in a round.
type Block struct {
	Body      BlockBody
	Signature []byte

	digest Digest
	sealed bool
}

// NewBlock creates an unsigned block.
func NewBlock(epoch uint64,
	author committee.AuthorityIndex,
	round Round,
	timestamp int64,
	ancestors []BlockRef,
	txs [][]byte) *Block {

	b := &Block{
		Body: BlockBody{
			Epoch:        epoch,
			Author:       author,
			Round:        round,
			Timestamp:    timestamp,
			Ancestors:    ancestors,
			Transactions: txs,
		},
	}
	b.seal()
	return b
}

// seal caches the digest. It is only called while the block is still owned by
// a single goroutine.
func (b *Block) seal() error {
	d, err := b.Hash()
	if err != nil {
		return err
	}
	b.digest = d
	b.sealed = true
	return nil
}

// Hash computes the digest over the whole block, signature included.
func (b *Block) Hash() (Digest, error) {
	var d Digest
	data, err := b.Marshal()
	if err != nil {
		return d, err
	}
	return crypto.SHA256Sum(data), nil
}

// Digest returns the cached digest.
func (b *Block) Digest() Digest {
	if b.sealed {
		return b.digest
	}
	d, _ := b.Hash()
	return d
}

// Ref ...
func (b *Block) Ref() BlockRef {
	return BlockRef{
		Author: b.Body.Author,
		Round:  b.Body.Round,
		Digest: b.Digest(),
	}
}

// Slot ...
func (b *Block) Slot() AuthorityRound {
	return AuthorityRound{Author: b.Body.Author, Round: b.Body.Round}
}

// Author ...
func (b *Block) Author() committee.AuthorityIndex {
	return b.Body.Author
}

// Round ...
func (b *Block) Round() Round {
	return b.Body.Round
}

// Timestamp ...
func (b *Block) Timestamp() int64 {
	return b.Body.Timestamp
}

// Ancestors ...
func (b *Block) Ancestors() []BlockRef {
	return b.Body.Ancestors
}

// Transactions ...
func (b *Block) Transactions() [][]byte {
	return b.Body.Transactions
}

// IsGenesis ...
func (b *Block) IsGenesis() bool {
	return b.Body.Round == GenesisRound
}

// Sign signs the body and refreshes the digest.
func (b *Block) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := b.Body.Hash()
	if err != nil {
		return err
	}
	sig, err := keys.Sign(privKey, hash)
	if err != nil {
		return err
	}
	b.Signature = sig
	return b.seal()
}

// Verify checks the signature against the author's public key.
func (b *Block) Verify(pubKey *ecdsa.PublicKey) (bool, error) {
	hash, err := b.Body.Hash()
	if err != nil {
		return false, err
	}
	return keys.Verify(pubKey, hash, b.Signature), nil
}

// Marshal returns the canonical encoding of the block.
func (b *Block) Marshal() ([]byte, error) {
	return encode(b)
}

// Unmarshal decodes a block. Any decoding failure is a MalformedBlock error.
func (b *Block) Unmarshal(data []byte) error {
	if err := decode(data, b); err != nil {
		return common.NewMalformedBlockErr(err, "decoding %d bytes", len(data))
	}
	return b.seal()
}

// String ...
func (b *Block) String() string {
	return fmt.Sprintf("B%s%d(%s)", b.Body.Author, b.Body.Round, b.Digest())
}

// UnmarshalBlock is a convenience wrapper around Block.Unmarshal.
func UnmarshalBlock(data []byte) (*Block, error) {
	b := new(Block)
	if err := b.Unmarshal(data); err != nil {
		return nil, err
	}
	return b, nil
}

// GenesisBlocks returns one unsigned round-0 block per authority. They are
// identical on every authority of the committee.
func GenesisBlocks(c *committee.Committee) []*Block {
	res := make([]*Block, 0, c.Size())
	for _, idx := range c.Indexes() {
		res = append(res, NewBlock(c.Epoch, idx, GenesisRound, 0, nil, nil))
	}
	return res
}

// GenesisRefs ...
func GenesisRefs(c *committee.Committee) []BlockRef {
	blocks := GenesisBlocks(c)
	res := make([]BlockRef, len(blocks))
	for i, b := range blocks {
		res[i] = b.Ref()
	}
	return res
}
