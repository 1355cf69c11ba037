package node

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
	"github.com/mosaicnetworks/dagbft/src/dag"
)

// Validator holds the identity of the local authority: its private key and
// its position in the committee.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	index  committee.AuthorityIndex
	bound  bool
	pubHex string
}

// NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
	}
}

// PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

// Bind looks the validator up in the committee.
func (v *Validator) Bind(c *committee.Committee) error {
	idx, ok := c.IndexByPubKeyHex(v.PublicKeyHex())
	if !ok {
		return fmt.Errorf("%s is not a member of the committee of epoch %d", v.Moniker, c.Epoch)
	}
	v.index = idx
	v.bound = true
	return nil
}

// Index returns the committee index found by Bind.
func (v *Validator) Index() committee.AuthorityIndex {
	return v.index
}

// Sign signs a block authored by this validator.
func (v *Validator) Sign(block *dag.Block) error {
	if !v.bound || block.Author() != v.index {
		return fmt.Errorf("%s cannot sign %s", v.Moniker, block)
	}
	return block.Sign(v.Key)
}
