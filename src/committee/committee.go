package committee

import (
	"errors"
	"fmt"
)

// Committee is the read-only set of authorities for one epoch.
type Committee struct {
	Epoch       uint64
	Authorities []*Authority

	totalStake uint64
	byPubKey   map[string]AuthorityIndex
}

// NewCommittee validates the authorities and precomputes the total stake. The
// public key of every authority is parsed eagerly so that later lookups cannot
// fail.
func NewCommittee(epoch uint64, authorities []*Authority) (*Committee, error) {
	if len(authorities) == 0 {
		return nil, errors.New("committee has no authorities")
	}

	c := &Committee{
		Epoch:       epoch,
		Authorities: authorities,
		byPubKey:    make(map[string]AuthorityIndex, len(authorities)),
	}

	for i, a := range authorities {
		if a.Stake == 0 {
			return nil, fmt.Errorf("authority %d (%s) has zero stake", i, a.Moniker)
		}
		if a.PubKeyHex != "" {
			if _, err := a.PublicKey(); err != nil {
				return nil, fmt.Errorf("authority %d (%s): %v", i, a.Moniker, err)
			}
			if _, dup := c.byPubKey[a.PubKeyHex]; dup {
				return nil, fmt.Errorf("authority %d (%s) reuses a public key", i, a.Moniker)
			}
			c.byPubKey[a.PubKeyHex] = AuthorityIndex(i)
		}
		c.totalStake += a.Stake
	}

	return c, nil
}

// Size returns the number of authorities.
func (c *Committee) Size() int {
	return len(c.Authorities)
}

// TotalStake ...
func (c *Committee) TotalStake() uint64 {
	return c.totalStake
}

// QuorumThreshold is the smallest stake strictly greater than two thirds of
// the total stake, ie. 2f+1 when total = 3f+1.
func (c *Committee) QuorumThreshold() uint64 {
	return c.totalStake - (c.totalStake-1)/3
}

// ValidityThreshold is the smallest stake that contains at least one honest
// authority, ie. f+1 when total = 3f+1.
func (c *Committee) ValidityThreshold() uint64 {
	return (c.totalStake + 2) / 3
}

// ReachedQuorum ...
func (c *Committee) ReachedQuorum(stake uint64) bool {
	return stake >= c.QuorumThreshold()
}

// ReachedValidity ...
func (c *Committee) ReachedValidity(stake uint64) bool {
	return stake >= c.ValidityThreshold()
}

// IsValidIndex reports whether idx names an authority of the committee.
func (c *Committee) IsValidIndex(idx AuthorityIndex) bool {
	return int(idx) < len(c.Authorities)
}

// Authority returns the authority at idx, or nil.
func (c *Committee) Authority(idx AuthorityIndex) *Authority {
	if !c.IsValidIndex(idx) {
		return nil
	}
	return c.Authorities[idx]
}

// Stake returns the stake of idx, or 0 for an unknown authority.
func (c *Committee) Stake(idx AuthorityIndex) uint64 {
	if !c.IsValidIndex(idx) {
		return 0
	}
	return c.Authorities[idx].Stake
}

// IndexByPubKeyHex finds the authority owning the public key.
func (c *Committee) IndexByPubKeyHex(pubKeyHex string) (AuthorityIndex, bool) {
	idx, ok := c.byPubKey[pubKeyHex]
	return idx, ok
}

// Indexes returns every AuthorityIndex in ascending order.
func (c *Committee) Indexes() []AuthorityIndex {
	res := make([]AuthorityIndex, len(c.Authorities))
	for i := range c.Authorities {
		res[i] = AuthorityIndex(i)
	}
	return res
}
