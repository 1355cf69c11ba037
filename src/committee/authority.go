package committee

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
)

// AuthorityIndex is the position of an authority in the committee.
type AuthorityIndex uint32

// String ...
func (a AuthorityIndex) String() string {
	// A, B, C ... for small committees, which keeps logs readable
	if a < 26 {
		return string(rune('A' + a))
	}
	return fmt.Sprintf("[%d]", uint32(a))
}

// Authority is a committee member.
type Authority struct {
	Moniker   string
	NetAddr   string
	PubKeyHex string
	Stake     uint64

	pubKey *ecdsa.PublicKey
}

// NewAuthority ...
func NewAuthority(moniker, netAddr, pubKeyHex string, stake uint64) *Authority {
	return &Authority{
		Moniker:   moniker,
		NetAddr:   netAddr,
		PubKeyHex: pubKeyHex,
		Stake:     stake,
	}
}

// PublicKey parses and caches the authority's public key.
func (a *Authority) PublicKey() (*ecdsa.PublicKey, error) {
	if a.pubKey == nil {
		pub, err := keys.ParsePublicKeyHex(a.PubKeyHex)
		if err != nil {
			return nil, err
		}
		a.pubKey = pub
	}
	return a.pubKey, nil
}
