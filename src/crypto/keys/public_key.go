package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/common"
)

// ToPublicKey is a wrapper around elliptic.Unmarshal. The argument pub is
// expected to be the uncompressed form of a point on the curve, as returned by
// FromPublicKey.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(Curve(), pub)
	if x == nil {
		return nil
	}
	return &ecdsa.PublicKey{Curve: Curve(), X: x, Y: y}
}

// FromPublicKey is a wrapper around elliptic.Marshal. It outputs the point in
// uncompressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// PublicKeyHex returns the hexadecimal reprentation of the uncompressed form of
// the public key
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeHex(FromPublicKey(pub))
}

// ParsePublicKeyHex is the inverse of PublicKeyHex.
func ParsePublicKeyHex(pubHex string) (*ecdsa.PublicKey, error) {
	raw, err := common.DecodeHex(pubHex)
	if err != nil {
		return nil, err
	}
	pub := ToPublicKey(raw)
	if pub == nil {
		return nil, fmt.Errorf("public key %q is not a point on the curve", pubHex)
	}
	return pub, nil
}
