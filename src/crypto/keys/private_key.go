package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
)

// GenerateECDSAKey draws a fresh secp256k1 authority key.
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

// DumpPrivateKey returns the 32-byte big-endian scalar of the key, left-padded
// with zeros. It returns nil for a nil key.
func DumpPrivateKey(priv *ecdsa.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return (*btcec.PrivateKey)(priv).Serialize()
}

// ParsePrivateKey rebuilds a key from the output of DumpPrivateKey. The scalar
// must lie in [1, N-1].
func ParsePrivateKey(d []byte) (*ecdsa.PrivateKey, error) {
	if len(d) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key is %d bytes, expected %d", len(d), btcec.PrivKeyBytesLen)
	}

	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), d)
	switch {
	case priv.D.Sign() == 0:
		return nil, fmt.Errorf("private key is zero")
	case priv.D.Cmp(secp256k1N) >= 0:
		return nil, fmt.Errorf("private key is not below the curve order")
	}

	return priv.ToECDSA(), nil
}

// PrivateKeyHex is the format of the key file: DumpPrivateKey in lowercase hex
// without prefix.
func PrivateKeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(key))
}
