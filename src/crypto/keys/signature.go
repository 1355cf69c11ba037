package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
)

// SignatureSize is the length of an encoded signature: r and s, each padded to
// 32 bytes.
const SignatureSize = 64

// Sign signs the digest with the private key and returns the compact r||s
// encoding. The s value is normalised to the lower half of the curve order so
// that a signature has a single valid encoding.
func Sign(priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, err
	}
	if s.Cmp(secp256k1halfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify checks a compact signature produced by Sign against the digest and
// the public key.
func Verify(pub *ecdsa.PublicKey, digest []byte, sig []byte) bool {
	r, s, err := DecodeSignature(sig)
	if err != nil {
		return false
	}
	if s.Cmp(secp256k1halfN) > 0 {
		return false
	}
	return ecdsa.Verify(pub, digest, r, s)
}

// DecodeSignature splits a compact signature into its r and s values.
func DecodeSignature(sig []byte) (r, s *big.Int, err error) {
	if len(sig) != SignatureSize {
		return nil, nil, fmt.Errorf("wrong signature length: got %d, want %d", len(sig), SignatureSize)
	}
	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:])
	return r, s, nil
}
