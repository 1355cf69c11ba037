package crypto

import (
	"crypto/sha256"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// SHA256Sum is SHA256 with a fixed-size result, suitable as a map key.
func SHA256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
