package dag

import (
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/crypto"
)

// Commit is the persisted record of one committed sub-DAG. Commits are chained
// through PreviousDigest.
type Commit struct {
	Index          uint64
	Leader         BlockRef
	Blocks         []BlockRef
	Timestamp      int64
	PreviousDigest Digest
}

// Marshal ...
func (c *Commit) Marshal() ([]byte, error) {
	return encode(c)
}

// Unmarshal ...
func (c *Commit) Unmarshal(data []byte) error {
	return decode(data, c)
}

// Digest ...
func (c *Commit) Digest() (Digest, error) {
	data, err := c.Marshal()
	if err != nil {
		return Digest{}, err
	}
	return crypto.SHA256Sum(data), nil
}

// String ...
func (c *Commit) String() string {
	return fmt.Sprintf("Commit(%d, leader %s, %d blocks)", c.Index, c.Leader, len(c.Blocks))
}
