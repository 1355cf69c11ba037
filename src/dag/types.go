package dag

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mosaicnetworks/dagbft/src/committee"
)

// Round is a layer of the DAG. Round 0 is genesis.
type Round uint64

// GenesisRound ...
const GenesisRound Round = 0

// DigestLength ...
const DigestLength = 32

// Digest is the content hash of a block or commit.
type Digest [DigestLength]byte

// Hex ...
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String returns an abbreviated form for logs.
func (d Digest) String() string {
	return hex.EncodeToString(d[:4])
}

// AuthorityRound is the slot of one authority in one round. At most one block
// per slot is valid; more than one is an equivocation.
type AuthorityRound struct {
	Author committee.AuthorityIndex
	Round  Round
}

// String ...
func (s AuthorityRound) String() string {
	return fmt.Sprintf("%s%d", s.Author, s.Round)
}

// BlockRef identifies a block.
type BlockRef struct {
	Author committee.AuthorityIndex
	Round  Round
	Digest Digest
}

// Slot ...
func (r BlockRef) Slot() AuthorityRound {
	return AuthorityRound{Author: r.Author, Round: r.Round}
}

// Less orders refs by round, then author, then digest.
func (r BlockRef) Less(o BlockRef) bool {
	if r.Round != o.Round {
		return r.Round < o.Round
	}
	if r.Author != o.Author {
		return r.Author < o.Author
	}
	return bytes.Compare(r.Digest[:], o.Digest[:]) < 0
}

// String ...
func (r BlockRef) String() string {
	return fmt.Sprintf("%s%d(%s)", r.Author, r.Round, r.Digest)
}

// LessRef is a btree.LessFunc over BlockRefs.
func LessRef(a, b BlockRef) bool {
	return a.Less(b)
}
