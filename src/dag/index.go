package dag

import (
	"github.com/google/btree"

	"github.com/mosaicnetworks/dagbft/src/committee"
)

const btreeDegree = 32

var maxDigest = func() Digest {
	var d Digest
	for i := range d {
		d[i] = 0xff
	}
	return d
}()

// refIndex keeps every known BlockRef in two ordered trees: one global
// (round, author, digest) tree and one tree per author. It is not safe for
// concurrent use; stores guard it with their own lock.
type refIndex struct {
	all          *btree.BTreeG[BlockRef]
	byAuthor     map[committee.AuthorityIndex]*btree.BTreeG[BlockRef]
	highestRound Round
}

func newRefIndex() *refIndex {
	return &refIndex{
		all:      btree.NewG[BlockRef](btreeDegree, LessRef),
		byAuthor: make(map[committee.AuthorityIndex]*btree.BTreeG[BlockRef]),
	}
}

func (idx *refIndex) Has(ref BlockRef) bool {
	return idx.all.Has(ref)
}

// Insert returns false if ref was already indexed.
func (idx *refIndex) Insert(ref BlockRef) bool {
	if _, replaced := idx.all.ReplaceOrInsert(ref); replaced {
		return false
	}

	t, ok := idx.byAuthor[ref.Author]
	if !ok {
		t = btree.NewG[BlockRef](btreeDegree, LessRef)
		idx.byAuthor[ref.Author] = t
	}
	t.ReplaceOrInsert(ref)

	if ref.Round > idx.highestRound {
		idx.highestRound = ref.Round
	}
	return true
}

func (idx *refIndex) Len() int {
	return idx.all.Len()
}

func (idx *refIndex) Round(round Round) []BlockRef {
	res := []BlockRef{}
	idx.all.AscendRange(BlockRef{Round: round}, BlockRef{Round: round + 1}, func(r BlockRef) bool {
		res = append(res, r)
		return true
	})
	return res
}

func (idx *refIndex) AuthorityRound(author committee.AuthorityIndex, round Round) []BlockRef {
	res := []BlockRef{}
	t, ok := idx.byAuthor[author]
	if !ok {
		return res
	}
	t.AscendRange(BlockRef{Author: author, Round: round}, BlockRef{Author: author, Round: round + 1}, func(r BlockRef) bool {
		res = append(res, r)
		return true
	})
	return res
}

// LastBefore returns the highest ref of author with a round strictly lower
// than round. Among equivocating blocks of that round the smallest digest
// wins, so every caller picks the same one.
func (idx *refIndex) LastBefore(author committee.AuthorityIndex, round Round) (BlockRef, bool) {
	var res BlockRef
	found := false

	t, ok := idx.byAuthor[author]
	if !ok || round == 0 {
		return res, false
	}

	t.DescendLessOrEqual(BlockRef{Author: author, Round: round - 1, Digest: maxDigest}, func(r BlockRef) bool {
		res = r
		found = true
		return false
	})
	if !found {
		return res, false
	}

	// descend to the smallest digest of the same round
	t.AscendGreaterOrEqual(BlockRef{Author: author, Round: res.Round}, func(r BlockRef) bool {
		res = r
		return false
	})
	return res, true
}

func (idx *refIndex) From(round Round) []BlockRef {
	res := make([]BlockRef, 0, idx.all.Len())
	idx.all.AscendGreaterOrEqual(BlockRef{Round: round}, func(r BlockRef) bool {
		res = append(res, r)
		return true
	})
	return res
}

func (idx *refIndex) HighestRound() Round {
	return idx.highestRound
}
