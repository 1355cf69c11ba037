package dag

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/dagbft/src/committee"
	cm "github.com/mosaicnetworks/dagbft/src/common"
	"github.com/sirupsen/logrus"
)

const (
	blockPrefix  = "blk"
	commitPrefix = "cmt"
)

// BadgerStore persists blocks and commits in a Badger database. Block keys
// sort by (round, author, digest), so a round or a slot is a key range. The
// ref index and the last commit are kept in memory and rebuilt from the keys
// when the database is reopened. Decoded blocks are cached in an LRU.
type BadgerStore struct {
	sync.RWMutex
	db         *badger.DB
	path       string
	cache      *lru.Cache
	index      *refIndex
	lastCommit *Commit
	logger     *logrus.Entry
}

// NewBadgerStore opens the database in path, creating it if needed, and
// loads the index of whatever it already contains.
func NewBadgerStore(path string, cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger.WithFields(logrus.Fields{"ns": "badger"}))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, cm.NewStorageErr(err, "opening badger database %s", path)
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}

	store := &BadgerStore{
		db:     handle,
		path:   path,
		cache:  cache,
		index:  newRefIndex(),
		logger: logger,
	}

	if err := store.dbLoadIndex(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// LoadBadgerStore reopens an existing database. It fails if nothing is found
// in path.
func LoadBadgerStore(path string, cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return NewBadgerStore(path, cacheSize, logger)
}

/*******************************************************************************
Keys
*******************************************************************************/

func blockKey(ref BlockRef) []byte {
	return []byte(fmt.Sprintf("%s_%020d_%010d_%s", blockPrefix, ref.Round, ref.Author, ref.Digest.Hex()))
}

func commitKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", commitPrefix, index))
}

func parseBlockKey(key []byte) (BlockRef, error) {
	var ref BlockRef

	parts := strings.Split(string(key), "_")
	if len(parts) != 4 || parts[0] != blockPrefix {
		return ref, fmt.Errorf("invalid block key %q", key)
	}

	round, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ref, err
	}
	author, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return ref, err
	}
	digest, err := hexToDigest(parts[3])
	if err != nil {
		return ref, err
	}

	ref.Round = Round(round)
	ref.Author = committee.AuthorityIndex(author)
	ref.Digest = digest
	return ref, nil
}

func hexToDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(raw) != DigestLength {
		return d, fmt.Errorf("invalid digest length %d", len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

/*******************************************************************************
Implement the Store interface
*******************************************************************************/

// GetBlock implements the Store interface.
func (s *BadgerStore) GetBlock(ref BlockRef) (*Block, error) {
	if b, ok := s.cache.Get(ref); ok {
		return b.(*Block), nil
	}

	s.RLock()
	known := s.index.Has(ref)
	s.RUnlock()
	if !known {
		return nil, missingBlockErr(ref)
	}

	b, err := s.dbGetBlock(ref)
	if err != nil {
		return nil, err
	}
	s.cache.Add(ref, b)
	return b, nil
}

// GetBlocksByRound implements the Store interface.
func (s *BadgerStore) GetBlocksByRound(round Round) ([]*Block, error) {
	s.RLock()
	refs := s.index.Round(round)
	s.RUnlock()
	return s.lookup(refs)
}

// GetBlocksAtAuthorityRound implements the Store interface.
func (s *BadgerStore) GetBlocksAtAuthorityRound(author committee.AuthorityIndex, round Round) ([]*Block, error) {
	s.RLock()
	refs := s.index.AuthorityRound(author, round)
	s.RUnlock()
	return s.lookup(refs)
}

// LinkedToRound implements the Store interface.
func (s *BadgerStore) LinkedToRound(block *Block, round Round) ([]*Block, error) {
	return linkedToRound(s.GetBlock, block, round)
}

// Contains implements the Store interface.
func (s *BadgerStore) Contains(ref BlockRef) bool {
	s.RLock()
	defer s.RUnlock()
	return s.index.Has(ref)
}

// SetBlocks implements the Store interface. The index is only updated once
// the database transaction succeeded.
func (s *BadgerStore) SetBlocks(blocks []*Block) error {
	fresh := []*Block{}
	s.RLock()
	for _, b := range blocks {
		if !s.index.Has(b.Ref()) {
			fresh = append(fresh, b)
		}
	}
	s.RUnlock()

	if len(fresh) == 0 {
		return nil
	}

	if err := s.dbSetBlocks(fresh); err != nil {
		return err
	}

	s.Lock()
	for _, b := range fresh {
		ref := b.Ref()
		s.index.Insert(ref)
		s.cache.Add(ref, b)
	}
	s.Unlock()

	return nil
}

// SetCommits implements the Store interface.
func (s *BadgerStore) SetCommits(commits []*Commit) error {
	if len(commits) == 0 {
		return nil
	}

	s.RLock()
	last := s.lastCommit
	s.RUnlock()

	fresh := []*Commit{}
	for _, c := range commits {
		next := uint64(0)
		if last != nil {
			next = last.Index + 1
		}
		if c.Index < next {
			continue
		}
		if c.Index > next {
			return cm.NewInvariantErr("commit %d stored before commit %d", c.Index, next)
		}
		fresh = append(fresh, c)
		last = c
	}

	if len(fresh) == 0 {
		return nil
	}

	if err := s.dbSetCommits(fresh); err != nil {
		return err
	}

	s.Lock()
	s.lastCommit = last
	s.Unlock()

	return nil
}

// GetCommit implements the Store interface.
func (s *BadgerStore) GetCommit(index uint64) (*Commit, error) {
	return s.dbGetCommit(index)
}

// LastCommit implements the Store interface.
func (s *BadgerStore) LastCommit() (*Commit, error) {
	s.RLock()
	defer s.RUnlock()
	if s.lastCommit == nil {
		return nil, cm.NewStoreErr("Commit", cm.Empty, "")
	}
	return s.lastCommit, nil
}

// HighestRound implements the Store interface.
func (s *BadgerStore) HighestRound() Round {
	s.RLock()
	defer s.RUnlock()
	return s.index.HighestRound()
}

// LastBlockBefore implements the Store interface.
func (s *BadgerStore) LastBlockBefore(author committee.AuthorityIndex, round Round) (*Block, error) {
	s.RLock()
	ref, ok := s.index.LastBefore(author, round)
	s.RUnlock()
	if !ok {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, fmt.Sprintf("%s<%d", author, round))
	}
	return s.GetBlock(ref)
}

// BlockRefs implements the Store interface.
func (s *BadgerStore) BlockRefs(from Round) []BlockRef {
	s.RLock()
	defer s.RUnlock()
	return s.index.From(from)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	s.cache.Purge()
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func (s *BadgerStore) lookup(refs []BlockRef) ([]*Block, error) {
	res := make([]*Block, 0, len(refs))
	for _, r := range refs {
		b, err := s.GetBlock(r)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func (s *BadgerStore) dbGetBlock(ref BlockRef) (*Block, error) {
	var blockBytes []byte
	key := blockKey(ref)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, mapError(err, "Block", string(key))
	}

	block := new(Block)
	if err := block.Unmarshal(blockBytes); err != nil {
		return nil, cm.NewStorageErr(err, "corrupt block %s", ref)
	}

	return block, nil
}

func (s *BadgerStore) dbSetBlocks(blocks []*Block) error {
	entries := make(map[string][]byte, len(blocks))
	for _, b := range blocks {
		val, err := b.Marshal()
		if err != nil {
			return err
		}
		entries[string(blockKey(b.Ref()))] = val
	}
	return s.dbWrite(entries)
}

func (s *BadgerStore) dbGetCommit(index uint64) (*Commit, error) {
	var commitBytes []byte
	key := commitKey(index)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		commitBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, mapError(err, "Commit", string(key))
	}

	commit := new(Commit)
	if err := commit.Unmarshal(commitBytes); err != nil {
		return nil, cm.NewStorageErr(err, "corrupt commit %d", index)
	}

	return commit, nil
}

func (s *BadgerStore) dbSetCommits(commits []*Commit) error {
	entries := make(map[string][]byte, len(commits))
	for _, c := range commits {
		val, err := c.Marshal()
		if err != nil {
			return err
		}
		entries[string(commitKey(c.Index))] = val
	}
	return s.dbWrite(entries)
}

// dbWrite writes all entries, splitting the batch over several transactions
// when it exceeds Badger's transaction size.
func (s *BadgerStore) dbWrite(entries map[string][]byte) error {
	tx := s.db.NewTransaction(true)
	defer func() { tx.Discard() }()

	for k, v := range entries {
		err := tx.Set([]byte(k), v)
		if err == badger.ErrTxnTooBig {
			if err := tx.Commit(); err != nil {
				return cm.NewStorageErr(err, "committing partial batch")
			}
			tx = s.db.NewTransaction(true)
			err = tx.Set([]byte(k), v)
		}
		if err != nil {
			return cm.NewStorageErr(err, "writing %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return cm.NewStorageErr(err, "committing batch")
	}
	return nil
}

// dbLoadIndex rebuilds the ref index from the block keys, without reading
// values, and finds the last commit.
func (s *BadgerStore) dbLoadIndex() error {
	var lastCommitBytes []byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(blockPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ref, err := parseBlockKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			s.index.Insert(ref)
		}

		prefix = []byte(commitPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			lastCommitBytes = v
		}
		return nil
	})
	if err != nil {
		return cm.NewStorageErr(err, "loading index from %s", s.path)
	}

	if lastCommitBytes != nil {
		c := new(Commit)
		if err := c.Unmarshal(lastCommitBytes); err != nil {
			return cm.NewStorageErr(err, "corrupt last commit")
		}
		s.lastCommit = c
	}

	s.logger.WithFields(logrus.Fields{
		"blocks":        s.index.Len(),
		"highest_round": s.index.HighestRound(),
	}).Debug("Loaded block index")

	return nil
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if isDBKeyNotFound(err) {
		return cm.NewStoreErr(name, cm.KeyNotFound, key)
	}
	return cm.NewStorageErr(err, "reading %s %s", name, key)
}
