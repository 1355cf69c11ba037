package node

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/consensus"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEpochClosed is returned once CloseEpoch has been called.
	ErrEpochClosed = errors.New("epoch closed")
	// ErrAlreadyProposed is returned when asked to propose twice in a round.
	ErrAlreadyProposed = errors.New("already proposed in this round")
	// ErrRoundNotReached is returned when asked to propose in a round the
	// threshold clock has not reached yet.
	ErrRoundNotReached = errors.New("round not reached")
	// ErrHalted is returned after a protocol invariant violation.
	ErrHalted = errors.New("core halted")
)

// Core is the single-writer driver of one authority's consensus instance. It
// owns the local view of the DAG, the threshold clock and the committer. Core
// is not safe for concurrent use; the Node serializes every call.
type Core struct {

	// validator is a wrapper around the private-key controlling this node.
	validator *Validator

	committee      *committee.Committee
	store          dag.Store
	blockValidator consensus.BlockValidator
	clock          *consensus.ThresholdClock
	committer      *consensus.Committer
	conf           *Config

	// known holds every block admitted into the local DAG. A block is known
	// once it, and the commits it caused, have been persisted.
	known map[dag.BlockRef]struct{}

	// pending holds verified blocks waiting for some of their ancestors, and
	// blocks whose admission failed on a storage error.
	pending map[dag.BlockRef]*dag.Block

	// lastProposed is the last block of this authority in the local DAG.
	lastProposed *dag.Block

	// retryProposal is an own block that could not be persisted. It must be
	// inserted before anything else is proposed, otherwise this authority
	// would equivocate.
	retryProposal *dag.Block

	// The transaction pool contains transactions submitted from the app that
	// still haven't made it into a block.
	transactionPool [][]byte

	epochClosed bool
	halted      error

	equivocations  int
	skippedLeaders int
	evicted        int

	now    func() time.Time
	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object. Bootstrap must
// be called before the Core is used.
func NewCore(
	validator *Validator,
	c *committee.Committee,
	store dag.Store,
	blockValidator consensus.BlockValidator,
	conf *Config,
	logger *logrus.Entry) (*Core, error) {

	if err := validator.Bind(c); err != nil {
		return nil, err
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	logger = logger.WithField("authority", validator.Index())

	committer, err := consensus.NewUniversalCommitter(c, store, conf.CommitterOptions(), logger)
	if err != nil {
		return nil, err
	}

	core := &Core{
		validator:      validator,
		committee:      c,
		store:          store,
		blockValidator: blockValidator,
		clock:          consensus.NewThresholdClock(c),
		committer:      committer,
		conf:           conf,
		known:          make(map[dag.BlockRef]struct{}),
		pending:        make(map[dag.BlockRef]*dag.Block),
		now:            time.Now,
		logger:         logger,
	}

	return core, nil
}

// Bootstrap writes the genesis blocks and rebuilds the DAG view, the
// threshold clock, the last proposed block and the committer from the store.
func (c *Core) Bootstrap() error {
	c.logger.Debug("Bootstrap")

	if err := c.store.SetBlocks(dag.GenesisBlocks(c.committee)); err != nil {
		return c.storageErr(err, "writing genesis")
	}

	refs := c.store.BlockRefs(dag.GenesisRound)
	for _, ref := range refs {
		c.known[ref] = struct{}{}
	}
	if _, err := c.clock.AddBlocks(refs); err != nil {
		return c.fail(err)
	}

	commits, err := c.loadCommits()
	if err != nil {
		return err
	}
	if err := c.committer.Recover(commits); err != nil {
		return c.fail(err)
	}

	own, err := c.store.LastBlockBefore(c.validator.Index(), c.store.HighestRound()+1)
	if err != nil {
		return c.storageErr(err, "loading own last block")
	}
	c.lastProposed = own

	c.logger.WithFields(logrus.Fields{
		"blocks":        len(refs),
		"commits":       len(commits),
		"quorum_round":  c.clock.QuorumRound(),
		"last_proposed": own.Round(),
	}).Debug("Bootstrapped")

	return nil
}

func (c *Core) loadCommits() ([]*dag.Commit, error) {
	last, err := c.store.LastCommit()
	if err != nil {
		if common.IsStore(err, common.Empty) {
			return nil, nil
		}
		return nil, c.storageErr(err, "loading last commit")
	}

	commits := make([]*dag.Commit, 0, last.Index+1)
	for i := uint64(0); i <= last.Index; i++ {
		commit, err := c.store.GetCommit(i)
		if err != nil {
			return nil, c.storageErr(err, "loading commit %d", i)
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

/*******************************************************************************
Errors
*******************************************************************************/

func (c *Core) checkOpen() error {
	if c.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, c.halted)
	}
	if c.epochClosed {
		return ErrEpochClosed
	}
	return nil
}

// fail halts the core if err is fatal.
func (c *Core) fail(err error) error {
	if common.IsFatal(err) {
		c.logger.WithError(err).Error("Protocol invariant violated, halting")
		c.halted = err
	}
	return err
}

func (c *Core) storageErr(err error, format string, args ...interface{}) error {
	if common.IsFatal(err) {
		return c.fail(err)
	}
	if common.IsKind(err, common.StorageFailure) {
		return err
	}
	return common.NewStorageErr(err, format, args...)
}

// Halted returns the error that halted the core, if any.
func (c *Core) Halted() error {
	return c.halted
}

/*******************************************************************************
Adding blocks
*******************************************************************************/

// AddBlocks validates blocks and adds them to the DAG.
func (c *Core) AddBlocks(blocks []*dag.Block) ([]*consensus.CommittedSubDag, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := c.blockValidator.ValidateAll(blocks); err != nil {
		return nil, err
	}
	return c.AddVerifiedBlocks(blocks)
}

// AddVerifiedBlocks adds blocks that already passed validation. Blocks whose
// ancestors are all known are persisted together with the commits they
// cause; the others wait in the pending buffer. It returns the newly committed
// sub-DAGs in commit order.
//
// On a StorageFailure the DAG view, the clock and the committer are left
// untouched and the blocks are kept for the next call.
func (c *Core) AddVerifiedBlocks(blocks []*dag.Block) ([]*consensus.CommittedSubDag, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.addVerifiedBlocks(blocks, false)
}

func (c *Core) addVerifiedBlocks(blocks []*dag.Block, flush bool) ([]*consensus.CommittedSubDag, error) {
	accepted, pending := c.admit(blocks)
	c.pending = pending

	if len(accepted) == 0 && !flush {
		return nil, nil
	}

	equivocations := c.countEquivocations(accepted)

	if err := c.store.SetBlocks(accepted); err != nil {
		c.keepPending(accepted)
		return nil, c.storageErr(err, "persisting %d blocks", len(accepted))
	}

	plan, err := c.committer.Prepare(c.store.HighestRound())
	if err != nil {
		c.keepPending(accepted)
		return nil, c.fail(err)
	}

	if err := c.store.SetCommits(plan.Commits()); err != nil {
		c.keepPending(accepted)
		return nil, c.storageErr(err, "persisting %d commits", len(plan.SubDags))
	}

	refs := make([]dag.BlockRef, len(accepted))
	for i, b := range accepted {
		refs[i] = b.Ref()
		c.known[refs[i]] = struct{}{}
	}

	advanced, err := c.clock.AddBlocks(refs)
	if err != nil {
		return nil, c.fail(err)
	}

	c.committer.Apply(plan)
	c.equivocations += equivocations
	c.skippedLeaders += plan.Skipped()

	c.logger.WithFields(logrus.Fields{
		"accepted":     len(accepted),
		"pending":      len(c.pending),
		"quorum_round": c.clock.QuorumRound(),
		"advanced":     advanced,
		"commits":      len(plan.SubDags),
	}).Debug("AddVerifiedBlocks")

	return plan.SubDags, nil
}

// admit splits the pending buffer plus blocks into the blocks that can enter
// the DAG now, in causal order, and those that still miss ancestors.
func (c *Core) admit(blocks []*dag.Block) ([]*dag.Block, map[dag.BlockRef]*dag.Block) {
	pending := make(map[dag.BlockRef]*dag.Block, len(c.pending)+len(blocks))
	for ref, b := range c.pending {
		pending[ref] = b
	}
	for _, b := range blocks {
		ref := b.Ref()
		if _, ok := c.known[ref]; ok {
			continue
		}
		pending[ref] = b
	}

	// Ancestors have lower rounds, so a single pass in ref order releases
	// every block whose ancestors are available.
	candidates := sortedBlocks(pending)
	staged := make(map[dag.BlockRef]struct{})
	accepted := []*dag.Block{}

	for _, b := range candidates {
		ready := true
		for _, a := range b.Ancestors() {
			_, isKnown := c.known[a]
			_, isStaged := staged[a]
			if !isKnown && !isStaged {
				ready = false
				break
			}
		}
		if ready {
			ref := b.Ref()
			staged[ref] = struct{}{}
			accepted = append(accepted, b)
			delete(pending, ref)
		}
	}

	c.evict(pending)

	return accepted, pending
}

// evict drops the highest blocks of the buffer beyond MaxPendingBlocks. They
// are the furthest from being admissible and will be fetched again.
func (c *Core) evict(pending map[dag.BlockRef]*dag.Block) {
	max := c.conf.MaxPendingBlocks
	if max <= 0 || len(pending) <= max {
		return
	}
	blocks := sortedBlocks(pending)
	for _, b := range blocks[max:] {
		delete(pending, b.Ref())
		c.evicted++
	}
	c.logger.WithFields(logrus.Fields{
		"evicted": len(blocks) - max,
		"limit":   max,
	}).Warn("Pending buffer full")
}

func (c *Core) keepPending(blocks []*dag.Block) {
	for _, b := range blocks {
		c.pending[b.Ref()] = b
	}
}

// countEquivocations counts the blocks that share their slot with a block we
// already have. They are admitted; the committer orders them like any other.
func (c *Core) countEquivocations(blocks []*dag.Block) int {
	n := 0
	seen := make(map[dag.AuthorityRound]struct{})
	for _, b := range blocks {
		slot := b.Slot()
		_, dup := seen[slot]
		existing, err := c.store.GetBlocksAtAuthorityRound(slot.Author, slot.Round)
		if err == nil {
			for _, e := range existing {
				if e.Ref() != b.Ref() {
					dup = true
				}
			}
		}
		if dup {
			n++
			c.logger.WithField("block", b).Warn("Equivocation")
		}
		seen[slot] = struct{}{}
	}
	return n
}

func sortedBlocks(m map[dag.BlockRef]*dag.Block) []*dag.Block {
	res := make([]*dag.Block, 0, len(m))
	for _, b := range m {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Ref().Less(res[j].Ref())
	})
	return res
}

// MissingAncestors returns the refs referenced by pending blocks that are
// neither known nor pending themselves, in ref order.
func (c *Core) MissingAncestors() []dag.BlockRef {
	missing := make(map[dag.BlockRef]struct{})
	for _, b := range c.pending {
		for _, a := range b.Ancestors() {
			if _, ok := c.known[a]; ok {
				continue
			}
			if _, ok := c.pending[a]; ok {
				continue
			}
			missing[a] = struct{}{}
		}
	}

	res := make([]dag.BlockRef, 0, len(missing))
	for ref := range missing {
		res = append(res, ref)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Less(res[j]) })
	return res
}

// GetBlocks returns the known blocks among refs.
func (c *Core) GetBlocks(refs []dag.BlockRef) ([]*dag.Block, error) {
	res := []*dag.Block{}
	for _, ref := range refs {
		if _, ok := c.known[ref]; !ok {
			continue
		}
		b, err := c.store.GetBlock(ref)
		if err != nil {
			return nil, c.storageErr(err, "reading %s", ref)
		}
		res = append(res, b)
	}
	return res, nil
}

/*******************************************************************************
Proposing
*******************************************************************************/

// SubmitTransaction adds a transaction to the pool of the next proposal.
func (c *Core) SubmitTransaction(tx []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.conf.MaxTxBytes > 0 && len(tx) > c.conf.MaxTxBytes {
		return fmt.Errorf("transaction of %d bytes exceeds limit %d", len(tx), c.conf.MaxTxBytes)
	}
	c.transactionPool = append(c.transactionPool, tx)
	return nil
}

// lastProposedRound counts a proposal waiting to be persisted as proposed.
func (c *Core) lastProposedRound() dag.Round {
	if c.retryProposal != nil {
		return c.retryProposal.Round()
	}
	return c.lastProposed.Round()
}

// LastProposed returns the last own block in the local DAG. It is a genesis
// block until the first proposal.
func (c *Core) LastProposed() *dag.Block {
	return c.lastProposed
}

// KnownBlocks returns the number of blocks admitted into the local DAG.
func (c *Core) KnownBlocks() int {
	return len(c.known)
}

// Round returns the round of the next proposal.
func (c *Core) Round() dag.Round {
	return c.clock.GetRound()
}

// TryPropose creates, signs and inserts a block for the current round of the
// threshold clock, unless this authority already proposed in that round. It
// returns the block to broadcast, if any, and the sub-DAGs committed by
// inserting it.
func (c *Core) TryPropose() (*dag.Block, []*consensus.CommittedSubDag, error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}
	if c.retryProposal != nil {
		return c.insertProposal(c.retryProposal)
	}
	round := c.clock.GetRound()
	if round <= c.lastProposedRound() {
		return nil, nil, nil
	}
	return c.ProposeAt(round)
}

// ProposeAt proposes a block at the given round.
func (c *Core) ProposeAt(round dag.Round) (*dag.Block, []*consensus.CommittedSubDag, error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}
	if round <= c.lastProposedRound() {
		return nil, nil, ErrAlreadyProposed
	}
	if round > c.clock.GetRound() {
		return nil, nil, ErrRoundNotReached
	}

	ancestors := []dag.BlockRef{c.lastProposed.Ref()}
	timestamp := c.lastProposed.Timestamp()

	for _, a := range c.committee.Indexes() {
		if a == c.validator.Index() {
			continue
		}
		b, err := c.latestKnownBefore(a, round)
		if err != nil {
			return nil, nil, err
		}
		if b == nil {
			continue
		}
		ancestors = append(ancestors, b.Ref())
		if b.Timestamp() > timestamp {
			timestamp = b.Timestamp()
		}
	}

	if now := c.now().UnixMilli(); now > timestamp {
		timestamp = now
	}

	block := dag.NewBlock(c.committee.Epoch,
		c.validator.Index(),
		round,
		timestamp,
		ancestors,
		c.drainTransactions())

	if err := c.validator.Sign(block); err != nil {
		return nil, nil, err
	}

	return c.insertProposal(block)
}

func (c *Core) insertProposal(block *dag.Block) (*dag.Block, []*consensus.CommittedSubDag, error) {
	subDags, err := c.addVerifiedBlocks([]*dag.Block{block}, false)
	if err != nil {
		c.retryProposal = block
		return nil, nil, err
	}
	if _, ok := c.known[block.Ref()]; !ok {
		return nil, nil, c.fail(common.NewInvariantErr("own block %s was not admitted", block))
	}

	c.retryProposal = nil
	c.lastProposed = block

	c.logger.WithFields(logrus.Fields{
		"round":        block.Round(),
		"ancestors":    len(block.Ancestors()),
		"transactions": len(block.Transactions()),
	}).Debug("Proposed block")

	return block, subDags, nil
}

// latestKnownBefore returns the highest known block of author below round.
func (c *Core) latestKnownBefore(author committee.AuthorityIndex, round dag.Round) (*dag.Block, error) {
	b, err := c.store.LastBlockBefore(author, round)
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			return nil, nil
		}
		return nil, c.storageErr(err, "reading last block of %s", author)
	}
	if _, ok := c.known[b.Ref()]; ok {
		return b, nil
	}

	// The store is ahead of the DAG view after a failed insertion. Walk down
	// to a known block.
	for r := b.Round(); ; r-- {
		slot, err := c.store.GetBlocksAtAuthorityRound(author, r)
		if err != nil {
			return nil, c.storageErr(err, "reading slot %s%d", author, r)
		}
		for _, s := range slot {
			if _, ok := c.known[s.Ref()]; ok {
				return s, nil
			}
		}
		if r == dag.GenesisRound {
			return nil, nil
		}
	}
}

func (c *Core) drainTransactions() [][]byte {
	n := 0
	size := 0
	for _, tx := range c.transactionPool {
		if c.conf.MaxTxPerBlock > 0 && n >= c.conf.MaxTxPerBlock {
			break
		}
		if c.conf.MaxBlockBytes > 0 && size+len(tx) > c.conf.MaxBlockBytes {
			break
		}
		n++
		size += len(tx)
	}

	if n == 0 {
		return nil
	}

	txs := c.transactionPool[:n:n]
	c.transactionPool = c.transactionPool[n:]
	return txs
}

/*******************************************************************************
Epoch
*******************************************************************************/

// CloseEpoch flushes the commits that can already be made, then stops the
// core. The pending buffer and the transaction pool are discarded.
func (c *Core) CloseEpoch() ([]*consensus.CommittedSubDag, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	subDags, err := c.addVerifiedBlocks(nil, true)
	if err != nil {
		return nil, err
	}

	c.epochClosed = true
	c.pending = make(map[dag.BlockRef]*dag.Block)
	c.transactionPool = nil
	c.retryProposal = nil

	c.logger.WithFields(logrus.Fields{
		"epoch":   c.committee.Epoch,
		"commits": c.committer.NextCommitIndex(),
	}).Info("Epoch closed")

	return subDags, nil
}

// EpochClosed ...
func (c *Core) EpochClosed() bool {
	return c.epochClosed
}

/*******************************************************************************
Stats
*******************************************************************************/

// GetStats returns diagnostic counters.
func (c *Core) GetStats() map[string]string {
	return map[string]string{
		"authority":           c.validator.Index().String(),
		"epoch":               strconv.FormatUint(c.committee.Epoch, 10),
		"round":               strconv.FormatUint(uint64(c.clock.GetRound()), 10),
		"quorum_round":        strconv.FormatUint(uint64(c.clock.QuorumRound()), 10),
		"last_proposed_round": strconv.FormatUint(uint64(c.lastProposedRound()), 10),
		"highest_round":       strconv.FormatUint(uint64(c.store.HighestRound()), 10),
		"last_decided_round":  strconv.FormatUint(uint64(c.committer.LastDecided()), 10),
		"commits":             strconv.FormatUint(c.committer.NextCommitIndex(), 10),
		"known_blocks":        strconv.Itoa(len(c.known)),
		"pending_blocks":      strconv.Itoa(len(c.pending)),
		"evicted_blocks":      strconv.Itoa(c.evicted),
		"transaction_pool":    strconv.Itoa(len(c.transactionPool)),
		"equivocations":       strconv.Itoa(c.equivocations),
		"skipped_leaders":     strconv.Itoa(c.skippedLeaders),
		"epoch_closed":        strconv.FormatBool(c.epochClosed),
		"halted":              strconv.FormatBool(c.halted != nil),
	}
}
