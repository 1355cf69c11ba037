package node

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/consensus"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/net"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// fetchRetryDelay is the minimum delay before a missing ancestor is
	// requested again.
	fetchRetryDelay = time.Second
	channelSize     = 256
)

// Node runs the consensus instance of one authority. Blocks received from the
// transport are decoded, validated in parallel, and handed to a single
// goroutine that owns the Core. Commits are emitted on CommitCh in index
// order.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	validator *Validator
	committee *committee.Committee

	core           *Core
	coreLock       sync.Mutex
	blockValidator consensus.BlockValidator

	trans net.Transport
	netCh <-chan net.RPC

	decodedCh  chan batch
	verifiedCh chan batch
	submitCh   chan []byte
	closeCh    chan chan error
	commitCh   chan *consensus.CommittedSubDag

	// fetching records the requests made for each missing ancestor. It is
	// only touched by the writer loop.
	fetching map[dag.BlockRef]*fetchAttempt

	// lastSync is when this node last sent its own block to its peers.
	lastSync time.Time

	controlTimer *ControlTimer
	metrics      *Metrics

	startOnce  sync.Once
	stopOnce   sync.Once
	shutdownCh chan struct{}
	start      time.Time
}

// NewNode is a factory method that returns a Node instance. Metrics are
// registered on reg unless it is nil.
func NewNode(conf *Config,
	validator *Validator,
	c *committee.Committee,
	store dag.Store,
	trans net.Transport,
	reg prometheus.Registerer,
) (*Node, error) {

	logger := conf.Logger.WithFields(logrus.Fields{
		"prefix":  validator.Moniker,
		"moniker": validator.Moniker,
	})

	blockValidator := consensus.NewSignedBlockValidator(c, conf.Limits(), conf.ValidationWorkers)

	core, err := NewCore(validator, c, store, blockValidator, conf, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(reg, validator.Moniker)
	if err != nil {
		return nil, err
	}

	node := &Node{
		conf:           conf,
		logger:         logger,
		validator:      validator,
		committee:      c,
		core:           core,
		blockValidator: blockValidator,
		trans:          trans,
		netCh:          trans.Consumer(),
		decodedCh:      make(chan batch, channelSize),
		verifiedCh:     make(chan batch, channelSize),
		submitCh:       make(chan []byte, channelSize),
		closeCh:        make(chan chan error),
		commitCh:       make(chan *consensus.CommittedSubDag, channelSize),
		fetching:       make(map[dag.BlockRef]*fetchAttempt),
		controlTimer:   NewFixedControlTimer(),
		metrics:        metrics,
		shutdownCh:     make(chan struct{}),
	}

	return node, nil
}

// Init restores the node from its store.
func (n *Node) Init() error {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	if err := n.core.Bootstrap(); err != nil {
		return err
	}
	n.metrics.observeCore(n.core)
	n.setState(Running)
	return nil
}

// RunAsync starts the node's goroutines and returns. The transport must
// already be listening.
func (n *Node) RunAsync() {
	n.startOnce.Do(func() {
		n.logger.Debug("RunAsync")
		n.start = time.Now()
		n.lastSync = n.start
		n.goFunc(func() { n.controlTimer.Run(n.conf.MinRoundDelay) })
		n.goFunc(n.listen)
		n.goFunc(n.validate)
		n.goFunc(n.loop)
	})
}

// Run starts the node and blocks until it is shut down.
func (n *Node) Run() {
	n.RunAsync()
	<-n.shutdownCh
}

// CommitCh returns the channel of committed sub-DAGs, in index order.
func (n *Node) CommitCh() <-chan *consensus.CommittedSubDag {
	return n.commitCh
}

// SubmitTransaction queues a transaction for the next proposal.
func (n *Node) SubmitTransaction(tx []byte) error {
	select {
	case n.submitCh <- tx:
		return nil
	case <-n.shutdownCh:
		return fmt.Errorf("node is shut down")
	}
}

// CloseEpoch flushes the commits that can already be made and stops the
// consensus instance. The flushed commits are emitted on CommitCh.
func (n *Node) CloseEpoch() error {
	respCh := make(chan error, 1)
	select {
	case n.closeCh <- respCh:
	case <-n.shutdownCh:
		return fmt.Errorf("node is shut down")
	}
	select {
	case err := <-respCh:
		return err
	case <-n.shutdownCh:
		return fmt.Errorf("node is shut down")
	}
}

/*******************************************************************************
Pipeline
*******************************************************************************/

// listen consumes RPCs from the transport. Submitted blocks are decoded here
// and passed on to the validation stage.
func (n *Node) listen() {
	for {
		select {
		case rpc := <-n.netCh:
			n.processRPC(rpc)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.SubmitBlockRequest:
		rpc.Respond(&net.SubmitBlockResponse{FromID: uint32(n.validator.Index()), Success: true}, nil)
		n.enqueue(committee.AuthorityIndex(cmd.FromID), cmd.Blocks)
	case *net.FetchBlocksRequest:
		n.processFetchBlocksRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processFetchBlocksRequest(rpc net.RPC, cmd *net.FetchBlocksRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"refs":    len(cmd.Refs),
	}).Debug("process FetchBlocksRequest")

	n.coreLock.Lock()
	blocks, err := n.core.GetBlocks(cmd.Refs)
	n.coreLock.Unlock()

	resp := &net.FetchBlocksResponse{FromID: uint32(n.validator.Index())}
	if err == nil {
		resp.Blocks, err = encodeBlocks(blocks)
	}
	rpc.Respond(resp, err)
}

// batch is a set of blocks received from one peer.
type batch struct {
	from   committee.AuthorityIndex
	blocks []*dag.Block
}

// enqueue decodes raw blocks sent by from and hands them to the validation
// stage. Undecodable blocks are dropped.
func (n *Node) enqueue(from committee.AuthorityIndex, raw [][]byte) {
	blocks := make([]*dag.Block, 0, len(raw))
	for _, data := range raw {
		b, err := dag.UnmarshalBlock(data)
		if err != nil {
			n.reject(err)
			continue
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return
	}

	select {
	case n.decodedCh <- batch{from: from, blocks: blocks}:
	case <-n.shutdownCh:
	}
}

// validate is the validation stage. Blocks of a batch are checked in
// parallel; invalid ones are dropped.
func (n *Node) validate() {
	for {
		select {
		case b := <-n.decodedCh:
			valid := n.validateBatch(b.blocks)
			if len(valid) == 0 {
				continue
			}
			select {
			case n.verifiedCh <- batch{from: b.from, blocks: valid}:
			case <-n.shutdownCh:
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) validateBatch(blocks []*dag.Block) []*dag.Block {
	ok := make([]bool, len(blocks))

	var g errgroup.Group
	if n.conf.ValidationWorkers > 0 {
		g.SetLimit(n.conf.ValidationWorkers)
	}
	for i, b := range blocks {
		i, b := i, b
		g.Go(func() error {
			if err := n.blockValidator.Validate(b); err != nil {
				n.reject(err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	valid := make([]*dag.Block, 0, len(blocks))
	for i, b := range blocks {
		if ok[i] {
			valid = append(valid, b)
		}
	}
	return valid
}

func (n *Node) reject(err error) {
	kind := "Other"
	var ce *common.ConsensusError
	if errors.As(err, &ce) {
		kind = ce.Kind.String()
	}
	n.metrics.BlocksRejected.WithLabelValues(kind).Inc()
	n.logger.WithError(err).Debug("Rejected block")
}

// loop is the single writer. It is the only goroutine that mutates the Core.
func (n *Node) loop() {
	for {
		select {
		case b := <-n.verifiedCh:
			n.coreLock.Lock()
			known := n.core.KnownBlocks()
			subDags, err := n.core.AddVerifiedBlocks(b.blocks)
			accepted := n.core.KnownBlocks() - known
			missing := n.core.MissingAncestors()
			n.metrics.observeCore(n.core)
			n.coreLock.Unlock()

			n.metrics.BlocksAccepted.Add(float64(accepted))
			n.handleErr(err)
			if !n.emit(subDags) {
				return
			}
			n.fetchMissing(missing, b.from)
		case <-n.controlTimer.tickCh:
			if !n.propose() {
				return
			}
		case tx := <-n.submitCh:
			n.coreLock.Lock()
			err := n.core.SubmitTransaction(tx)
			n.coreLock.Unlock()
			if err != nil {
				n.logger.WithError(err).Debug("Dropping transaction")
			}
		case respCh := <-n.closeCh:
			n.coreLock.Lock()
			subDags, err := n.core.CloseEpoch()
			n.coreLock.Unlock()

			if err == nil {
				n.setState(EpochClosed)
				n.controlTimer.Stop()
			}
			respCh <- err
			if !n.emit(subDags) {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) propose() bool {
	n.coreLock.Lock()
	block, subDags, err := n.core.TryPropose()
	n.metrics.observeCore(n.core)
	n.coreLock.Unlock()

	n.handleErr(err)
	if block != nil {
		n.metrics.BlocksProposed.Inc()
		n.broadcast(block)
		n.lastSync = time.Now()
	} else if err == nil && n.conf.SyncInterval > 0 && time.Since(n.lastSync) >= n.conf.SyncInterval {
		n.sync()
	}
	return n.emit(subDags)
}

// sync runs when the node has not proposed for SyncInterval. It sends the last
// own block again and asks for the ancestors that are still missing.
func (n *Node) sync() {
	n.coreLock.Lock()
	last := n.core.LastProposed()
	missing := n.core.MissingAncestors()
	n.coreLock.Unlock()

	n.logger.WithFields(logrus.Fields{
		"last_proposed": last.Round(),
		"missing":       len(missing),
	}).Debug("sync")

	if last.Round() != dag.GenesisRound {
		n.broadcast(last)
	}
	n.fetchMissing(missing, n.validator.Index())
	n.lastSync = time.Now()
}

func (n *Node) handleErr(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrEpochClosed):
	case common.IsFatal(err) || errors.Is(err, ErrHalted):
		if n.getState() != Halted {
			n.logger.WithError(err).Error("Consensus halted")
			n.setState(Halted)
			n.controlTimer.Stop()
		}
	default:
		n.logger.WithError(err).Warn("Core error")
	}
}

// emit sends sub-DAGs on the commit channel. It reports false if the node
// was shut down first.
func (n *Node) emit(subDags []*consensus.CommittedSubDag) bool {
	for _, s := range subDags {
		n.metrics.Commits.Inc()
		n.metrics.CommittedBlocks.Add(float64(len(s.Blocks)))
		select {
		case n.commitCh <- s:
		case <-n.shutdownCh:
			return false
		}
	}
	return true
}

/*******************************************************************************
Network
*******************************************************************************/

func (n *Node) peerAddrs() []string {
	addrs := []string{}
	for _, idx := range n.committee.Indexes() {
		if idx == n.validator.Index() {
			continue
		}
		addrs = append(addrs, n.committee.Authority(idx).NetAddr)
	}
	return addrs
}

func (n *Node) broadcast(block *dag.Block) {
	data, err := block.Marshal()
	if err != nil {
		n.logger.WithError(err).Error("Encoding own block")
		return
	}
	args := &net.SubmitBlockRequest{
		FromID: uint32(n.validator.Index()),
		Blocks: [][]byte{data},
	}

	for _, addr := range n.peerAddrs() {
		target := addr
		started := n.goFunc(func() {
			var resp net.SubmitBlockResponse
			if err := n.trans.SubmitBlock(target, args, &resp); err != nil {
				n.logger.WithError(err).WithField("target", target).Debug("SubmitBlock")
			}
		})
		if !started {
			n.logger.WithField("target", target).Debug("Too many requests in flight, not sending")
		}
	}
}

// fetchAttempt tracks the requests made for one missing ancestor.
type fetchAttempt struct {
	last  time.Time
	count int
}

// fetchMissing requests missing ancestors. The first request for a ref goes
// to from, the peer that sent a block citing it, and to the ref's author.
// Later requests go to every peer, so that the ref can still be found when
// both of them are faulty or unreachable. from may be this node's own index
// when there is no sender.
func (n *Node) fetchMissing(missing []dag.BlockRef, from committee.AuthorityIndex) {
	now := time.Now()
	self := n.validator.Index()
	byTarget := make(map[committee.AuthorityIndex][]dag.BlockRef)

	for _, ref := range missing {
		attempt, ok := n.fetching[ref]
		if !ok {
			attempt = &fetchAttempt{}
			n.fetching[ref] = attempt
		} else if now.Sub(attempt.last) < fetchRetryDelay {
			continue
		}

		targets := []committee.AuthorityIndex{}
		if attempt.count == 0 {
			if from != ref.Author && n.committee.IsValidIndex(from) {
				targets = append(targets, from)
			}
			targets = append(targets, ref.Author)
		} else {
			targets = n.committee.Indexes()
		}
		attempt.last = now
		attempt.count++

		for _, target := range targets {
			if target == self {
				continue
			}
			byTarget[target] = append(byTarget[target], ref)
		}
	}
	for ref, attempt := range n.fetching {
		if now.Sub(attempt.last) > 10*fetchRetryDelay {
			delete(n.fetching, ref)
		}
	}

	for target, refs := range byTarget {
		addr := n.committee.Authority(target).NetAddr
		args := &net.FetchBlocksRequest{
			FromID: uint32(self),
			Refs:   refs,
		}
		n.goFunc(func() {
			var resp net.FetchBlocksResponse
			if err := n.trans.FetchBlocks(addr, args, &resp); err != nil {
				n.logger.WithError(err).WithField("target", addr).Debug("FetchBlocks")
				return
			}
			n.enqueue(target, resp.Blocks)
		})
	}
}

func encodeBlocks(blocks []*dag.Block) ([][]byte, error) {
	res := make([][]byte, len(blocks))
	for i, b := range blocks {
		data, err := b.Marshal()
		if err != nil {
			return nil, err
		}
		res[i] = data
	}
	return res, nil
}

/*******************************************************************************
Shutdown and stats
*******************************************************************************/

// Shutdown stops every goroutine of the node, then closes the transport and
// the store.
func (n *Node) Shutdown() {
	n.stopOnce.Do(func() {
		n.logger.Debug("Shutdown")
		n.logStats()

		n.setState(Shutdown)
		close(n.shutdownCh)
		n.controlTimer.Shutdown()

		n.waitRoutines()

		n.trans.Close()

		n.coreLock.Lock()
		if err := n.core.store.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
		n.coreLock.Unlock()
	})
}

// ShutdownCh is closed when the node starts shutting down.
func (n *Node) ShutdownCh() <-chan struct{} {
	return n.shutdownCh
}

// Store ...
func (n *Node) Store() dag.Store {
	return n.core.store
}

// GetCommittee ...
func (n *Node) GetCommittee() *committee.Committee {
	return n.committee
}

// GetCommit returns the persisted commit with the given index.
func (n *Node) GetCommit(index uint64) (*dag.Commit, error) {
	return n.core.store.GetCommit(index)
}

// GetBlock returns a stored block.
func (n *Node) GetBlock(ref dag.BlockRef) (*dag.Block, error) {
	return n.core.store.GetBlock(ref)
}

// GetState ...
func (n *Node) GetState() State {
	return n.getState()
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	n.coreLock.Lock()
	stats := n.core.GetStats()
	n.coreLock.Unlock()

	stats["state"] = n.getState().String()
	stats["moniker"] = n.validator.Moniker
	if !n.start.IsZero() {
		stats["uptime"] = strconv.FormatFloat(time.Since(n.start).Seconds(), 'f', 2, 64)
	}
	return stats
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}
	n.logger.WithFields(fields).Debug("Stats")
}
