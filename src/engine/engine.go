package engine

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mosaicnetworks/dagbft/src/committee"
	"github.com/mosaicnetworks/dagbft/src/config"
	"github.com/mosaicnetworks/dagbft/src/consensus"
	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/net"
	"github.com/mosaicnetworks/dagbft/src/node"
	"github.com/mosaicnetworks/dagbft/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// CommitHandler is called for every sub-DAG committed by the authority at
// position i of the engine's nodes.
type CommitHandler func(i int, subDag *consensus.CommittedSubDag)

// Engine wires a Node to its key, committee, store and transport. In
// simulation mode (Config.Authorities > 0) it runs a whole committee in the
// same process over an in-memory network, and Node is the first authority.
type Engine struct {
	Config    *config.Config
	Committee *committee.Committee
	Node      *node.Node
	Store     dag.Store
	Transport net.Transport
	Registry  *prometheus.Registry
	Service   *service.Service

	// OnCommit, if set, is called for every committed sub-DAG.
	OnCommit CommitHandler

	nodes      []*node.Node
	transports []net.Transport
	next       uint64
	wg         sync.WaitGroup
	logger     *logrus.Entry
}

// NewEngine ...
func NewEngine(conf *config.Config) *Engine {
	engine := &Engine{
		Config:   conf,
		Registry: prometheus.NewRegistry(),
		logger:   conf.Logger(),
	}

	return engine
}

// Init loads or creates everything the nodes need and initializes them from
// their stores.
func (e *Engine) Init() error {
	if e.Config.Bootstrap {
		e.Config.Store = true
	}

	if e.Config.Authorities > 0 {
		if err := e.initSimulation(); err != nil {
			return err
		}
	} else {
		if err := e.initKey(); err != nil {
			return err
		}

		if err := e.initCommittee(); err != nil {
			return err
		}

		store, err := e.initStore(e.Config.DatabaseDir)
		if err != nil {
			return err
		}
		e.Store = store

		if err := e.initTransport(); err != nil {
			return err
		}

		if err := e.initNode(e.Config.Key, e.Config.Moniker, e.Store, e.Transport); err != nil {
			return err
		}
	}

	e.Node = e.nodes[0]

	e.initService()

	return nil
}

func (e *Engine) initKey() error {
	if e.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(e.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()
		if err != nil {
			e.logger.Warn("Cannot read private key from file", err)

			privKey, err = Keygen(e.Config.DataDir)
			if err != nil {
				e.logger.Error("Cannot generate a new private key", err)
				return err
			}

			e.logger.Info("Created a new key: ", keys.PublicKeyHex(&privKey.PublicKey))
		}

		e.Config.Key = privKey
	}
	return nil
}

func (e *Engine) initCommittee() error {
	c, err := committee.NewJSONCommittee(e.Config.DataDir).Committee()
	if err != nil {
		return err
	}

	if c.Size() < 2 {
		return fmt.Errorf("committee.json should define at least two authorities")
	}

	e.Committee = c

	return nil
}

func (e *Engine) initStore(path string) (dag.Store, error) {
	if !e.Config.Store {
		e.logger.Debug("created new in-mem store")
		return dag.NewInmemStore(), nil
	}

	logger := e.logger.WithField("path", path)
	storeLogger := e.Config.Logger().WithField("prefix", "badger")

	if e.Config.Bootstrap {
		logger.Debug("Loading badger store from existing database")
		return dag.LoadBadgerStore(path, e.Config.CacheSize, storeLogger)
	}

	logger.Debug("Creating badger store")
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}
	return dag.NewBadgerStore(path, e.Config.CacheSize, storeLogger)
}

func (e *Engine) initTransport() error {
	transport, err := net.NewTCPTransport(
		e.Config.BindAddr,
		e.Config.AdvertiseAddr,
		e.Config.MaxPool,
		e.Config.TCPTimeout,
		e.Config.Logger().WithField("prefix", "transport"),
	)
	if err != nil {
		return err
	}

	e.Transport = transport
	e.transports = append(e.transports, transport)

	return nil
}

func (e *Engine) initNode(key *ecdsa.PrivateKey, moniker string, store dag.Store, trans net.Transport) error {
	validator := node.NewValidator(key, moniker)

	if validator.Moniker == "" {
		idx, ok := e.Committee.IndexByPubKeyHex(validator.PublicKeyHex())
		if !ok {
			return fmt.Errorf("cannot find self pubkey in committee.json")
		}
		validator.Moniker = e.Committee.Authority(idx).Moniker
	}

	e.logger.WithFields(logrus.Fields{
		"epoch":       e.Committee.Epoch,
		"authorities": e.Committee.Size(),
		"moniker":     validator.Moniker,
	}).Debug("COMMITTEE")

	n, err := node.NewNode(
		e.Config.NodeConfig(),
		validator,
		e.Committee,
		store,
		trans,
		e.Registry,
	)
	if err != nil {
		return err
	}

	if err := n.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	e.nodes = append(e.nodes, n)

	return nil
}

// initSimulation creates a committee of Config.Authorities members with
// fresh keys, each with its own store, connected by in-memory transports.
func (e *Engine) initSimulation() error {
	n := e.Config.Authorities

	privKeys := make([]*ecdsa.PrivateKey, n)
	authorities := make([]*committee.Authority, n)
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			return err
		}
		privKeys[i] = key
		authorities[i] = committee.NewAuthority(
			fmt.Sprintf("node%d", i),
			fmt.Sprintf("inmem://%d", i),
			keys.PublicKeyHex(&key.PublicKey),
			1)
	}

	c, err := committee.NewCommittee(0, authorities)
	if err != nil {
		return err
	}
	e.Committee = c

	inmem := make([]*net.InmemTransport, n)
	for i, a := range authorities {
		_, inmem[i] = net.NewInmemTransport(a.NetAddr)
		e.transports = append(e.transports, inmem[i])
	}
	net.ConnectAll(inmem...)

	for i, a := range authorities {
		store, err := e.initStore(filepath.Join(e.Config.DatabaseDir, a.Moniker))
		if err != nil {
			return err
		}
		if err := e.initNode(privKeys[i], a.Moniker, store, inmem[i]); err != nil {
			return err
		}
	}

	e.Store = e.nodes[0].Store()
	e.Transport = inmem[0]

	return nil
}

func (e *Engine) initService() {
	if e.Config.ServiceAddr != "" {
		e.Service = service.NewService(e.Config.ServiceAddr, e.Node, e.Registry, e.logger)
	}
}

// Nodes returns every node run by the engine.
func (e *Engine) Nodes() []*node.Node {
	return e.nodes
}

// SubmitTransaction hands tx to one of the engine's nodes, in turn.
func (e *Engine) SubmitTransaction(tx []byte) error {
	i := atomic.AddUint64(&e.next, 1) % uint64(len(e.nodes))
	return e.nodes[i].SubmitTransaction(tx)
}

// Run starts the nodes and blocks until Shutdown is called.
func (e *Engine) Run() {
	e.RunAsync()
	e.wg.Wait()
}

// RunAsync starts the transports, the nodes, and a goroutine per node that
// consumes its commits.
func (e *Engine) RunAsync() {
	if e.Service != nil {
		go e.Service.Serve()
	}

	for _, t := range e.transports {
		go t.Listen()
	}

	for i, n := range e.nodes {
		n.RunAsync()

		e.wg.Add(1)
		go e.consumeCommits(i, n)
	}
}

func (e *Engine) consumeCommits(i int, n *node.Node) {
	defer e.wg.Done()
	for {
		select {
		case s := <-n.CommitCh():
			txs := 0
			for _, b := range s.Blocks {
				txs += len(b.Transactions())
			}
			e.logger.WithFields(logrus.Fields{
				"node":         i,
				"index":        s.Index,
				"leader":       s.Leader,
				"blocks":       len(s.Blocks),
				"transactions": txs,
				"digest":       s.Digest.Hex(),
			}).Info("Commit")

			if e.OnCommit != nil {
				e.OnCommit(i, s)
			}
		case <-n.ShutdownCh():
			return
		}
	}
}

// Shutdown stops every node and the HTTP service. It returns once the
// commit consumers have exited.
func (e *Engine) Shutdown() {
	if e.Service != nil {
		e.Service.Close()
	}
	for _, n := range e.nodes {
		n.Shutdown()
	}
	e.wg.Wait()
}

// Keygen generates a new key and writes it in datadir. It fails if a key
// already exists there.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(filepath.Join(datadir, config.DefaultKeyfile))

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
