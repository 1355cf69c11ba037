package service

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/node"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service exposes a node's stats, commits and committee over HTTP, along
// with its prometheus metrics.
type Service struct {
	bindAddress string
	node        *node.Node
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, gatherer prometheus.Gatherer, logger *logrus.Entry) *Service {
	service := &Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	mux := http.NewServeMux()
	service.registerHandlers(mux, gatherer)

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: mux,
	}

	return service
}

func (s *Service) registerHandlers(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	s.logger.Debug("Registering dagbft API handlers")
	mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	mux.HandleFunc("/commit/", s.makeHandler(s.GetCommit))
	mux.HandleFunc("/committee", s.makeHandler(s.GetCommittee))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the service's router.
func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

// Serve calls ListenAndServe. This is a blocking call which returns when the
// service is closed.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving dagbft API")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Close stops the HTTP server.
func (s *Service) Close() error {
	return s.server.Close()
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// CommitView is the JSON representation of a commit.
type CommitView struct {
	Index          uint64
	Leader         string
	Blocks         []string
	Timestamp      int64
	PreviousDigest string
}

func newCommitView(c *dag.Commit) *CommitView {
	blocks := make([]string, len(c.Blocks))
	for i, ref := range c.Blocks {
		blocks[i] = ref.String()
	}
	return &CommitView{
		Index:          c.Index,
		Leader:         c.Leader.String(),
		Blocks:         blocks,
		Timestamp:      c.Timestamp,
		PreviousDigest: c.PreviousDigest.Hex(),
	}
}

// GetCommit ...
func (s *Service) GetCommit(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/commit/"):]

	index, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing commit index parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	commit, err := s.node.GetCommit(index)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving commit %d", index)

		status := http.StatusInternalServerError
		if common.IsStore(err, common.KeyNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(newCommitView(commit))
}

// GetCommittee ...
func (s *Service) GetCommittee(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetCommittee())
}
