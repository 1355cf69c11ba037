package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/consensus"
	"github.com/sirupsen/logrus"
)

// DefaultSyncInterval is how long a node waits without proposing before it
// sends its last block again and retries missing ancestors.
const DefaultSyncInterval = time.Second

// Config holds the parameters of an authority's consensus instance.
type Config struct {
	WaveLength        int           `mapstructure:"wave-length"`
	LeadersPerRound   int           `mapstructure:"leaders-per-round"`
	Pipeline          bool          `mapstructure:"pipeline"`
	MinRoundDelay     time.Duration `mapstructure:"min-round-delay"`
	SyncInterval      time.Duration `mapstructure:"sync-interval"`
	ValidationWorkers int           `mapstructure:"validation-workers"`
	MaxPendingBlocks  int           `mapstructure:"max-pending-blocks"`
	MaxTxPerBlock     int           `mapstructure:"max-tx-per-block"`
	MaxTxBytes        int           `mapstructure:"max-tx-bytes"`
	MaxBlockBytes     int           `mapstructure:"max-block-bytes"`
	TCPTimeout        time.Duration `mapstructure:"timeout"`
	Logger            *logrus.Logger
}

// NewConfig ...
func NewConfig(waveLength int,
	minRoundDelay time.Duration,
	validationWorkers int,
	maxPendingBlocks int,
	maxTxPerBlock int,
	maxTxBytes int,
	maxBlockBytes int,
	timeout time.Duration,
	logger *logrus.Logger) *Config {

	return &Config{
		WaveLength:        waveLength,
		LeadersPerRound:   1,
		MinRoundDelay:     minRoundDelay,
		SyncInterval:      DefaultSyncInterval,
		ValidationWorkers: validationWorkers,
		MaxPendingBlocks:  maxPendingBlocks,
		MaxTxPerBlock:     maxTxPerBlock,
		MaxTxBytes:        maxTxBytes,
		MaxBlockBytes:     maxBlockBytes,
		TCPTimeout:        timeout,
		Logger:            logger,
	}
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		WaveLength:        consensus.MinimumWaveLength,
		LeadersPerRound:   1,
		MinRoundDelay:     50 * time.Millisecond,
		SyncInterval:      DefaultSyncInterval,
		ValidationWorkers: 4,
		MaxPendingBlocks:  10000,
		MaxTxPerBlock:     1000,
		MaxTxBytes:        64 * 1024,
		MaxBlockBytes:     4 * 1024 * 1024,
		TCPTimeout:        1000 * time.Millisecond,
		Logger:            logger,
	}
}

// TestConfig returns a fast-ticking configuration that logs to t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.MinRoundDelay = 5 * time.Millisecond
	config.SyncInterval = 50 * time.Millisecond
	config.Logger = common.NewTestLogger(t)
	return config
}

// Limits returns the payload limits enforced by the block validator.
func (c *Config) Limits() consensus.Limits {
	return consensus.Limits{
		MaxTxSize:     c.MaxTxBytes,
		MaxTxCount:    c.MaxTxPerBlock,
		MaxBlockBytes: c.MaxBlockBytes,
	}
}

// CommitterOptions returns the leader slot layout of the committer.
func (c *Config) CommitterOptions() consensus.CommitterOptions {
	return consensus.CommitterOptions{
		WaveLength:      c.WaveLength,
		LeadersPerRound: c.LeadersPerRound,
		Pipeline:        c.Pipeline,
	}
}
