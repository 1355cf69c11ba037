package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/node"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the
	// authority's private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultConfigName is the name of the optional config file, without
	// extension, in the data directory.
	DefaultConfigName = "dagbft"
)

// Default configuration values.
const (
	DefaultLogLevel          = "debug"
	DefaultBindAddr          = "127.0.0.1:1337"
	DefaultTCPTimeout        = 1000 * time.Millisecond
	DefaultMaxPool           = 2
	DefaultWaveLength        = 3
	DefaultLeadersPerRound   = 1
	DefaultPipeline          = false
	DefaultMinRoundDelay     = 50 * time.Millisecond
	DefaultSyncInterval      = time.Second
	DefaultValidationWorkers = 4
	DefaultMaxPendingBlocks  = 10000
	DefaultMaxTxPerBlock     = 1000
	DefaultMaxTxBytes        = 64 * 1024
	DefaultMaxBlockBytes     = 4 * 1024 * 1024
	DefaultCacheSize         = 10000
	DefaultStore             = false
	DefaultAuthorities       = 0
)

// Config contains all the configuration properties of a dagbft node.
type Config struct {
	// DataDir is the top-level directory containing the key, the committee
	// file, and the database.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// BindAddr is the local address:port where this node exchanges blocks
	// with other authorities.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of block RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// ServiceAddr is the address:port of the HTTP service which exposes stats,
	// commits and prometheus metrics. The service is disabled if it is empty.
	ServiceAddr string `mapstructure:"service-listen"`

	// WaveLength is the number of rounds in a wave. The first round of a wave
	// is the leader round, the last one is the decision round.
	WaveLength int `mapstructure:"wave-length"`

	// LeadersPerRound is the number of leader slots in each leader round.
	LeadersPerRound int `mapstructure:"leaders-per-round"`

	// Pipeline starts a new wave at every round.
	Pipeline bool `mapstructure:"pipeline"`

	// MinRoundDelay is the minimum time between two proposals.
	MinRoundDelay time.Duration `mapstructure:"round-delay"`

	// SyncInterval is how long a node waits without proposing before it sends
	// its last block again and asks for missing ancestors.
	SyncInterval time.Duration `mapstructure:"sync-interval"`

	// ValidationWorkers bounds the number of blocks verified in parallel.
	ValidationWorkers int `mapstructure:"workers"`

	// MaxPendingBlocks bounds the number of blocks waiting for ancestors.
	MaxPendingBlocks int `mapstructure:"max-pending"`

	// MaxTxPerBlock, MaxTxBytes and MaxBlockBytes bound the payload of a
	// block.
	MaxTxPerBlock int `mapstructure:"max-tx-count"`
	MaxTxBytes    int `mapstructure:"max-tx-bytes"`
	MaxBlockBytes int `mapstructure:"max-block-bytes"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of decoded blocks kept in memory by the
	// badger store.
	CacheSize int `mapstructure:"cache-size"`

	// Bootstrap determines whether or not to load the node from an existing
	// database. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// Authorities, when greater than zero, runs a local simulation with that
	// many authorities over an in-memory network instead of a single node.
	Authorities int `mapstructure:"authorities"`

	// Key is the private key of the authority.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		BindAddr:          DefaultBindAddr,
		MaxPool:           DefaultMaxPool,
		TCPTimeout:        DefaultTCPTimeout,
		WaveLength:        DefaultWaveLength,
		LeadersPerRound:   DefaultLeadersPerRound,
		Pipeline:          DefaultPipeline,
		MinRoundDelay:     DefaultMinRoundDelay,
		SyncInterval:      DefaultSyncInterval,
		ValidationWorkers: DefaultValidationWorkers,
		MaxPendingBlocks:  DefaultMaxPendingBlocks,
		MaxTxPerBlock:     DefaultMaxTxPerBlock,
		MaxTxBytes:        DefaultMaxTxBytes,
		MaxBlockBytes:     DefaultMaxBlockBytes,
		Store:             DefaultStore,
		DatabaseDir:       DefaultDatabaseDir(),
		CacheSize:         DefaultCacheSize,
		Authorities:       DefaultAuthorities,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.MinRoundDelay = 5 * time.Millisecond
	config.SyncInterval = 50 * time.Millisecond
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// NodeConfig returns the consensus parameters of the node.
func (c *Config) NodeConfig() *node.Config {
	conf := node.NewConfig(
		c.WaveLength,
		c.MinRoundDelay,
		c.ValidationWorkers,
		c.MaxPendingBlocks,
		c.MaxTxPerBlock,
		c.MaxTxBytes,
		c.MaxBlockBytes,
		c.TCPTimeout,
		c.baseLogger(),
	)
	conf.LeadersPerRound = c.LeadersPerRound
	conf.Pipeline = c.Pipeline
	conf.SyncInterval = c.SyncInterval
	return conf
}

// Logger returns a formatted logrus Entry, with prefix set to "dagbft".
func (c *Config) Logger() *logrus.Entry {
	return c.baseLogger().WithField("prefix", "dagbft")
}

func (c *Config) baseLogger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				c.LogFile,
				&logrus.TextFormatter{DisableColors: true},
			))
		}
	}
	return c.logger
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".DAGBFT")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "DAGBFT")
		} else {
			return filepath.Join(home, ".dagbft")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
