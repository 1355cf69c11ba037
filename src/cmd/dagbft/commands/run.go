package commands

import (
	"bufio"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/dagbft/src/config"
	"github.com/mosaicnetworks/dagbft/src/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a dagbft node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runDagbft,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runDagbft(cmd *cobra.Command, args []string) error {
	e := engine.NewEngine(&_config.Dagbft)

	if err := e.Init(); err != nil {
		_config.Dagbft.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_config.Dagbft.Logger().Info("Shutting down")
		e.Shutdown()
	}()

	if _config.Stdin {
		go submitStdin(e)
	}

	e.Run()

	return nil
}

func submitStdin(e *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		tx := []byte(scanner.Text())
		if len(tx) == 0 {
			continue
		}
		if err := e.SubmitTransaction(tx); err != nil {
			_config.Dagbft.Logger().WithError(err).Debug("Submitting transaction")
			return
		}
	}
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Dagbft.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Dagbft.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Dagbft.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Dagbft.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Dagbft.BindAddr, "Listen IP:Port for dagbft node")
	cmd.Flags().StringP("advertise", "a", _config.Dagbft.AdvertiseAddr, "Advertise IP:Port for dagbft node")
	cmd.Flags().DurationP("timeout", "t", _config.Dagbft.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.Dagbft.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.Dagbft.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Dagbft.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Dagbft.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Bool("bootstrap", _config.Dagbft.Bootstrap, "Load from database")
	cmd.Flags().Int("cache-size", _config.Dagbft.CacheSize, "Number of decoded blocks in the LRU cache")

	// Consensus
	cmd.Flags().Int("wave-length", _config.Dagbft.WaveLength, "Number of rounds in a wave")
	cmd.Flags().Int("leaders-per-round", _config.Dagbft.LeadersPerRound, "Number of leaders in each leader round")
	cmd.Flags().Bool("pipeline", _config.Dagbft.Pipeline, "Start a wave at every round")
	cmd.Flags().Duration("round-delay", _config.Dagbft.MinRoundDelay, "Minimum time between proposals")
	cmd.Flags().Duration("sync-interval", _config.Dagbft.SyncInterval, "Idle time before resending the last block")
	cmd.Flags().Int("workers", _config.Dagbft.ValidationWorkers, "Number of blocks validated in parallel")
	cmd.Flags().Int("max-pending", _config.Dagbft.MaxPendingBlocks, "Max number of blocks waiting for their ancestors")
	cmd.Flags().Int("max-tx-count", _config.Dagbft.MaxTxPerBlock, "Max number of transactions in a block")
	cmd.Flags().Int("max-tx-bytes", _config.Dagbft.MaxTxBytes, "Max size of a transaction")
	cmd.Flags().Int("max-block-bytes", _config.Dagbft.MaxBlockBytes, "Max size of the transactions of a block")

	// Local simulation
	cmd.Flags().Int("authorities", _config.Dagbft.Authorities, "Run a local committee of this size over an in-memory network")
	cmd.Flags().Bool("stdin", _config.Stdin, "Submit lines read from stdin as transactions")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Dagbft.SetDataDir(_config.Dagbft.DataDir)

	logFields := logrus.Fields{
		"dagbft.DataDir":           _config.Dagbft.DataDir,
		"dagbft.BindAddr":          _config.Dagbft.BindAddr,
		"dagbft.AdvertiseAddr":     _config.Dagbft.AdvertiseAddr,
		"dagbft.ServiceAddr":       _config.Dagbft.ServiceAddr,
		"dagbft.MaxPool":           _config.Dagbft.MaxPool,
		"dagbft.TCPTimeout":        _config.Dagbft.TCPTimeout,
		"dagbft.Store":             _config.Dagbft.Store,
		"dagbft.LogLevel":          _config.Dagbft.LogLevel,
		"dagbft.Moniker":           _config.Dagbft.Moniker,
		"dagbft.WaveLength":        _config.Dagbft.WaveLength,
		"dagbft.LeadersPerRound":   _config.Dagbft.LeadersPerRound,
		"dagbft.Pipeline":          _config.Dagbft.Pipeline,
		"dagbft.MinRoundDelay":     _config.Dagbft.MinRoundDelay,
		"dagbft.SyncInterval":      _config.Dagbft.SyncInterval,
		"dagbft.ValidationWorkers": _config.Dagbft.ValidationWorkers,
		"dagbft.MaxPendingBlocks":  _config.Dagbft.MaxPendingBlocks,
		"dagbft.Authorities":       _config.Dagbft.Authorities,
		"Stdin":                    _config.Stdin,
	}

	if _config.Dagbft.Store {
		logFields["dagbft.DatabaseDir"] = _config.Dagbft.DatabaseDir
		logFields["dagbft.Bootstrap"] = _config.Dagbft.Bootstrap
		logFields["dagbft.CacheSize"] = _config.Dagbft.CacheSize
	}

	_config.Dagbft.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/dagbft.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigName)
	viper.AddConfigPath(_config.Dagbft.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Dagbft.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Dagbft.Logger().Debugf("No config file found in: %s", _config.Dagbft.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
