package commands

import (
	"github.com/mosaicnetworks/dagbft/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Dagbft config.Config `mapstructure:",squash"`

	// Stdin submits every line read from the standard input as a transaction.
	Stdin bool `mapstructure:"stdin"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Dagbft: *config.NewDefaultConfig(),
		Stdin:  false,
	}
}
