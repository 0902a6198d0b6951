package pipeline

import (
	"github.com/spf13/cobra"

	vpipeline "github.com/smartcontractkit/collection-views/pipeline"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// Config holds the configuration for pipeline commands.
type Config struct {
	// Logger is the logger to use. When nil, every run builds one from the
	// pipeline settings with Deps.LoggerFactory.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// logger returns the configured logger, or one built from settings.
func (c *Config) logger(settings *vpipeline.Settings) (logger.Logger, error) {
	if c.Logger != nil {
		return c.Logger, nil
	}

	return c.deps().LoggerFactory(settings)
}

// NewCommand creates the pipeline command with all subcommands.
//
// Usage:
//
//	rootCmd.AddCommand(pipeline.NewCommand(pipeline.Config{
//	    Logger: lggr,
//	}))
func NewCommand(cfg Config) *cobra.Command {
	cfg.deps()

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Pipeline commands",
	}

	cmd.AddCommand(
		newRunCmd(cfg),
		newValidateCmd(cfg),
	)

	return cmd
}
