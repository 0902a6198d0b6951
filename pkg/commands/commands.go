// Package commands provides modular CLI command packages for view pipelines.
//
// There are two ways to use commands from this package:
//
// 1. Via the Commands factory (recommended for most use cases):
//
//	commands := commands.New(lggr)
//	app.AddCommand(commands.Pipeline())
//
// 2. Via direct package imports (for advanced DI/testing):
//
//	import "github.com/smartcontractkit/collection-views/pkg/commands/pipeline"
//
//	app.AddCommand(pipeline.NewCommand(pipeline.Config{
//	    Logger: lggr,
//	    Deps:   pipeline.Deps{...},  // inject fakes for testing
//	}))
package commands

import (
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/collection-views/pkg/commands/pipeline"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// The logger will be shared across all commands created by this factory. A nil
// logger lets every command build its own from the settings of the pipeline
// file it runs.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Pipeline creates the pipeline command group for validating and running
// pipeline files.
//
// Usage:
//
//	cmds := commands.New(lggr)
//	rootCmd.AddCommand(cmds.Pipeline())
func (c *Commands) Pipeline() *cobra.Command {
	return pipeline.NewCommand(pipeline.Config{
		Logger: c.lggr,
	})
}
