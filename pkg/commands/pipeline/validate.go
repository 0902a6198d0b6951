package pipeline

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	vpipeline "github.com/smartcontractkit/collection-views/pipeline"
	"github.com/smartcontractkit/collection-views/pkg/commands/flags"
	"github.com/smartcontractkit/collection-views/pkg/commands/text"
)

var (
	validateLong = text.LongDesc(`
		Loads a pipeline file and builds its views without applying any step.
		Fails when the file cannot be decoded, its version is not supported, a
		view or step is malformed, or the views reference unknown views or each
		other in a cycle.
	`)

	validateExample = text.Examples(`
		# Validate a pipeline file
		viewctl pipeline validate -c pipeline.yaml
	`)
)

// newValidateCmd creates the "validate" subcommand.
func newValidateCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "validate",
		Short:   "Validate a pipeline file",
		Long:    validateLong,
		Example: validateExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := flags.MustString(cmd.Flags().GetString("config"))
			deps := cfg.deps()

			settings, err := deps.SettingsLoader(configPath)
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			lggr, err := cfg.logger(settings)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			pcfg, err := deps.ConfigLoader(configPath)
			if err != nil {
				return fmt.Errorf("error during validation of %s: %w", configPath, err)
			}
			p, err := vpipeline.Build(pcfg, lggr)
			if err != nil {
				return fmt.Errorf("error during validation of %s: %w", configPath, err)
			}
			defer p.Close()

			cmd.Printf("Pipeline %s is valid: %d records, views [%s], %d steps\n",
				configPath, p.Source().Len(), strings.Join(p.Names(), ", "), len(pcfg.Steps),
			)

			return nil
		},
	}

	flags.Config(cmd)

	return cmd
}
