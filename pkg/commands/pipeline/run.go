package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	vpipeline "github.com/smartcontractkit/collection-views/pipeline"
	"github.com/smartcontractkit/collection-views/pkg/commands/flags"
	"github.com/smartcontractkit/collection-views/pkg/commands/text"
	"github.com/smartcontractkit/collection-views/pkg/logger"
	"github.com/smartcontractkit/collection-views/sink/sqlsink"
)

var (
	runLong = text.LongDesc(`
		Builds the source collection and the views described by a pipeline file,
		applies the steps of the file to the source and prints the records of the
		source and of every view once all steps are done.

		With a sink, the selected collections are also written to SQL tables named
		<sink_table>_<name> and kept current while the steps run.
	`)

	runExample = text.Examples(`
		# Run a pipeline and print every view in the format of its settings
		viewctl pipeline run -c pipeline.yaml

		# Print two views as TOML into a file
		viewctl pipeline run -c pipeline.yaml --view active --view cards -f toml -o views.toml

		# Materialize the views into an in-process SQL database while running
		viewctl pipeline run -c pipeline.yaml --sink ramsql://views
	`)
)

type runFlags struct {
	configPath string
	format     string
	out        string
	sink       string
	views      []string
}

// newRunCmd creates the "run" subcommand.
func newRunCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a pipeline and print its views",
		Long:    runLong,
		Example: runExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := runFlags{
				configPath: flags.MustString(cmd.Flags().GetString("config")),
				format:     flags.MustString(cmd.Flags().GetString("format")),
				out:        flags.MustString(cmd.Flags().GetString("out")),
				sink:       flags.MustString(cmd.Flags().GetString("sink")),
				views:      flags.MustStringSlice(cmd.Flags().GetStringSlice("view")),
			}

			return runRun(cmd, cfg, f)
		},
	}

	flags.Config(cmd)
	flags.Format(cmd)
	flags.View(cmd)
	flags.Output(cmd)
	cmd.Flags().String("sink", "", "Data source name of a SQL sink, e.g. ramsql://views (default from settings)")

	return cmd
}

// runRun executes the run command logic.
func runRun(cmd *cobra.Command, cfg Config, f runFlags) error {
	deps := cfg.deps()
	ctx := cmd.Context()

	settings, err := deps.SettingsLoader(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	lggr, err := cfg.logger(settings)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	format, err := vpipeline.ParseFormat(cmp.Or(f.format, settings.Format))
	if err != nil {
		return err
	}

	pcfg, err := deps.ConfigLoader(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load pipeline: %w", err)
	}
	p, err := vpipeline.Build(pcfg, lggr)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer p.Close()
	p.Trace()

	for _, name := range f.views {
		if _, err := p.Lookup(name); err != nil {
			return err
		}
	}

	if dsn := cmp.Or(f.sink, settings.SinkDSN); dsn != "" {
		detach, err := attachSinks(ctx, deps, lggr, dsn, settings.SinkTable, p, f.views)
		if err != nil {
			return err
		}
		defer detach()
	}

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("error during pipeline run for %s: %w", f.configPath, err)
	}

	snapshot, err := p.Snapshot(f.views...)
	if err != nil {
		return err
	}

	return write(cmd, f.out, format, snapshot)
}

// attachSinks connects to dsn and materializes every selected collection of p.
// The returned function detaches the sinks and closes the connection.
func attachSinks(ctx context.Context, deps *Deps, lggr logger.Logger, dsn, table string, p *vpipeline.Pipeline, names []string) (func(), error) {
	lggr = lggr.Named("sink")
	db, err := deps.SinkOpener(ctx, dsn, sqlsink.WithLogger(lggr))
	if err != nil {
		return nil, fmt.Errorf("failed to open sink: %w", err)
	}

	if len(names) == 0 {
		names = append([]string{vpipeline.SourceName}, p.Names()...)
	}

	var sinks []*sqlsink.Sink
	detach := func() {
		for _, s := range sinks {
			s.Close()
		}
		if err := db.Close(); err != nil {
			lggr.Warnw("failed to close sink database", "error", err)
		}
	}

	for _, name := range names {
		source, err := p.Lookup(name)
		if err != nil {
			detach()
			return nil, err
		}
		s, err := sqlsink.Attach(ctx, db, table+"_"+name, source, sqlsink.WithLogger(lggr))
		if err != nil {
			detach()
			return nil, fmt.Errorf("failed to attach sink for %s: %w", name, err)
		}
		sinks = append(sinks, s)
	}

	return detach, nil
}

func write(cmd *cobra.Command, out string, format vpipeline.Format, snapshot any) error {
	if out == "" {
		return vpipeline.Encode(cmd.OutOrStdout(), format, snapshot)
	}

	file, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := encodeAndClose(file, format, snapshot); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	cmd.Printf("Wrote views to %s\n", out)

	return nil
}

func encodeAndClose(w io.WriteCloser, format vpipeline.Format, v any) error {
	if err := vpipeline.Encode(w, format, v); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
