package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vpipeline "github.com/smartcontractkit/collection-views/pipeline"
	"github.com/smartcontractkit/collection-views/pkg/logger"
	"github.com/smartcontractkit/collection-views/sink/sqlsink"
)

// fixedSettings returns a settings loader that ignores the file and env.
func fixedSettings(s vpipeline.Settings) SettingsLoaderFunc {
	return func(string) (*vpipeline.Settings, error) {
		return &s, nil
	}
}

func execute(t *testing.T, cfg Config, args ...string) (string, error) {
	t.Helper()

	cmd := NewCommand(cfg)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()

	return out.String(), err
}

// TestNewCommand_Structure verifies the command structure is correct.
func TestNewCommand_Structure(t *testing.T) {
	t.Parallel()

	cmd := NewCommand(Config{Logger: logger.Nop()})

	assert.Equal(t, "pipeline", cmd.Use)
	assert.Equal(t, "Pipeline commands", cmd.Short)

	subs := cmd.Commands()
	require.Len(t, subs, 2)
	assert.Equal(t, "run", subs[0].Use)
	assert.Equal(t, "validate", subs[1].Use)
}

// TestNewCommand_RunFlags verifies the run subcommand has correct flags.
func TestNewCommand_RunFlags(t *testing.T) {
	t.Parallel()

	cmd := NewCommand(Config{Logger: logger.Nop()})
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	c := run.Flags().Lookup("config")
	require.NotNil(t, c)
	assert.Equal(t, "c", c.Shorthand)

	f := run.Flags().Lookup("format")
	require.NotNil(t, f)
	assert.Equal(t, "f", f.Shorthand)
	assert.Empty(t, f.DefValue)

	o := run.Flags().Lookup("out")
	require.NotNil(t, o)
	assert.Equal(t, "o", o.Shorthand)

	require.NotNil(t, run.Flags().Lookup("view"))
	require.NotNil(t, run.Flags().Lookup("sink"))
}

func TestRun_MissingConfigFlagFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, Config{Logger: logger.Nop()}, "run")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "config" not set`)
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	out, err := execute(t, Config{
		Logger: logger.Test(t),
		Deps:   Deps{SettingsLoader: fixedSettings(vpipeline.Settings{Format: "json"})},
	}, "run", "-c", "testdata/pipeline.yaml", "--view", "names")
	require.NoError(t, err)

	assert.JSONEq(t, `{"names": [{"who": "Alfred"}, {"who": "Jeeves"}, {"who": "Carson"}]}`, out)
}

func TestRun_FormatFlagOverridesSettings(t *testing.T) {
	t.Parallel()

	out, err := execute(t, Config{
		Logger: logger.Test(t),
		Deps:   Deps{SettingsLoader: fixedSettings(vpipeline.Settings{Format: "json"})},
	}, "run", "-c", "testdata/pipeline.yaml", "--view", "active", "-f", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "active:\n")
	assert.Contains(t, out, "name: Carson")
	assert.NotContains(t, out, "names:")
	assert.NotContains(t, out, "{")
}

func TestRun_OutputFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "views.toml")
	out, err := execute(t, Config{
		Logger: logger.Test(t),
		Deps:   Deps{SettingsLoader: fixedSettings(vpipeline.Settings{Format: "json"})},
	}, "run", "-c", "testdata/pipeline.yaml", "-f", "toml", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote views to "+path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[[names]]")
	assert.Contains(t, string(b), "[[source]]")
}

func TestRun_Sink(t *testing.T) {
	t.Parallel()

	var gotDSN string
	out, err := execute(t, Config{
		Logger: logger.Test(t),
		Deps: Deps{
			SettingsLoader: fixedSettings(vpipeline.Settings{Format: "json", SinkTable: "butlers"}),
			SinkOpener: func(ctx context.Context, dsn string, opts ...sqlsink.Option) (*sql.DB, error) {
				gotDSN = dsn
				return sqlsink.Open(ctx, dsn, opts...)
			},
		},
	}, "run", "-c", "testdata/pipeline.yaml", "--sink", "ramsql://command-test-sink")
	require.NoError(t, err)

	assert.Equal(t, "ramsql://command-test-sink", gotDSN)
	assert.Contains(t, out, "Carson")
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		deps    Deps
		wantErr string
	}{
		{
			name:    "settings",
			args:    []string{"run", "-c", "testdata/pipeline.yaml"},
			deps:    Deps{SettingsLoader: func(string) (*vpipeline.Settings, error) { return nil, errors.New("boom") }},
			wantErr: "failed to load settings: boom",
		},
		{
			name:    "unknown format",
			args:    []string{"run", "-c", "testdata/pipeline.yaml", "-f", "xml"},
			wantErr: "unsupported format",
		},
		{
			name:    "missing file",
			args:    []string{"run", "-c", "testdata/missing.yaml"},
			wantErr: "failed to load pipeline",
		},
		{
			name:    "broken pipeline",
			args:    []string{"run", "-c", "testdata/broken.yaml"},
			wantErr: "failed to build pipeline",
		},
		{
			name:    "unknown view",
			args:    []string{"run", "-c", "testdata/pipeline.yaml", "--view", "nope"},
			wantErr: "unknown view",
		},
		{
			name: "sink",
			args: []string{"run", "-c", "testdata/pipeline.yaml", "--sink", "ramsql://x"},
			deps: Deps{SinkOpener: func(context.Context, string, ...sqlsink.Option) (*sql.DB, error) {
				return nil, errors.New("unreachable")
			}},
			wantErr: "failed to open sink: unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps := tt.deps
			if deps.SettingsLoader == nil {
				deps.SettingsLoader = fixedSettings(vpipeline.Settings{Format: "json"})
			}
			_, err := execute(t, Config{Logger: logger.Test(t), Deps: deps}, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_LoggerFromSettings(t *testing.T) {
	t.Parallel()

	var got *vpipeline.Settings
	_, err := execute(t, Config{
		Deps: Deps{
			SettingsLoader: fixedSettings(vpipeline.Settings{Format: "json", LogLevel: "warn"}),
			LoggerFactory: func(s *vpipeline.Settings) (logger.Logger, error) {
				got = s
				return logger.Test(t), nil
			},
		},
	}, "run", "-c", "testdata/pipeline.yaml")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "warn", got.LogLevel)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		out, err := execute(t, Config{Logger: logger.Test(t)}, "validate", "-c", "testdata/pipeline.yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "Pipeline testdata/pipeline.yaml is valid: 2 records, views [active, names], 2 steps")
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, Config{Logger: logger.Test(t)}, "validate", "-c", "testdata/broken.yaml")
		require.ErrorIs(t, err, vpipeline.ErrUnknownView)
		assert.Contains(t, err.Error(), "error during validation of testdata/broken.yaml")
	})
}
