package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/viper"
)

// Settings are the runtime options of a pipeline run. They live in the
// optional "settings" section of the pipeline file and can be overridden by
// environment variables.
type Settings struct {
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`       // debug, info, warn or error
	LogEncoding string `mapstructure:"log_encoding" yaml:"log_encoding"` // json or console
	SinkDSN     string `mapstructure:"sink_dsn" yaml:"sink_dsn"`         // ramsql://<name> or a postgres URL; empty disables the sink
	SinkTable   string `mapstructure:"sink_table" yaml:"sink_table"`     // The table views are materialized into, suffixed with the view name
	Format      string `mapstructure:"format" yaml:"format"`             // Output format: json, yaml or toml
}

type settingsFile struct {
	Settings Settings `mapstructure:"settings"`
}

var (
	settingsDefaults = map[string]any{
		"settings.log_level":    "info",
		"settings.log_encoding": "console",
		"settings.sink_table":   "view",
		"settings.format":       string(FormatYAML),
	}

	// settingsEnvBindings maps setting keys to the environment variables that
	// can provide them, preferred name first.
	settingsEnvBindings = map[string][]string{
		"settings.log_level":    {"VIEWCTL_LOG_LEVEL", "LOG_LEVEL"},
		"settings.log_encoding": {"VIEWCTL_LOG_ENCODING"},
		"settings.sink_dsn":     {"VIEWCTL_SINK_DSN"},
		"settings.sink_table":   {"VIEWCTL_SINK_TABLE"},
		"settings.format":       {"VIEWCTL_FORMAT"},
	}
)

// LoadSettings reads the settings section of the pipeline file at filePath,
// falling back to defaults and env vars if the file does not exist. Env vars
// that are set override the values loaded from the file.
func LoadSettings(filePath string) (*Settings, error) {
	v := viper.New()
	for key, value := range settingsDefaults {
		v.SetDefault(key, value)
	}

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			v.SetConfigFile(filePath)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	cfg := &settingsFile{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return &cfg.Settings, nil
}

func bindEnvs(v *viper.Viper) error {
	for key, envs := range settingsEnvBindings {
		// Prepend the key to the env names
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
