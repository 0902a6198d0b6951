// Package pipeline provides the CLI commands that validate and run view pipelines.
package pipeline

import (
	"context"
	"database/sql"

	vpipeline "github.com/smartcontractkit/collection-views/pipeline"
	"github.com/smartcontractkit/collection-views/pkg/logger"
	"github.com/smartcontractkit/collection-views/sink/sqlsink"
)

// ConfigLoaderFunc loads a pipeline file.
type ConfigLoaderFunc func(path string) (*vpipeline.Config, error)

// SettingsLoaderFunc loads the runtime settings of a pipeline file.
type SettingsLoaderFunc func(path string) (*vpipeline.Settings, error)

// SinkOpenerFunc connects to the database a sink writes to.
type SinkOpenerFunc func(ctx context.Context, dsn string, opts ...sqlsink.Option) (*sql.DB, error)

// LoggerFactoryFunc builds the logger of a command run from the pipeline settings.
type LoggerFactoryFunc func(settings *vpipeline.Settings) (logger.Logger, error)

// defaultLoggerFactory builds a zap logger with the level and encoding of settings.
func defaultLoggerFactory(settings *vpipeline.Settings) (logger.Logger, error) {
	lc, err := logger.ParseConfig(settings.LogLevel, settings.LogEncoding)
	if err != nil {
		return nil, err
	}

	return lc.New()
}

// Deps holds the injectable dependencies for pipeline commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the pipeline file.
	// Default: pipeline.Load
	ConfigLoader ConfigLoaderFunc

	// SettingsLoader loads the settings section and its env overrides.
	// Default: pipeline.LoadSettings
	SettingsLoader SettingsLoaderFunc

	// SinkOpener connects to the sink database.
	// Default: sqlsink.Open
	SinkOpener SinkOpenerFunc

	// LoggerFactory builds the logger when Config.Logger is nil.
	// Default: a zap logger configured from the settings
	LoggerFactory LoggerFactoryFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = vpipeline.Load
	}
	if d.SettingsLoader == nil {
		d.SettingsLoader = vpipeline.LoadSettings
	}
	if d.SinkOpener == nil {
		d.SinkOpener = sqlsink.Open
	}
	if d.LoggerFactory == nil {
		d.LoggerFactory = defaultLoggerFactory
	}
}
