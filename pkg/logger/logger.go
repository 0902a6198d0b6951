// Package logger provides the structured logger shared by collections, views,
// sinks and the viewctl CLI. It is a thin wrapper over go.uber.org/zap's
// SugaredLogger.
package logger

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the logging interface used throughout the module.
//
// Loggers should be injected and usually Named: e.g. lggr.Named("filtered").
//
// Tests should use a [Test] logger, or [TestObserved] when the test asserts on
// emitted entries. [New] is reserved for the CLI runtime.
//
// Levels
//   - Error: a view or sink could not be kept in sync and the caller got an error back.
//   - Warn: something recoverable happened, e.g. a sink health check had to be retried.
//   - Info: lifecycle of pipelines and sinks.
//   - Debug: every synchronisation reaction of a view. Expect a lot of these.
type Logger interface {
	// Name returns the fully qualified name of the logger.
	Name() string
	// Named returns a child logger with name appended to the current name.
	Named(name string) Logger
	// With returns a child logger carrying the given key/value pairs.
	With(keysAndValues ...any) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(format string, values ...any)
	Infof(format string, values ...any)
	Warnf(format string, values ...any)
	Errorf(format string, values ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)

	// Sync flushes any buffered log entries.
	Sync() error
}

// Config configures a runtime Logger.
type Config struct {
	Level    zapcore.Level
	Encoding string // "json" (default) or "console"
}

// ParseConfig builds a Config from textual settings, as found in pipeline
// settings files and environment variables.
func ParseConfig(level, encoding string) (Config, error) {
	cfg := Config{Level: zapcore.InfoLevel, Encoding: encoding}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	switch cfg.Encoding {
	case "", "json", "console":
	default:
		return Config{}, fmt.Errorf("invalid log encoding %q", encoding)
	}

	return cfg, nil
}

// New returns a new Logger with the default configuration.
func New() (Logger, error) { return (&Config{Level: zapcore.InfoLevel}).New() }

// New returns a new Logger for Config.
func (c *Config) New() (Logger, error) {
	return NewWith(func(cfg *zap.Config) {
		cfg.Level.SetLevel(c.Level)
		if c.Encoding != "" {
			cfg.Encoding = c.Encoding
		}
		if c.Encoding == "console" {
			cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		}
	})
}

// NewWith returns a new Logger from a modified [zap.Config].
func NewWith(cfgFn func(*zap.Config)) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfgFn(&cfg)
	core, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &logger{core.Sugar()}, nil
}

// Test returns a new test Logger for tb.
func Test(tb testing.TB) Logger {
	tb.Helper()
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	lggr := zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg),
			zaptest.NewTestingWriter(tb),
			zapcore.DebugLevel,
		),
	)

	return &logger{lggr.Sugar()}
}

// TestObserved returns a new test Logger for tb and ObservedLogs at the given Level.
func TestObserved(tb testing.TB, lvl zapcore.Level) (Logger, *observer.ObservedLogs) {
	tb.Helper()
	oCore, logs := observer.New(lvl)
	observe := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, oCore)
	})
	sl := zaptest.NewLogger(tb, zaptest.WrapOptions(observe, zap.AddCaller())).Sugar()

	return &logger{sl}, logs
}

// Nop returns a no-op Logger.
func Nop() Logger {
	return &logger{zap.New(zapcore.NewNopCore()).Sugar()}
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Name() string {
	return l.Desugar().Name()
}

func (l *logger) Named(name string) Logger {
	return &logger{l.SugaredLogger.Named(name)}
}

func (l *logger) With(keysAndValues ...any) Logger {
	return &logger{l.SugaredLogger.With(keysAndValues...)}
}
