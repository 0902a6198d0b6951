package sqlsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/lib/pq"
	_ "github.com/proullon/ramsql/driver"

	"github.com/smartcontractkit/collection-views/pkg/logger"
)

const (
	ramsqlScheme = "ramsql://"

	defaultAttempts = 3
	defaultDelay    = 500 * time.Millisecond
)

var (
	ErrUnsupportedDSN = errors.New("unsupported data source name")
	ErrInvalidTable   = errors.New("invalid table name")
)

// Option configures Open and Attach.
type Option func(*options)

type options struct {
	attempts uint
	delay    time.Duration
	lggr     logger.Logger
}

// WithRetry sets how often, and how far apart, Open checks that the database
// is reachable before giving up.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		o.attempts = attempts
		o.delay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(lggr logger.Logger) Option {
	return func(o *options) {
		o.lggr = lggr
	}
}

func newOptions(opts []Option) options {
	o := options{
		attempts: defaultAttempts,
		delay:    defaultDelay,
		lggr:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Open connects to the database named by dsn and waits until it answers.
//
// Supported forms are ramsql://<name> for an in-process database and
// postgres:// or postgresql:// URLs for PostgreSQL.
func Open(ctx context.Context, dsn string, opts ...Option) (*sql.DB, error) {
	o := newOptions(opts)

	driver, name, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	err = retry.Do(
		func() error {
			return db.PingContext(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.Delay(o.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			o.lggr.Warnw("database not reachable, retrying", "driver", driver, "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", driver, err)
	}
	o.lggr.Infow("database connected", "driver", driver)

	return db, nil
}

func driverFor(dsn string) (driver, name string, err error) {
	if name, ok := strings.CutPrefix(dsn, ramsqlScheme); ok {
		if name == "" {
			return "", "", fmt.Errorf("%w: missing database name in %q", ErrUnsupportedDSN, dsn)
		}

		return "ramsql", name, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", dsn, nil
	}

	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
}
