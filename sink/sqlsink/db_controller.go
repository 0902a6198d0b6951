package sqlsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// DB is the statement surface shared by a plain connection and a transaction.
type DB interface {
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
}

func newDbController(db *sql.DB, lggr logger.Logger) *dbController {
	return &dbController{base: db, lggr: lggr}
}

// dbController routes statements to the open transaction, if any, and to the
// base connection otherwise.
type dbController struct {
	tx   *sql.Tx
	base *sql.DB
	lggr logger.Logger
}

func (d *dbController) conn() DB {
	if d.tx != nil {
		return d.tx
	}

	return d.base
}

func (d *dbController) Query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	d.lggr.Debugw("executing query", "query", q, "args", args, "tx", d.tx != nil)
	return d.conn().QueryContext(ctx, q, args...)
}

func (d *dbController) Exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	d.lggr.Debugw("executing statement", "statement", q, "args", args, "tx", d.tx != nil)
	return d.conn().ExecContext(ctx, q, args...)
}

// Fixture performs an Exec but ignores the result.
func (d *dbController) Fixture(ctx context.Context, q string, args ...any) error {
	_, err := d.Exec(ctx, q, args...)
	return err
}

func (d *dbController) Begin(ctx context.Context) error {
	if d.tx != nil {
		return errors.New("transaction already started")
	}
	tx, err := d.base.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	d.tx = tx

	return nil
}

func (d *dbController) Commit() error {
	if d.tx == nil {
		return errors.New("no transaction to commit")
	}
	defer func() {
		d.tx = nil
	}()

	return d.tx.Commit()
}

func (d *dbController) Rollback() error {
	if d.tx == nil {
		return errors.New("no transaction to roll back")
	}
	defer func() {
		d.tx = nil
	}()

	return d.tx.Rollback()
}

// withTransaction runs fn in a transaction that is committed when fn succeeds
// and rolled back otherwise. A panic in fn rolls back and is re-raised.
func (d *dbController) withTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err = d.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var txerr error
	defer func() {
		if r := recover(); r != nil {
			_ = d.Rollback()
			panic(r)
		} else if txerr != nil {
			err = errors.Join(err, d.Rollback())
		} else {
			err = d.Commit()
		}
	}()

	txerr = fn(ctx)

	return txerr
}
