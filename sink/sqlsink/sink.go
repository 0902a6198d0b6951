package sqlsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/smartcontractkit/collection-views/collection"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Row is one materialized record.
type Row struct {
	CID        string
	Ordinal    int
	RecordID   string
	Attributes collection.Attributes
}

// Sink keeps a SQL table equal to the contents of a collection or view.
//
// Structural events (add, remove, reset, sort) rewrite the whole table in one
// transaction; a change of a member rewrites only its row. A write failure is
// returned to the caller of the mutation that caused it.
type Sink struct {
	ctx    context.Context
	db     *dbController
	table  string
	source collection.Source
	subs   []collection.Subscription
	lggr   logger.Logger
}

// Attach creates table if needed, fills it with the current contents of source
// and subscribes to source. ctx bounds every write the sink makes until Close.
func Attach(ctx context.Context, db *sql.DB, table string, source collection.Source, opts ...Option) (*Sink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	o := newOptions(opts)

	s := &Sink{
		ctx:    ctx,
		db:     newDbController(db, o.lggr),
		table:  table,
		source: source,
		lggr:   o.lggr.With("table", table),
	}
	if err := s.db.Fixture(ctx, s.stmt(sCHEMA_VIEW_TABLE)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	if err := s.rewrite(ctx); err != nil {
		return nil, err
	}

	for _, name := range []string{collection.EventAdd, collection.EventRemove, collection.EventReset, collection.EventSort} {
		s.subs = append(s.subs, source.On(name, s.onStructure))
	}
	s.subs = append(s.subs, source.On(collection.EventChange, s.onChange))
	s.lggr.Infow("sink attached", "rows", source.Len())

	return s, nil
}

// Rows returns the materialized rows in order.
func (s *Sink) Rows(ctx context.Context) ([]Row, error) {
	rows, err := s.db.Query(ctx, s.stmt(qUERY_ROWS))
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row   Row
			attrs string
		)
		if err := rows.Scan(&row.CID, &row.Ordinal, &row.RecordID, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &row.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", row.CID, err)
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// Close stops following the source. The table is left as it is.
func (s *Sink) Close() {
	for _, sub := range s.subs {
		s.source.Off(sub)
	}
	s.subs = nil
	s.lggr.Infow("sink detached")
}

func (s *Sink) stmt(format string) string {
	return fmt.Sprintf(format, s.table)
}

func (s *Sink) onStructure(evt collection.Event) error {
	s.lggr.Debugw("rewriting table", "event", evt.Name)
	return s.rewrite(s.ctx)
}

func (s *Sink) onChange(evt collection.Event) error {
	id, attrs, err := encode(evt.Record)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(s.ctx, s.stmt(sTMT_UPDATE), id, attrs, string(evt.Record.CID())); err != nil {
		s.lggr.Errorw("failed to update row", "cid", evt.Record.CID(), "error", err)
		return fmt.Errorf("failed to update row %s: %w", evt.Record.CID(), err)
	}

	return nil
}

func (s *Sink) rewrite(ctx context.Context) error {
	err := s.db.withTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.db.Exec(ctx, s.stmt(sTMT_CLEAR)); err != nil {
			return err
		}
		for i, r := range s.source.Records() {
			id, attrs, err := encode(r)
			if err != nil {
				return err
			}
			if _, err := s.db.Exec(ctx, s.stmt(sTMT_INSERT), string(r.CID()), i, id, attrs); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		s.lggr.Errorw("failed to rewrite table", "error", err)
		return fmt.Errorf("failed to rewrite table %s: %w", s.table, err)
	}

	return nil
}

func encode(r *collection.Record) (id, attrs string, err error) {
	b, err := json.Marshal(r.Attributes())
	if err != nil {
		return "", "", fmt.Errorf("failed to encode attributes of %s: %w", r.CID(), err)
	}
	if v := r.ID(); v != nil {
		id = fmt.Sprint(v)
	}

	return id, string(b), nil
}
