package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/models"
)

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TableSource runs the aggregate and range queries against one table.
// It implements fetcher.SnapshotSource.
type TableSource struct {
	db      *sql.DB
	q       queryer
	inTx    bool
	dialect Dialect
	table   string
	quoted  string
}

// Table returns a source over the named table. The name must be a plain identifier.
func (d *Database) Table(name string) (*TableSource, error) {
	if !config.ValidIdentifier(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	return &TableSource{
		db:      d.db,
		q:       d.db,
		dialect: d.dialect,
		table:   name,
		quoted:  quoteIdent(name),
	}, nil
}

// Name returns the table name
func (s *TableSource) Name() string {
	return s.table
}

// Aggregate returns COUNT(*) and MAX(id) of the table
func (s *TableSource) Aggregate(ctx context.Context) (models.Aggregate, error) {
	query := fmt.Sprintf("SELECT COUNT(*), MAX(%s) FROM %s", models.KeyColumn, s.quoted)
	var (
		count int64
		maxID sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx, query).Scan(&count, &maxID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Aggregate{}, fetcher.ErrNotFound
	}
	if err != nil {
		return models.Aggregate{}, err
	}
	if !maxID.Valid {
		// MAX over zero rows is NULL
		return models.Aggregate{Count: count}, nil
	}
	return models.Aggregate{Count: count, MaxID: maxID.Int64}, nil
}

// FetchRange selects every column of the rows inside r, ordered by id
func (s *TableSource) FetchRange(ctx context.Context, r models.KeyRange, limit int64) ([]*models.Record, error) {
	query, args := s.rangeQuery(r, limit)
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []*models.Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec, err := models.RecordFromColumns(columns, values)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TableSource) rangeQuery(r models.KeyRange, limit int64) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if r.HasLow {
		where = append(where, models.KeyColumn+" > ?")
		args = append(args, r.Low)
	}
	if r.HasHigh {
		where = append(where, models.KeyColumn+" <= ?")
		args = append(args, r.High)
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(s.quoted)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(models.KeyColumn)
	if limit != fetcher.NoLimit {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return s.dialect.rebind(b.String()), args
}

// Snapshot runs fn against a read-only transaction so the aggregate and every range
// see the same data. Postgres runs it at REPEATABLE READ; a SQLite read transaction
// keeps its snapshot until it ends.
func (s *TableSource) Snapshot(ctx context.Context, fn func(fetcher.Source) error) error {
	if s.inTx {
		return fn(s)
	}
	opts := &sql.TxOptions{ReadOnly: true}
	if s.dialect == DialectPostgres {
		opts.Isolation = sql.LevelRepeatableRead
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	// read-only: nothing to commit
	defer tx.Rollback()

	txs := *s
	txs.q = tx
	txs.inTx = true
	return fn(&txs)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
