// Package secondary provides the optional Postgres preview table shown next to the primary scan
package secondary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/metrics"
	"github.com/go-while/go-rangeview/internal/models"
)

// ErrDisabled is returned by Open when no secondary URL is configured
var ErrDisabled = errors.New("secondary source disabled")

const defaultLimit = 5

// Preview fetches the first rows of a Postgres table.
// It implements fetcher.RecordFetcher; a nil *Preview reports fetcher.ErrBindingUnavailable.
type Preview struct {
	pool  *pgxpool.Pool
	table string
	query string
}

// Open connects a pool to cfg.URL and verifies it with a ping
func Open(ctx context.Context, cfg config.SecondaryConfig) (*Preview, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}
	query, err := previewQuery(cfg.Table, cfg.Limit)
	if err != nil {
		return nil, err
	}

	pgcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse secondary url: %w", err)
	}
	pgcfg.MaxConns = 4

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pgcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create secondary pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping secondary database: %w", err)
	}

	log.Printf("[SECONDARY]: connected to %s:%d/%s", pgcfg.ConnConfig.Host, pgcfg.ConnConfig.Port, pgcfg.ConnConfig.Database)
	return &Preview{pool: pool, table: cfg.Table, query: query}, nil
}

func previewQuery(table string, limit int) (string, error) {
	if !config.ValidIdentifier(table) {
		return "", fmt.Errorf("invalid secondary table name %q", table)
	}
	if limit < 1 {
		limit = defaultLimit
	}
	return fmt.Sprintf(`SELECT * FROM "%s" ORDER BY %s LIMIT %d`, table, models.KeyColumn, limit), nil
}

// Table returns the previewed table name
func (p *Preview) Table() string {
	if p == nil {
		return ""
	}
	return p.table
}

// FetchRecords returns the preview rows ordered by id
func (p *Preview) FetchRecords(ctx context.Context) (recs []*models.Record, err error) {
	if p == nil || p.pool == nil {
		return nil, fetcher.ErrBindingUnavailable
	}
	started := time.Now()
	defer func() {
		metrics.ObserveFetch("secondary", fetcher.Classify(err).String(), started)
	}()

	rows, err := p.pool.Query(ctx, p.query)
	if err != nil {
		return nil, &fetcher.QueryError{Stage: fetcher.StageRange, Partition: 0, Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &fetcher.QueryError{Stage: fetcher.StageRange, Partition: 0, Err: err}
		}
		rec, err := models.RecordFromColumns(columns, values)
		if err != nil {
			return nil, &fetcher.QueryError{Stage: fetcher.StageRange, Partition: 0, Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &fetcher.QueryError{Stage: fetcher.StageRange, Partition: 0, Err: err}
	}
	return recs, nil
}

// Close releases the pool
func (p *Preview) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}
