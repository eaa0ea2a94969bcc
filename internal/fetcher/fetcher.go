// Package fetcher loads a whole table through k bounded range queries
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/metrics"
	"github.com/go-while/go-rangeview/internal/models"
	"github.com/go-while/go-rangeview/internal/partition"
)

// NoLimit passed to FetchRange drops the LIMIT clause
const NoLimit int64 = -1

// Source is the database capability the fetcher runs on
type Source interface {
	// Aggregate returns COUNT(*) and MAX(id). It returns ErrNotFound when the query yields no row.
	Aggregate(ctx context.Context) (models.Aggregate, error)
	// FetchRange returns the rows inside r ordered by id ascending, at most limit rows unless limit is NoLimit.
	FetchRange(ctx context.Context, r models.KeyRange, limit int64) ([]*models.Record, error)
}

// SnapshotSource can run a whole scan against one consistent read
type SnapshotSource interface {
	Source
	// Snapshot calls fn with a Source bound to a read transaction. fn's error is returned unchanged.
	Snapshot(ctx context.Context, fn func(Source) error) error
}

// RecordFetcher is the record sequence interface shared by every data source shown on the page
type RecordFetcher interface {
	FetchRecords(ctx context.Context) ([]*models.Record, error)
}

// Options controls how the scan is issued
type Options struct {
	Name         string        // label for logs and metrics
	Partitions   int           // k
	Concurrent   bool          // issue the range fetches on Pool
	Pool         *ants.Pool    // shared worker pool, required for Concurrent
	Snapshot     bool          // run inside SnapshotSource.Snapshot if the source supports it
	Uncapped     bool          // no per-range LIMIT
	QueryTimeout time.Duration // 0: only the caller's context applies
}

// OptionsFromConfig maps the database section of the config onto fetch options
func OptionsFromConfig(c config.DatabaseConfig, pool *ants.Pool) Options {
	return Options{
		Name:         c.Table,
		Partitions:   c.Partitions,
		Concurrent:   c.Concurrent,
		Pool:         pool,
		Snapshot:     c.SnapshotReads,
		Uncapped:     c.Uncapped,
		QueryTimeout: c.QueryTimeout,
	}
}

// RangePartitionedFetcher retrieves every row of a table with k bounded range queries
type RangePartitionedFetcher struct {
	src  Source
	opts Options
}

// New returns a fetcher over src. A nil src yields ErrBindingUnavailable on every call.
func New(src Source, opts Options) *RangePartitionedFetcher {
	if opts.Partitions < 1 {
		opts.Partitions = 3
	}
	if opts.Name == "" {
		opts.Name = "primary"
	}
	return &RangePartitionedFetcher{src: src, opts: opts}
}

// Partitions returns k
func (f *RangePartitionedFetcher) Partitions() int {
	return f.opts.Partitions
}

// FetchRecords implements RecordFetcher
func (f *RangePartitionedFetcher) FetchRecords(ctx context.Context) ([]*models.Record, error) {
	res, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Plan runs the aggregate and returns the partition plan without fetching rows
func (f *RangePartitionedFetcher) Plan(ctx context.Context) (*models.PartitionPlan, error) {
	if f.src == nil {
		return nil, ErrBindingUnavailable
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	return f.plan(ctx, f.src)
}

// Fetch runs the aggregate, plans the ranges, fetches them and concatenates the results in key order.
// Any failure discards everything fetched so far.
func (f *RangePartitionedFetcher) Fetch(ctx context.Context) (*models.FetchResult, error) {
	started := time.Now()
	res, err := f.fetch(ctx)
	metrics.ObserveFetch(f.opts.Name, Classify(err).String(), started)
	if err != nil {
		return nil, err
	}
	for _, p := range res.Partitions {
		metrics.ObservePartition(p.Range.Index, p.Rows, p.Truncated)
	}
	return res, nil
}

func (f *RangePartitionedFetcher) fetch(ctx context.Context) (*models.FetchResult, error) {
	if f.src == nil {
		return nil, ErrBindingUnavailable
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	if f.opts.Snapshot {
		if ss, ok := f.src.(SnapshotSource); ok {
			var res *models.FetchResult
			err := ss.Snapshot(ctx, func(tx Source) error {
				var err error
				// one transaction means one connection: ranges go sequentially
				res, err = f.scan(ctx, tx, false)
				return err
			})
			if err != nil {
				return nil, classifySnapshotErr(err)
			}
			return res, nil
		}
		log.Printf("[FETCH]: %s: source does not support snapshot reads, scanning without", f.opts.Name)
	}
	return f.scan(ctx, f.src, f.opts.Concurrent && f.opts.Pool != nil)
}

func (f *RangePartitionedFetcher) plan(ctx context.Context, src Source) (*models.PartitionPlan, error) {
	agg, err := src.Aggregate(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &QueryError{Stage: StageAggregate, Partition: -1, Err: err}
	}
	if agg.Count == 0 {
		return nil, ErrNotFound
	}
	plan, err := partition.NewPlan(agg, f.opts.Partitions)
	if err != nil {
		return nil, &QueryError{Stage: StagePlan, Partition: -1, Err: err}
	}
	return plan, nil
}

func (f *RangePartitionedFetcher) scan(ctx context.Context, src Source, concurrent bool) (*models.FetchResult, error) {
	plan, err := f.plan(ctx, src)
	if err != nil {
		return nil, err
	}

	// one extra row tells a full range apart from a truncated one
	limit := plan.PartSize + 1
	if f.opts.Uncapped {
		limit = NoLimit
	}

	k := plan.Partitions()
	parts := make([][]*models.Record, k)
	if concurrent {
		err = f.fetchConcurrent(ctx, src, plan, limit, parts)
	} else {
		err = f.fetchSequential(ctx, src, plan, limit, parts)
	}
	if err != nil {
		return nil, err
	}

	res := &models.FetchResult{
		Plan:       plan,
		Partitions: make([]models.PartitionResult, k),
	}
	for i, rows := range parts {
		truncated := false
		if !f.opts.Uncapped && int64(len(rows)) > plan.PartSize {
			rows = rows[:plan.PartSize]
			parts[i] = rows
			truncated = true
			log.Printf("[FETCH]: %s: partition %d (%s) holds more than %d rows, extra rows dropped",
				f.opts.Name, i, plan.Ranges[i], plan.PartSize)
		}
		res.Partitions[i] = models.PartitionResult{Range: plan.Ranges[i], Rows: len(rows), Truncated: truncated}
	}
	res.Records = partition.Concat(parts)
	return res, nil
}

// fetchRange runs one range query. A panicking source fails the range like a returned error.
func fetchRange(ctx context.Context, src Source, i int, r models.KeyRange, limit int64) (rows []*models.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[FETCH]: range %d (%s) panicked: %v", i, r, p)
			rows, err = nil, fmt.Errorf("range fetch panic: %v", p)
		}
	}()
	return src.FetchRange(ctx, r, limit)
}

func (f *RangePartitionedFetcher) fetchSequential(ctx context.Context, src Source, plan *models.PartitionPlan, limit int64, parts [][]*models.Record) error {
	for i, r := range plan.Ranges {
		rows, err := fetchRange(ctx, src, i, r, limit)
		if err != nil {
			return &QueryError{Stage: StageRange, Partition: i, Err: err}
		}
		parts[i] = rows
	}
	return nil
}

// fetchConcurrent submits the ranges to the shared pool. When the pool is saturated
// (ants.ErrPoolOverload from a nonblocking pool) the range runs on the calling goroutine.
func (f *RangePartitionedFetcher) fetchConcurrent(ctx context.Context, src Source, plan *models.PartitionPlan, limit int64, parts [][]*models.Record) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(i int, err error) {
		once.Do(func() {
			firstErr = &QueryError{Stage: StageRange, Partition: i, Err: err}
			cancel() // stop the sibling queries
		})
	}

	for i, r := range plan.Ranges {
		task := func() {
			rows, err := fetchRange(ctx, src, i, r, limit)
			if err != nil {
				fail(i, err)
				return
			}
			parts[i] = rows
		}
		wg.Add(1)
		err := f.opts.Pool.Submit(func() {
			defer wg.Done()
			task()
		})
		if errors.Is(err, ants.ErrPoolOverload) {
			task()
			wg.Done()
			continue
		}
		if err != nil {
			wg.Done()
			fail(i, fmt.Errorf("submit to worker pool: %w", err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func (f *RangePartitionedFetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, f.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func classifySnapshotErr(err error) error {
	var qe *QueryError
	if errors.Is(err, ErrNotFound) || errors.As(err, &qe) {
		return err
	}
	return &QueryError{Stage: StageSnapshot, Partition: -1, Err: err}
}
