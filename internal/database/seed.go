package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

const seedBatchSize = 500

// SeedOptions controls the generated user rows
type SeedOptions struct {
	Count int   // rows to insert
	Gap   int64 // distance between consecutive ids, 1 for dense keys
	Skew  bool  // pack all but the last row at the low end of the key space
	Reset bool  // delete existing rows first
}

// seedIDs returns the keys Seed inserts.
// With Skew the first Count-1 ids are dense from 1 and the last one sits at Count*10*Gap,
// so the lowest range of a plan holds far more rows than the per-range cap.
func seedIDs(opts SeedOptions) []int64 {
	if opts.Count <= 0 {
		return nil
	}
	gap := opts.Gap
	if gap < 1 {
		gap = 1
	}
	ids := make([]int64, opts.Count)
	for i := range ids {
		ids[i] = 1 + int64(i)*gap
	}
	if opts.Skew && opts.Count > 1 {
		for i := 0; i < opts.Count-1; i++ {
			ids[i] = int64(i + 1)
		}
		ids[opts.Count-1] = int64(opts.Count) * 10 * gap
	}
	return ids
}

// Seed fills table with generated users and returns the number of rows inserted.
// Ids already present are skipped.
func (d *Database) Seed(ctx context.Context, table string, opts SeedOptions) (int64, error) {
	src, err := d.Table(table)
	if err != nil {
		return 0, err
	}
	if opts.Reset {
		if _, err := retryableExec(ctx, d.db, "DELETE FROM "+src.quoted); err != nil {
			return 0, fmt.Errorf("failed to reset %s: %w", table, err)
		}
		log.Printf("[DB]: cleared table %s", table)
	}

	insert := d.dialect.rebind(fmt.Sprintf(
		"INSERT INTO %s (id, name, email) VALUES (?, ?, ?) ON CONFLICT DO NOTHING", src.quoted))

	ids := seedIDs(opts)
	var inserted int64
	for start := 0; start < len(ids); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		var n int64
		err := retryableTransactionExec(ctx, d.db, func(tx *sql.Tx) error {
			n = 0
			stmt, err := tx.PrepareContext(ctx, insert)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, id := range batch {
				res, err := stmt.ExecContext(ctx, id, fmt.Sprintf("User %d", id), fmt.Sprintf("user%d@example.org", id))
				if err != nil {
					return err
				}
				if affected, err := res.RowsAffected(); err == nil {
					n += affected
				}
			}
			return nil
		})
		if err != nil {
			return inserted, fmt.Errorf("failed to seed %s: %w", table, err)
		}
		inserted += n
	}
	log.Printf("[DB]: seeded %d of %d rows into %s", inserted, len(ids), table)
	return inserted, nil
}
