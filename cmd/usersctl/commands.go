package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-while/go-rangeview/internal/database"
	"github.com/go-while/go-rangeview/internal/fetcher"
)

func migrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the configured table (or with --down drop it) from the embedded migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := openDatabase(cmd, false)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			table := cfg.Database.Table
			if down {
				if err := db.MigrateDown(table); err != nil {
					return err
				}
			} else if err := db.Migrate(table); err != nil {
				return err
			}
			version, dirty, err := db.SchemaVersion(table)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}

func seedCmd() *cobra.Command {
	opts := database.SeedOptions{Count: 9, Gap: 1}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert generated users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Count < 0 || opts.Gap < 1 {
				return fmt.Errorf("--count must be >= 0 and --gap >= 1")
			}
			db, cfg, err := openDatabase(cmd, true)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			n, err := db.Seed(cmd.Context(), cfg.Database.Table, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d rows into %s\n", n, cfg.Database.Table)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Count, "count", opts.Count, "number of users")
	f.Int64Var(&opts.Gap, "gap", opts.Gap, "distance between consecutive ids")
	f.BoolVar(&opts.Skew, "skew", false, "put the last id far beyond the others")
	f.BoolVar(&opts.Reset, "reset", false, "delete existing rows first")
	return cmd
}

// newFetcher builds the same sequential fetcher the web server uses without a worker pool
func newFetcher(cmd *cobra.Command) (*fetcher.RangePartitionedFetcher, *database.Database, error) {
	db, cfg, err := openDatabase(cmd, false)
	if err != nil {
		return nil, nil, err
	}
	src, err := db.Table(cfg.Database.Table)
	if err != nil {
		closeDatabase(db)
		return nil, nil, err
	}
	opts := fetcher.OptionsFromConfig(cfg.Database, nil)
	opts.Concurrent = false
	return fetcher.New(src, opts), db, nil
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Run the aggregate query and print the partition plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, db, err := newFetcher(cmd)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			plan, err := f.Plan(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Fetch the table with the partitioned scan and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, db, err := newFetcher(cmd)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			res, err := f.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			tty := term.IsTerminal(int(os.Stdout.Fd()))
			if err := printRecords(cmd.OutOrStdout(), res.Records, tty); err != nil {
				return err
			}
			if res.Truncated() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: some ranges held more than %d rows and were cut\n", res.Plan.PartSize)
			}
			return nil
		},
	}
}
