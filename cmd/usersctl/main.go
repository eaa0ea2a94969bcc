// Database tool for go-rangeview: schema migrations, test data and plan inspection
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/database"
)

var appVersion = "-unset-"

var (
	configFile string
	driver     string
	dsn        string
	table      string
	partitions int
)

var rootCmd = &cobra.Command{
	Use:           "usersctl",
	Short:         "go-rangeview database tool",
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML config file (optional)")
	pf.StringVar(&driver, "driver", "", "database driver: sqlite3 or postgres")
	pf.StringVar(&dsn, "dsn", "", "database DSN (sqlite3: file path, postgres: connection url)")
	pf.StringVar(&table, "table", "", "table name (default: users)")
	pf.IntVar(&partitions, "partitions", 0, "number of range queries (default: 3)")

	rootCmd.AddCommand(migrateCmd(), seedCmd(), planCmd(), listCmd())
}

func main() {
	config.AppVersion = appVersion
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies the config file, the environment and then the persistent flags that were set
func loadConfig(cmd *cobra.Command) (*config.MainConfig, error) {
	cfg := config.NewDefaultConfig()
	if configFile != "" {
		if err := config.LoadFile(cfg, configFile); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg, config.EnvPrefix); err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver = driver
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN = dsn
	}
	if flags.Changed("table") {
		cfg.Database.Table = table
	}
	if flags.Changed("partitions") {
		cfg.Database.Partitions = partitions
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("no database DSN configured (use --dsn or %s)", config.EnvName(config.EnvPrefix, "database.dsn"))
	}
	return cfg, nil
}

// openDatabase opens the configured database and applies pending migrations unless migrate is false
func openDatabase(cmd *cobra.Command, migrate bool) (*database.Database, *config.MainConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(database.NewDBConfig(cfg.Database))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if migrate {
		if err := db.Migrate(cfg.Database.Table); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
	}
	return db, cfg, nil
}

func closeDatabase(db *database.Database) {
	if err := db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}
