package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/database"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/secondary"
)

// loadConfig builds the configuration: defaults, then the config file, then the environment, then flags
func loadConfig() (*config.MainConfig, error) {
	mainConfig := config.NewDefaultConfig()
	mainConfig.AppVersion = appVersion
	if configFile != "" {
		if err := config.LoadFile(mainConfig, configFile); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(mainConfig, config.EnvPrefix); err != nil {
		return nil, err
	}

	// Override config with command-line flags if provided
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "webport":
			mainConfig.Web.ListenPort = webport
			log.Printf("[WEB]: Overriding listen port with command-line flag: %d", webport)
		case "webssl":
			mainConfig.Web.SSL = webssl
		case "websslcert":
			mainConfig.Web.CertFile = webcertFile
		case "websslkey":
			mainConfig.Web.KeyFile = webkeyFile
		case "debug":
			mainConfig.Web.Debug = webdebug
		case "driver":
			mainConfig.Database.Driver = driver
		case "dsn":
			mainConfig.Database.DSN = dsn
		case "table":
			mainConfig.Database.Table = table
		case "partitions":
			mainConfig.Database.Partitions = partitions
		case "concurrent":
			mainConfig.Database.Concurrent = concurrent
		case "snapshot":
			mainConfig.Database.SnapshotReads = snapshot
		case "uncapped":
			mainConfig.Database.Uncapped = uncapped
		case "pprof":
			mainConfig.PprofAddr = pprofAddr
		}
	})

	if err := mainConfig.Validate(); err != nil {
		return nil, err
	}
	return mainConfig, nil
}

// openPrimary connects the range-partitioned source. It returns a nil source when no DSN is configured.
func openPrimary(mainConfig *config.MainConfig) (*database.Database, fetcher.Source) {
	if mainConfig.Database.DSN == "" {
		log.Printf("[WEB]: No database DSN configured, pages will report the database as unavailable")
		return nil, nil
	}

	db, err := database.Open(database.NewDBConfig(mainConfig.Database))
	if err != nil {
		log.Fatalf("[WEB]: Failed to initialize database: %v", err)
	}
	if mainConfig.Database.Migrate {
		if err := db.Migrate(mainConfig.Database.Table); err != nil {
			log.Fatalf("[WEB]: Failed to apply database migrations: %v", err)
		}
	}
	src, err := db.Table(mainConfig.Database.Table)
	if err != nil {
		log.Fatalf("[WEB]: %v", err)
	}
	log.Printf("[WEB]: Serving table %s with %d range queries per request", src.Name(), mainConfig.Database.Partitions)
	return db, src
}

// openSecondary connects the preview source. A configured but unreachable source is still returned,
// so the page shows its notice instead of silently dropping the section.
func openSecondary(mainConfig *config.MainConfig) (fetcher.RecordFetcher, func()) {
	preview, err := secondary.Open(context.Background(), mainConfig.Secondary)
	if errors.Is(err, secondary.ErrDisabled) {
		return nil, func() {}
	}
	if err != nil {
		log.Printf("[SECONDARY]: Warning: %v", err)
		return (*secondary.Preview)(nil), func() {}
	}
	return preview, preview.Close
}
