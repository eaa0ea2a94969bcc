// Web server for go-rangeview
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/raven-go"
	prof "github.com/go-while/go-cpu-mem-profiler"
	"github.com/panjf2000/ants/v2"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/web"
)

var Prof *prof.Profiler

var (
	// command-line flags
	configFile  string
	webport     int
	webssl      bool
	webcertFile string
	webkeyFile  string
	webdebug    bool
	driver      string
	dsn         string
	table       string
	partitions  int
	concurrent  bool
	snapshot    bool
	uncapped    bool
	pprofAddr   string
)

var appVersion = "-unset-"

func main() {
	config.AppVersion = appVersion

	flag.StringVar(&configFile, "config", "", "YAML config file (optional)")
	flag.IntVar(&webport, "webport", 0, "Web server port (default: 11980)")
	flag.BoolVar(&webssl, "webssl", false, "Enable SSL")
	flag.StringVar(&webcertFile, "websslcert", "", "SSL certificate file (/path/to/fullchain.pem)")
	flag.StringVar(&webkeyFile, "websslkey", "", "SSL key file (/path/to/privkey.pem)")
	flag.BoolVar(&webdebug, "debug", false, "gin debug mode and request logging")
	flag.StringVar(&driver, "driver", "", "database driver: sqlite3 or postgres")
	flag.StringVar(&dsn, "dsn", "", "database DSN (sqlite3: file path, postgres: connection url)")
	flag.StringVar(&table, "table", "", "table to display (default: users)")
	flag.IntVar(&partitions, "partitions", 0, "number of range queries per page (default: 3)")
	flag.BoolVar(&concurrent, "concurrent", false, "run the range queries in parallel")
	flag.BoolVar(&snapshot, "snapshot", false, "run aggregate and range queries in one read transaction")
	flag.BoolVar(&uncapped, "uncapped", false, "do not cap range queries at ceil(count/k) rows")
	flag.StringVar(&pprofAddr, "pprof", "", "start pprof web on this address, e.g. :51111")
	flag.Parse()

	log.Printf("Starting go-rangeview: Web Server (version: %s)", appVersion)

	mainConfig, err := loadConfig()
	if err != nil {
		log.Fatalf("[WEB]: %v", err)
	}
	log.Printf("[WEB]: Using WEB configuration: %#v", mainConfig.Web)

	if mainConfig.SentryDSN != "" {
		if err := raven.SetDSN(mainConfig.SentryDSN); err != nil {
			log.Fatalf("[WEB]: Invalid sentry_dsn: %v", err)
		}
		raven.SetRelease(appVersion)
		log.Printf("[WEB]: Reporting query failures to Sentry")
	}

	if mainConfig.PprofAddr != "" {
		Prof = prof.NewProf()
		go Prof.PprofWeb(mainConfig.PprofAddr)
		Prof.StartMemProfile(5*time.Minute, 30*time.Second)
	}

	db, src := openPrimary(mainConfig)
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("[WEB]: Error closing database: %v", err)
			} else {
				log.Printf("[WEB]: Database closed")
			}
		}()
	}

	var pool *ants.Pool
	if mainConfig.Database.Concurrent {
		// a saturated pool returns ErrPoolOverload and the fetcher runs that range inline
		pool, err = ants.NewPool(mainConfig.Database.Workers,
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(v any) {
				log.Printf("[WEB]: range worker panic: %v", v)
			}))
		if err != nil {
			log.Fatalf("[WEB]: Failed to create worker pool: %v", err)
		}
		defer pool.Release()
		log.Printf("[WEB]: Range queries run concurrently on %d workers", mainConfig.Database.Workers)
	}

	// a nil src answers every request with "Database not available"
	users := fetcher.New(src, fetcher.OptionsFromConfig(mainConfig.Database, pool))

	sec, closeSecondary := openSecondary(mainConfig)
	defer closeSecondary()

	server, err := web.NewServer(&mainConfig.Web, users, sec, mainConfig.Database.Table)
	if err != nil {
		log.Fatalf("[WEB]: Failed to create web server: %v", err)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start web server in goroutine to make it non-blocking
	webServerErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			webServerErrChan <- err
		}
	}()

	log.Printf("[WEB]: Server started successfully. Press Ctrl+C to gracefully shutdown...")

	select {
	case <-sigChan:
		log.Printf("[WEB]: Received shutdown signal, initiating graceful shutdown...")
	case err := <-webServerErrChan:
		log.Fatalf("[WEB]: Failed to start web server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[WEB]: Error during shutdown: %v", err)
	}
	log.Printf("[WEB]: Graceful shutdown completed")
} // end main
