package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "RANGEVIEW"

// envKeys lists every config key that may be set from the environment.
// RANGEVIEW_WEB_LISTEN_PORT -> web.listen_port
var envKeys = []string{
	"web.listen_port",
	"web.ssl",
	"web.cert_file",
	"web.key_file",
	"web.rate_limit_per_minute",
	"web.rate_limit_burst",
	"web.trusted_proxies",
	"web.debug",
	"database.driver",
	"database.dsn",
	"database.table",
	"database.partitions",
	"database.concurrent",
	"database.workers",
	"database.snapshot_reads",
	"database.uncapped",
	"database.query_timeout",
	"database.max_open_conns",
	"database.migrate",
	"secondary.url",
	"secondary.table",
	"secondary.limit",
	"sentry_dsn",
	"pprof_addr",
}

// legacyEnv maps the bare DB / DB_URL binding names onto config keys
var legacyEnv = map[string]string{
	"database.dsn":  "DB",
	"secondary.url": "DB_URL",
}

// EnvName returns the environment variable consulted for a config key
func EnvName(prefix, key string) string {
	return strings.ToUpper(prefix + "_" + strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv overlays environment variables onto cfg. Unset variables leave the current value alone.
func ApplyEnv(cfg *MainConfig, prefix string) error {
	v := viper.New()
	for _, key := range envKeys {
		names := []string{EnvName(prefix, key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	cfg.mux.Lock()
	defer cfg.mux.Unlock()
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	for _, key := range envKeys {
		if v.IsSet(key) {
			log.Printf("[CONFIG]: %s set from environment", key)
		}
	}
	return nil
}
