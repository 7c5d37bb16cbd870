// Package config loads the runtime configuration of mdingest.
//
// Values come, in increasing precedence, from built-in defaults, an optional
// config file (YAML, JSON or TOML), environment variables and command-line
// flags bound by the caller. Database settings use the deployed DB_* variable
// names; everything else is reachable as MDINGEST_<SECTION>_<KEY>, e.g.
// MDINGEST_INGEST_CONCURRENCY.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Database   Database   `mapstructure:"database"`
	Ingest     Ingest     `mapstructure:"ingest"`
	Partitions Partitions `mapstructure:"partitions"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Log        Log        `mapstructure:"log"`
}

// Database selects and connects the storage backend.
type Database struct {
	// Kind is "postgres", "sqlite" or "memory".
	Kind     string `mapstructure:"kind"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	Schema   string `mapstructure:"schema"`
	// DSN overrides the discrete connection fields. For sqlite it is the
	// database path.
	DSN            string        `mapstructure:"dsn"`
	MinConnections int           `mapstructure:"min_connections"`
	MaxConnections int           `mapstructure:"max_connections"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Ingest tunes ingestion runs.
type Ingest struct {
	// Root is the default directory to ingest.
	Root          string   `mapstructure:"root"`
	Patterns      []string `mapstructure:"patterns"`
	Concurrency   int      `mapstructure:"concurrency"`
	ProgressEvery int      `mapstructure:"progress_every"`
	MaxFailures   int      `mapstructure:"max_failures"`
	// ChunkSize is the row count per insert statement.
	ChunkSize int `mapstructure:"chunk_size"`
	// WriteParallelism bounds concurrent monthly sub-batch writes per file.
	WriteParallelism int   `mapstructure:"write_parallelism"`
	Dedupe           bool  `mapstructure:"dedupe"`
	MaxRejections    int   `mapstructure:"max_rejections"`
	ColumnarBatch    int64 `mapstructure:"columnar_batch"`
}

// Partitions configures ahead-of-time provisioning.
type Partitions struct {
	MonthsAhead int `mapstructure:"months_ahead"`
	// Schedule is a cron spec for "partitions maintain". Empty runs once.
	Schedule string `mapstructure:"schedule"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string   `mapstructure:"backend"`
	Job            string   `mapstructure:"job"`
	PushgatewayURL string   `mapstructure:"pushgateway_url"`
	DatadogAddr    string   `mapstructure:"datadog_addr"`
	Namespace      string   `mapstructure:"namespace"`
	Tags           []string `mapstructure:"tags"`
}

// Log configures the zap logger.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// EnvPrefix prefixes every automatically bound environment variable.
const EnvPrefix = "MDINGEST"

// deployedEnv maps config keys to the variable names used by existing
// deployments.
var deployedEnv = map[string]string{
	"database.host":            "DB_HOST",
	"database.port":            "DB_PORT",
	"database.name":            "DB_NAME",
	"database.user":            "DB_USER",
	"database.password":        "DB_PASSWORD",
	"database.schema":          "DB_SCHEMA",
	"database.dsn":             "DB_DSN",
	"database.min_connections": "DB_MIN_CONNECTIONS",
	"database.max_connections": "DB_MAX_CONNECTIONS",
	"ingest.root":              "STORE_DIRECTORY",
	"metrics.backend":          "METRICS_BACKEND",
	"metrics.pushgateway_url":  "PUSHGATEWAY_URL",
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.kind", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "binance_data")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "binance_data")
	v.SetDefault("database.min_connections", 1)
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("ingest.root", "./data")
	v.SetDefault("ingest.patterns", []string{"*.csv", "*.zip", "*.parquet", "*.gz", "*.feather"})
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.progress_every", 10)
	v.SetDefault("ingest.max_failures", 0)
	v.SetDefault("ingest.chunk_size", 5000)
	v.SetDefault("ingest.write_parallelism", 2)
	v.SetDefault("ingest.dedupe", true)
	v.SetDefault("ingest.max_rejections", 20)
	v.SetDefault("ingest.columnar_batch", 64*1024)

	v.SetDefault("partitions.months_ahead", 12)
	v.SetDefault("partitions.schedule", "")

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job", "mdingest")
	v.SetDefault("metrics.datadog_addr", "127.0.0.1:8125")
	v.SetDefault("metrics.namespace", "mdingest.")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration into a Config. path may be empty, in which case
// only defaults, environment and bound flags apply. A path that does not
// exist is an error.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range deployedEnv {
		if err := v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	c.Ingest.Patterns = splitList(c.Ingest.Patterns)
	c.Metrics.Tags = splitList(c.Metrics.Tags)
	return c, nil
}

// splitList expands comma-separated entries, which is how list values arrive
// from environment variables.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ConnString returns the connection string for the configured backend.
func (d Database) ConnString() string {
	if d.DSN != "" || d.Kind != "postgres" {
		return d.DSN
	}
	if d.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// Redacted returns ConnString with any password masked, for logging.
func (d Database) Redacted() string {
	s := d.ConnString()
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
