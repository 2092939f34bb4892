// Package config loads process settings from the environment and an
// optional YAML file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const (
	BackendTables = "tables"
	BackendMySQL  = "mysql"
	BackendSQLite = "sqlite"
)

// Config is the resolved process configuration.
type Config struct {
	Debug      bool
	ListenAddr string

	StoreBackend            string
	StorageConnectionString string
	TasksTable              string
	MilestonesTable         string
	AdminsTable             string
	CountersTable           string
	EventsQueue             string
	MySQLDSN                string
	SQLitePath              string
	MilestonesSeed          string

	RedisConnectionString string
	DeduperTTL            time.Duration
	CatalogCacheTTL       time.Duration
	EventsChannel         string

	NotifyWorkers        int
	NotifyBuffer         int
	NotifyHandoffTimeout time.Duration

	CooldownThreshold int
	CooldownWindow    time.Duration

	AuthTestMode  bool
	TestJWTSecret string
	AuthAudience  string
	AuthDomain    string
	PprofEnabled  bool
}

var defaults = map[string]any{
	"listen_port":            "8080",
	"store_backend":          BackendTables,
	"tasks_table":            "tasks",
	"milestones_table":       "milestones",
	"admins_table":           "admins",
	"counters_table":         "counters",
	"events_queue":           "task-events",
	"sqlite_path":            "tasks.db",
	"deduper_ttl":            "24h",
	"catalog_cache_ttl":      "1h",
	"events_channel":         "task-events",
	"notify_workers":         "4",
	"notify_buffer":          "256",
	"notify_handoff_timeout": "15ms",
	"cooldown_threshold":     "10",
	"cooldown_window":        "5m",
}

// Load reads the environment, plus the YAML file named by CONFIG_FILE when
// set. Environment values win over the file.
func Load() (*Config, error) {
	return readAndLoad(true)
}

// LoadStorage is Load without the auth settings, for tools that only touch
// the store.
func LoadStorage() (*Config, error) {
	return readAndLoad(false)
}

func readAndLoad(requireAuth bool) (*Config, error) {
	v := viper.New()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return load(v, requireAuth)
}

func load(v *viper.Viper, requireAuth bool) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	c := &Config{
		Debug:                   v.GetBool("debug"),
		ListenAddr:              ":" + v.GetString("listen_port"),
		StoreBackend:            strings.ToLower(strings.TrimSpace(v.GetString("store_backend"))),
		StorageConnectionString: v.GetString("storage_connection_string"),
		TasksTable:              v.GetString("tasks_table"),
		MilestonesTable:         v.GetString("milestones_table"),
		AdminsTable:             v.GetString("admins_table"),
		CountersTable:           v.GetString("counters_table"),
		EventsQueue:             v.GetString("events_queue"),
		MySQLDSN:                v.GetString("mysql_dsn"),
		SQLitePath:              v.GetString("sqlite_path"),
		MilestonesSeed:          v.GetString("milestones_seed"),
		RedisConnectionString:   v.GetString("redis_connection_string"),
		EventsChannel:           v.GetString("events_channel"),
		AuthTestMode:            v.GetBool("auth0_test_mode"),
		TestJWTSecret:           v.GetString("test_jwt_secret"),
		AuthAudience:            v.GetString("auth0_audience"),
		AuthDomain:              v.GetString("auth0_domain"),
		PprofEnabled:            v.GetBool("pprof_enabled"),
	}
	if port := v.GetString("functions_customhandler_port"); port != "" {
		c.ListenAddr = ":" + port
	}

	var errs []error
	c.DeduperTTL = duration(v, "deduper_ttl", time.Nanosecond, &errs)
	c.CatalogCacheTTL = duration(v, "catalog_cache_ttl", time.Nanosecond, &errs)
	c.CooldownWindow = duration(v, "cooldown_window", time.Nanosecond, &errs)
	c.NotifyHandoffTimeout = duration(v, "notify_handoff_timeout", 0, &errs)
	c.NotifyWorkers = positiveInt(v, "notify_workers", &errs)
	c.NotifyBuffer = nonNegativeInt(v, "notify_buffer", &errs)
	c.CooldownThreshold = nonNegativeInt(v, "cooldown_threshold", &errs)

	switch c.StoreBackend {
	case BackendTables:
		if c.StorageConnectionString == "" {
			errs = append(errs, errors.New("missing STORAGE_CONNECTION_STRING"))
		}
		if c.TasksTable == "" || c.MilestonesTable == "" || c.AdminsTable == "" || c.CountersTable == "" {
			errs = append(errs, errors.New("missing table names"))
		}
	case BackendMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("missing MYSQL_DSN"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("missing SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend))
	}
	if requireAuth {
		if c.AuthTestMode && c.TestJWTSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE is on"))
		}
		if !c.AuthTestMode && (c.AuthAudience == "" || c.AuthDomain == "") {
			errs = append(errs, errors.New("missing Auth0 config"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func envName(key string) string { return strings.ToUpper(key) }

func duration(v *viper.Viper, key string, min time.Duration, errs *[]error) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil || d < min {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", envName(key), v.GetString(key)))
		return 0
	}
	return d
}

func integer(v *viper.Viper, key string, min int, errs *[]error) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n < min {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", envName(key), v.GetString(key)))
		return 0
	}
	return n
}

func positiveInt(v *viper.Viper, key string, errs *[]error) int { return integer(v, key, 1, errs) }

func nonNegativeInt(v *viper.Viper, key string, errs *[]error) int { return integer(v, key, 0, errs) }

// RedisOptions parses either a redis:// URL or the "host:port,password=...,ssl=True"
// form used by Azure Cache for Redis. It returns nil when no connection is
// configured.
func (c *Config) RedisOptions() *redis.Options {
	return ParseRedis(c.RedisConnectionString)
}

// ParseRedis parses a Redis connection string, nil when conn is empty.
func ParseRedis(conn string) *redis.Options {
	if conn == "" {
		return nil
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
