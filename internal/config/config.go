package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

const (
	defaultHistoricSource = "https://climate.onebuilding.org/WMO_Region_4_North_and_Central_America/CAN_Canada/"
	defaultFutureSource   = "https://climate.onebuilding.org/WMO_Region_4_North_and_Central_America/CAN_Canada_Future/"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir        string
	HistoricSource string
	FutureSource   string
	UserAgent      string
	HTTPTimeout    time.Duration

	ListAttempts   int
	ListMaxDepth   int
	ListCacheSize  int
	FetchAttempts  int
	FetchWorkers   int
	LockStaleAfter time.Duration

	SyncInterval    time.Duration
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Change notifications, enabled when KAFKA_BROKERS is set.
	KafkaBrokers []string
	KafkaTopic   string

	// Run history, enabled when HISTORY_DB is set.
	HistoryDB string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	httpTimeout, err := parseDuration("HTTP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	lockStale, err := parseDuration("LOCK_STALE_AFTER", "1h")
	if err != nil {
		return nil, err
	}
	syncInterval, err := parseDuration("SYNC_INTERVAL", "24h")
	if err != nil {
		return nil, err
	}

	listAttempts, err := parseIntRange("LIST_ATTEMPTS", 3, 1, 10)
	if err != nil {
		return nil, err
	}
	listDepth, err := parseIntRange("LIST_MAX_DEPTH", 1, 0, 5)
	if err != nil {
		return nil, err
	}
	listCache, err := parseIntRange("LIST_CACHE_SIZE", 64, 0, 10000)
	if err != nil {
		return nil, err
	}
	fetchAttempts, err := parseIntRange("FETCH_ATTEMPTS", 2, 1, 10)
	if err != nil {
		return nil, err
	}
	fetchWorkers, err := parseIntRange("FETCH_CONCURRENCY", 4, 1, 64)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:        sharedcfg.EnvOrDefault("DATA_DIR", "."),
		HistoricSource: sharedcfg.EnvOrDefault("HISTORIC_SOURCE_URL", defaultHistoricSource),
		FutureSource:   sharedcfg.EnvOrDefault("FUTURE_SOURCE_URL", defaultFutureSource),
		UserAgent:      sharedcfg.EnvOrDefault("USER_AGENT", "weather-file-sync/1.0"),
		HTTPTimeout:    httpTimeout,

		ListAttempts:   listAttempts,
		ListMaxDepth:   listDepth,
		ListCacheSize:  listCache,
		FetchAttempts:  fetchAttempts,
		FetchWorkers:   fetchWorkers,
		LockStaleAfter: lockStale,

		SyncInterval:    syncInterval,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers: parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "weather-catalog-changes"),
		HistoryDB:    os.Getenv("HISTORY_DB"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. It is re-run by the CLIs after
// flags override loaded values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}
	if err := validSource("HISTORIC_SOURCE_URL", c.HistoricSource); err != nil {
		return err
	}
	if err := validSource("FUTURE_SOURCE_URL", c.FutureSource); err != nil {
		return err
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// KafkaEnabled reports whether change notifications should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Sources maps each category to its remote listing URL.
func (c *Config) Sources() map[domain.Category]string {
	return map[domain.Category]string{
		domain.CategoryHistoric: c.HistoricSource,
		domain.CategoryFuture:   c.FutureSource,
	}
}

func validSource(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: must be an absolute http(s) URL", name)
	}
	return nil
}

func parseDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", name)
	}
	return d, nil
}

func parseIntRange(name string, def, lo, hi int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
