// Package config loads application configuration from environment variables,
// an optional .env file, and the feeds/keywords files named on the command line.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full application configuration.
type Config struct {
	Lemmy  LemmyConfig
	Bot    BotConfig
	DB     DBConfig
	Server ServerConfig
	S3     S3Config
}

// LemmyConfig holds the publishing account and instance.
type LemmyConfig struct {
	InstanceURL string
	Username    string
	Password    string
}

// Validate reports a ConfigError when any credential is missing.
func (c LemmyConfig) Validate() error {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "LEMMY_USERNAME")
	}
	if c.Password == "" {
		missing = append(missing, "LEMMY_PASSWORD")
	}
	if c.InstanceURL == "" {
		missing = append(missing, "LEMMY_INSTANCE_URL")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Op:  "credentials",
			Err: fmt.Errorf("please set %s in the environment or .env file", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// BotConfig holds the polling knobs. Most of them are overridden by CLI flags.
type BotConfig struct {
	FeedsPath    string
	LedgerPath   string
	KeywordsFile string
	Keywords     string
	// Interval is the fixed pacing and cycle interval. Zero means a fresh
	// random interval in [11m, 23m] on every check.
	Interval       time.Duration
	MaxPosts       int
	Simultaneously int
	Verbose        bool
	LogFormat      string
}

// DBConfig holds PostgreSQL connection parameters. An empty Host selects the
// file-backed ledger.
type DBConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	DBName  string
	SSLMode string
}

// Enabled reports whether a PostgreSQL ledger is configured.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// DSN returns a PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Pass +
		"@" + c.Host + ":" + strconv.Itoa(c.Port) +
		"/" + c.DBName + "?sslmode=" + c.SSLMode
}

// ServerConfig holds the optional status API listen address.
type ServerConfig struct {
	Addr string
}

// S3Config holds S3-compatible object storage parameters for ledger archives.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Load reads a .env file when present, then builds the configuration from
// environment variables with sensible defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, &ConfigError{Op: "load .env", Err: err}
	}

	return Config{
		Lemmy: LemmyConfig{
			InstanceURL: strings.TrimRight(os.Getenv("LEMMY_INSTANCE_URL"), "/"),
			Username:    os.Getenv("LEMMY_USERNAME"),
			Password:    os.Getenv("LEMMY_PASSWORD"),
		},
		Bot: BotConfig{
			FeedsPath:      envOr("FEEDS_FILE", "rss_feeds.json"),
			LedgerPath:     envOr("LEDGER_FILE", "lemmy_bot.log"),
			KeywordsFile:   envOr("KEYWORDS_FILE", ""),
			Keywords:       envOr("KEYWORDS", ""),
			Interval:       time.Duration(envOrInt("INTERVAL_MINUTES", 0)) * time.Minute,
			MaxPosts:       envOrInt("MAX_POSTS", 2),
			Simultaneously: envOrInt("SIMULTANEOUSLY", 1),
			LogFormat:      envOr("LOG_FORMAT", "text"),
		},
		DB: DBConfig{
			Host:    envOr("DB_HOST", ""),
			Port:    envOrInt("DB_PORT", 5432),
			User:    envOr("DB_USER", "feedrelay"),
			Pass:    envOr("DB_PASS", "feedrelay"),
			DBName:  envOr("DB_NAME", "feedrelay"),
			SSLMode: envOr("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Addr: envOr("STATUS_ADDR", ""),
		},
		S3: S3Config{
			Endpoint:  envOr("S3_ENDPOINT", ""),
			Bucket:    envOr("S3_BUCKET", "feedrelay-ledger"),
			AccessKey: envOr("S3_ACCESS_KEY", ""),
			SecretKey: envOr("S3_SECRET_KEY", ""),
			Region:    envOr("S3_REGION", "us-east-1"),
		},
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
