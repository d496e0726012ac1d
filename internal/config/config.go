// Package config loads filemaker-mcp configuration from environment variables
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// TransportStdio runs MCP over stdin/stdout.
	TransportStdio = "stdio"
	// TransportHTTP runs MCP over HTTP with SSE tool streaming.
	TransportHTTP = "http"

	// ModeReadOnly exposes only read capability tools.
	ModeReadOnly = "read-only"
	// ModeReadWrite also exposes tools that write to FileMaker.
	ModeReadWrite = "read-write"

	defaultListenAddr      = ":27774"
	defaultEnvFile         = ".env"
	defaultCredentialsPath = "~/.filemaker-mcp/credentials.yaml"
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxRetries      = 3
	defaultRequestRate     = 10.0
	defaultBatchSize       = 50
	defaultPageSize        = 100
	defaultMaxPages        = 10
	defaultChunkDelay      = 100 * time.Millisecond
	defaultPageDelay       = 50 * time.Millisecond
	defaultCacheTTL        = time.Hour
	defaultRateWindow      = time.Minute
)

// rateLimitKeys maps advisory limiter operations to their override variables.
var rateLimitKeys = map[string]string{
	"find_records":  "FILEMAKER_MCP_RATE_LIMIT_FIND",
	"create_record": "FILEMAKER_MCP_RATE_LIMIT_CREATE",
	"update_record": "FILEMAKER_MCP_RATE_LIMIT_UPDATE",
	"delete_record": "FILEMAKER_MCP_RATE_LIMIT_DELETE",
}

// FileMaker holds the Data API connection settings. Username and password
// are resolved separately by the auth package.
type FileMaker struct {
	Host           string
	Database       string
	RequestTimeout time.Duration
	MaxRetries     int
	RequestRate    float64
	// Location is the server's time zone for zone-less timestamps.
	Location       *time.Location
}

// Config holds service runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	Transport  string

	Mode        string
	EnableWrite bool

	SessionToken         string
	AllowCredentialsFile bool
	CredentialsPath      string

	FileMaker FileMaker

	BatchSize  int
	PageSize   int
	MaxPages   int
	ChunkDelay time.Duration
	PageDelay  time.Duration

	CacheTTL   time.Duration
	RateWindow time.Duration
	RateLimits map[string]int

	MetricsEnabled bool
}

// Load reads FILEMAKER_MCP_ENV_FILE (default .env) when present, then parses
// the environment. Variables already set in the environment win over the file.
func Load() (Config, error) {
	envFile := envOrDefault("FILEMAKER_MCP_ENV_FILE", defaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv parses configuration from the process environment only.
func FromEnv() (Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := Config{
		ListenAddr:           envOrDefault("FILEMAKER_MCP_LISTEN_ADDR", defaultListenAddr),
		LogLevel:             strings.ToLower(envOrDefault("FILEMAKER_MCP_LOG_LEVEL", "info")),
		Transport:            strings.ToLower(envOrDefault("FILEMAKER_MCP_TRANSPORT", TransportStdio)),
		Mode:                 strings.ToLower(envOrDefault("FILEMAKER_MCP_MODE", ModeReadOnly)),
		EnableWrite:          p.boolean("FILEMAKER_MCP_ENABLE_WRITE", false),
		SessionToken:         strings.TrimSpace(os.Getenv("FILEMAKER_MCP_SESSION_TOKEN")),
		AllowCredentialsFile: p.boolean("FILEMAKER_MCP_ALLOW_CREDENTIALS_FILE", false),
		CredentialsPath:      envOrDefault("FILEMAKER_MCP_CREDENTIALS_PATH", defaultCredentialsPath),
		FileMaker: FileMaker{
			Host:           strings.TrimRight(strings.TrimSpace(os.Getenv("FILEMAKER_HOST")), "/"),
			Database:       strings.TrimSpace(os.Getenv("FILEMAKER_DATABASE")),
			RequestTimeout: p.duration("FILEMAKER_MCP_REQUEST_TIMEOUT", defaultRequestTimeout),
			MaxRetries:     p.integer("FILEMAKER_MCP_MAX_RETRIES", defaultMaxRetries, 0),
			RequestRate:    p.float("FILEMAKER_MCP_REQUEST_RATE", defaultRequestRate),
			Location:       p.location("FILEMAKER_SERVER_TIMEZONE"),
		},
		BatchSize:      p.integer("FILEMAKER_MCP_BATCH_SIZE", defaultBatchSize, 1),
		PageSize:       p.integer("FILEMAKER_MCP_PAGE_SIZE", defaultPageSize, 1),
		MaxPages:       p.integer("FILEMAKER_MCP_MAX_PAGES", defaultMaxPages, 1),
		ChunkDelay:     p.duration("FILEMAKER_MCP_CHUNK_DELAY", defaultChunkDelay),
		PageDelay:      p.duration("FILEMAKER_MCP_PAGE_DELAY", defaultPageDelay),
		CacheTTL:       p.duration("FILEMAKER_MCP_CACHE_TTL", defaultCacheTTL),
		RateWindow:     p.duration("FILEMAKER_MCP_RATE_WINDOW", defaultRateWindow),
		RateLimits:     map[string]int{},
		MetricsEnabled: p.boolean("FILEMAKER_MCP_METRICS_ENABLED", true),
	}
	for op, key := range rateLimitKeys {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			cfg.RateLimits[op] = p.integer(key, 0, 1)
		}
	}

	switch cfg.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("invalid FILEMAKER_MCP_TRANSPORT %q (allowed: %s|%s)", cfg.Transport, TransportStdio, TransportHTTP))
	}
	switch cfg.Mode {
	case ModeReadOnly, ModeReadWrite:
	default:
		errs = append(errs, fmt.Errorf("invalid FILEMAKER_MCP_MODE %q (allowed: %s|%s)", cfg.Mode, ModeReadOnly, ModeReadWrite))
	}
	if cfg.FileMaker.Host == "" {
		errs = append(errs, errors.New("FILEMAKER_HOST is required"))
	} else if !strings.HasPrefix(cfg.FileMaker.Host, "http://") && !strings.HasPrefix(cfg.FileMaker.Host, "https://") {
		errs = append(errs, fmt.Errorf("FILEMAKER_HOST %q must start with http:// or https://", cfg.FileMaker.Host))
	}
	if cfg.FileMaker.Database == "" {
		errs = append(errs, errors.New("FILEMAKER_DATABASE is required"))
	}
	if cfg.Transport == TransportHTTP && cfg.SessionToken == "" {
		errs = append(errs, errors.New("FILEMAKER_MCP_SESSION_TOKEN is required for the http transport"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parser accumulates conversion errors so Load reports all of them at once.
type parser struct {
	errs *[]error
}

func (p parser) boolean(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: expected a boolean", key, value))
		return fallback
	}
	return parsed
}

func (p parser) integer(key string, fallback, minimum int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < minimum {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: expected an integer >= %d", key, value, minimum))
		return fallback
	}
	return parsed
}

func (p parser) float(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: expected a positive number", key, value))
		return fallback
	}
	return parsed
}

// duration accepts Go durations ("250ms") and bare integers as milliseconds.
func (p parser) duration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: expected a duration", key, value))
		return fallback
	}
	return parsed
}

// location loads an IANA zone name. Unset means UTC.
func (p parser) location(key string) *time.Location {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: expected an IANA time zone", key, value))
		return time.UTC
	}
	return loc
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}
