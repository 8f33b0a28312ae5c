// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, database,
// cache, credit, chunking, provider and observability settings.
//
// A .env file, when present, is loaded before the environment is read;
// variables already set in the process environment win.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Cache backends.
const (
	CacheBackendDB     = "db"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-docchat-rag")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig locates the Redis server used by the redis cache backend.
type RedisConfig struct {
	Addr     string // REDIS_ADDR
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// CacheConfig selects and tunes the answer cache.
type CacheConfig struct {
	Backend        string        // CACHE_BACKEND: db|redis|memory
	Validity       time.Duration // CACHE_VALIDITY
	MemoryCapacity int           // CACHE_MEMORY_CAPACITY (0 = unbounded)
	SweepInterval  time.Duration // CACHE_SWEEP_INTERVAL (0 = expire lazily on read only)
}

// ChunkConfig sizes document chunks, in characters.
type ChunkConfig struct {
	MinSize int // CHUNK_MIN_SIZE
	MaxSize int // CHUNK_MAX_SIZE
	Overlap int // CHUNK_OVERLAP
}

// LLMConfig configures the language model providers.
type LLMConfig struct {
	ProvidersFile   string        // LLM_PROVIDERS_FILE (optional YAML)
	DefaultProvider string        // LLM_DEFAULT_PROVIDER
	Timeout         time.Duration // LLM_TIMEOUT
}

// SearchConfig configures retrieval. With RemoteURL empty the stored chunks
// are searched locally.
type SearchConfig struct {
	RemoteURL    string  // SEARCH_REMOTE_URL
	RemoteAPIKey string  // SEARCH_REMOTE_API_KEY
	Threshold    float64 // SEARCH_THRESHOLD in [0,1]
	MatchCount   int     // SEARCH_MATCH_COUNT
}

// IngestConfig enables the watched ingestion folder.
type IngestConfig struct {
	WatchDir string // INGEST_WATCH_DIR (empty = disabled)
	UserID   string // INGEST_USER_ID owner of watched documents
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // provider calls run inside it
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap, bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Database
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path or Postgres DSN

	// Requests
	MaxPromptRunes int

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
	// Answer-producing routes reach paid providers and draw from a second,
	// smaller bucket as well.
	AnswerRPS   float64
	AnswerBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL   time.Duration // how long a given Idempotency-Key is valid
	IdempotencySweep time.Duration // IDEMPOTENCY_SWEEP_INTERVAL

	// Domain
	Redis         RedisConfig
	Cache         CacheConfig
	InitialCredit decimal.Decimal // CREDITS_INITIAL
	Chunk         ChunkConfig
	LLM           LLMConfig
	Search        SearchConfig
	Ingest        IngestConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadDotEnv loads the first existing file of paths (".env" when none are
// given) into the process environment without overriding set variables.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return godotenv.Load(p)
		}
	}
	return nil
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 8<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Database
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "app.db"),

		MaxPromptRunes: getint("MAX_PROMPT_RUNES", 4000),

		// Rate limiting
		RateRPS:     getfloat("RATE_RPS", 5.0),
		RateBurst:   getint("RATE_BURST", 10),
		AnswerRPS:   getfloat("RATE_ANSWER_RPS", 0.5),
		AnswerBurst: getint("RATE_ANSWER_BURST", 3),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL:   getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencySweep: getdur("IDEMPOTENCY_SWEEP_INTERVAL", time.Hour),

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Backend:        strings.ToLower(getenv("CACHE_BACKEND", CacheBackendDB)),
			Validity:       getdur("CACHE_VALIDITY", 24*time.Hour),
			MemoryCapacity: getint("CACHE_MEMORY_CAPACITY", 10000),
			SweepInterval:  getdur("CACHE_SWEEP_INTERVAL", 0),
		},
		InitialCredit: getdecimal("CREDITS_INITIAL", decimal.NewFromInt(5)),
		Chunk: ChunkConfig{
			MinSize: getint("CHUNK_MIN_SIZE", 500),
			MaxSize: getint("CHUNK_MAX_SIZE", 2000),
			Overlap: getint("CHUNK_OVERLAP", 200),
		},
		LLM: LLMConfig{
			ProvidersFile:   getenv("LLM_PROVIDERS_FILE", ""),
			DefaultProvider: strings.ToLower(getenv("LLM_DEFAULT_PROVIDER", "openai")),
			Timeout:         getdur("LLM_TIMEOUT", 60*time.Second),
		},
		Search: SearchConfig{
			RemoteURL:    getenv("SEARCH_REMOTE_URL", ""),
			RemoteAPIKey: getenv("SEARCH_REMOTE_API_KEY", ""),
			Threshold:    getfloat("SEARCH_THRESHOLD", 0.05),
			MatchCount:   getint("SEARCH_MATCH_COUNT", 5),
		},
		Ingest: IngestConfig{
			WatchDir: getenv("INGEST_WATCH_DIR", ""),
			UserID:   getenv("INGEST_USER_ID", "demo-user"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-docchat-rag"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.DBDriver == "postgresql" {
		c.DBDriver = "postgres"
	}
}

// validate reports every broken setting at once, so a bad deploy is fixed
// in one round.
func (c Config) validate() error {
	rules := []struct {
		bad bool
		msg string
	}{
		{!oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"), "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{c.MaxBodyBytes <= 0, "MAX_BODY_BYTES must be > 0"},
		{!oneOf(c.DBDriver, "sqlite", "postgres"), "DB_DRIVER must be sqlite or postgres"},
		{strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty"},
		{c.MaxPromptRunes < 1, "MAX_PROMPT_RUNES must be >= 1"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.AnswerRPS < 0, "RATE_ANSWER_RPS must be >= 0"},
		{c.AnswerBurst < 1, "RATE_ANSWER_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.IdempotencySweep <= 0, "IDEMPOTENCY_SWEEP_INTERVAL must be > 0"},
		{!oneOf(c.Cache.Backend, CacheBackendDB, CacheBackendRedis, CacheBackendMemory), "CACHE_BACKEND must be one of: db, redis, memory"},
		{c.Cache.Validity <= 0, "CACHE_VALIDITY must be > 0"},
		{c.Cache.MemoryCapacity < 0, "CACHE_MEMORY_CAPACITY must be >= 0"},
		{c.Cache.SweepInterval < 0, "CACHE_SWEEP_INTERVAL must be >= 0"},
		{c.InitialCredit.IsNegative(), "CREDITS_INITIAL must be >= 0"},
		{c.Chunk.MinSize < 1 || c.Chunk.MaxSize < c.Chunk.MinSize, "CHUNK_MIN_SIZE must be >= 1 and <= CHUNK_MAX_SIZE"},
		{c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.MaxSize, "CHUNK_OVERLAP must be >= 0 and < CHUNK_MAX_SIZE"},
		{strings.TrimSpace(c.LLM.DefaultProvider) == "", "LLM_DEFAULT_PROVIDER must not be empty"},
		{c.LLM.Timeout <= 0, "LLM_TIMEOUT must be > 0"},
		{c.Search.Threshold < 0 || c.Search.Threshold > 1, "SEARCH_THRESHOLD must be between 0 and 1"},
		{c.Search.MatchCount < 1, "SEARCH_MATCH_COUNT must be >= 1"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	var errs []error
	for _, r := range rules {
		if r.bad {
			errs = append(errs, errors.New(r.msg))
		}
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// lookup parses k with parse, falling back to def when k is unset, empty
// or unparsable.
func lookup[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return lookup(k, def, func(s string) (string, error) { return s, nil })
}

func getint(k string, def int) int { return lookup(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return lookup(k, def, time.ParseDuration) }

func getfloat(k string, def float64) float64 {
	return lookup(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// getdecimal keeps money values exact; floats would round 0.1.
func getdecimal(k string, def decimal.Decimal) decimal.Decimal {
	return lookup(k, def, func(s string) (decimal.Decimal, error) {
		return decimal.NewFromString(strings.TrimSpace(s))
	})
}

func getbool(k string, def bool) bool {
	return lookup(k, def, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, errors.New("not a boolean")
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
