// Package config loads settings from defaults, an optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application settings.
type Config struct {
	// Server
	Port               string `yaml:"port"`                 // HTTP port
	GinMode            string `yaml:"gin_mode"`             // debug, release, test
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"` // comma separated
	SessionSecret      string `yaml:"session_secret"`       // cookie signing key
	RequestLogPath     string `yaml:"request_log_path"`     // error-only access log, empty disables

	// Uploads
	UploadDir   string `yaml:"upload_dir"`
	MaxFileSize int64  `yaml:"max_file_size"`

	// Queue / workers
	QueueRedisURL      string        `yaml:"queue_redis_url"`
	QueueName          string        `yaml:"queue_name"`
	WorkerConcurrency  int           `yaml:"worker_concurrency"`
	JobMaxAttempts     int           `yaml:"job_max_attempts"`
	JobRetryBaseDelay  time.Duration `yaml:"job_retry_base_delay"`
	CompletedRetention int           `yaml:"job_completed_retention"`
	FailedRetention    int           `yaml:"job_failed_retention"`
	PruneSchedule      string        `yaml:"queue_prune_schedule"`

	// Cache
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`

	// Extraction
	GrobidURL      string        `yaml:"grobid_url"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`

	// Language model
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
	GeminiBaseURL   string `yaml:"gemini_base_url"`
	MaxContextChars int    `yaml:"max_context_chars"`
	MaxSectionChars int    `yaml:"max_section_chars"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:               "5000",
		GinMode:            "debug",
		CORSAllowedOrigins: "http://localhost:5173",
		RequestLogPath:     "requests.log",

		UploadDir:   "uploads",
		MaxFileSize: 50 * 1024 * 1024, // 50MB

		QueueRedisURL:      "redis://127.0.0.1:6379/0",
		QueueName:          "grobid-processing",
		WorkerConcurrency:  2,
		JobMaxAttempts:     3,
		JobRetryBaseDelay:  time.Second,
		CompletedRetention: 1000,
		FailedRetention:    5000,
		PruneSchedule:      "@every 1m",

		CacheTTL:           time.Hour,
		CacheSweepInterval: 30 * time.Second,

		GrobidURL:      "http://localhost:8070/api/processFulltextDocument",
		ExtractTimeout: 120 * time.Second,

		GeminiModel:     "gemini-1.5-flash",
		MaxContextChars: 100000,
		MaxSectionChars: 30000,
	}
}

// Load reads the configuration. path may point at a YAML file; when empty,
// CONFIG_FILE is consulted. Environment variables override file values.
func Load(path string) (*Config, error) {
	loadEnvFile()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	c.CORSAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)
	c.RequestLogPath = getEnv("REQUEST_LOG_PATH", c.RequestLogPath)

	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.MaxFileSize = getEnvAsInt64("MAX_FILE_SIZE", c.MaxFileSize)

	c.QueueRedisURL = getEnv("QUEUE_REDIS_URL", c.QueueRedisURL)
	c.QueueName = getEnv("QUEUE_NAME", c.QueueName)
	c.WorkerConcurrency = getEnvAsInt("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.JobMaxAttempts = getEnvAsInt("JOB_MAX_ATTEMPTS", c.JobMaxAttempts)
	c.JobRetryBaseDelay = getEnvAsDuration("JOB_RETRY_BASE_DELAY", c.JobRetryBaseDelay)
	c.CompletedRetention = getEnvAsInt("JOB_COMPLETED_RETENTION", c.CompletedRetention)
	c.FailedRetention = getEnvAsInt("JOB_FAILED_RETENTION", c.FailedRetention)
	c.PruneSchedule = getEnv("QUEUE_PRUNE_SCHEDULE", c.PruneSchedule)

	c.CacheTTL = getEnvAsDuration("CACHE_TTL", c.CacheTTL)
	c.CacheSweepInterval = getEnvAsDuration("CACHE_SWEEP_INTERVAL", c.CacheSweepInterval)

	c.GrobidURL = getEnv("GROBID_URL", c.GrobidURL)
	c.ExtractTimeout = getEnvAsDuration("EXTRACT_TIMEOUT", c.ExtractTimeout)

	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.GeminiBaseURL = getEnv("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.MaxContextChars = getEnvAsInt("MAX_CONTEXT_CHARS", c.MaxContextChars)
	c.MaxSectionChars = getEnvAsInt("MAX_SECTION_CHARS", c.MaxSectionChars)
}

// Validate checks the settings.
func (c *Config) Validate() error {
	var errs []error
	if c.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR is required"))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if c.JobMaxAttempts <= 0 {
		errs = append(errs, errors.New("JOB_MAX_ATTEMPTS must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.CacheSweepInterval <= 0 {
		errs = append(errs, errors.New("CACHE_SWEEP_INTERVAL must be positive"))
	}
	if c.CompletedRetention < 0 {
		errs = append(errs, errors.New("JOB_COMPLETED_RETENTION must not be negative"))
	}
	if c.FailedRetention < 0 {
		errs = append(errs, errors.New("JOB_FAILED_RETENTION must not be negative"))
	}
	if c.ExtractTimeout <= 0 {
		errs = append(errs, errors.New("EXTRACT_TIMEOUT must be positive"))
	}
	if c.MaxContextChars <= 0 {
		errs = append(errs, errors.New("MAX_CONTEXT_CHARS must be positive"))
	}

	// Local development may run without credentials; release mode may not.
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			errs = append(errs, errors.New("SESSION_SECRET is required in release mode"))
		}
		if c.QueueRedisURL == "" {
			errs = append(errs, errors.New("QUEUE_REDIS_URL is required in release mode"))
		}
		if c.GrobidURL == "" {
			errs = append(errs, errors.New("GROBID_URL is required in release mode"))
		}
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required in release mode"))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns the variable or defaultValue when unset.
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or plain milliseconds ("1000").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
