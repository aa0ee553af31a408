package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel slog.Level

	// Graph drive
	GraphURL       string
	RequestTimeout time.Duration
	StatsWindow    time.Duration

	// Bulk workflows
	MaxConcurrent  int
	DocumentSuffix string
	FieldsFile     string
	FrontMatter    bool
	PartialFailure bool

	// Async jobs
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// Request limits
	MaxBodyBytes int64
}

func Load() Config {
	cfg := Config{
		Port:     envOr("PORT", "8091"),
		LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),

		GraphURL:       envOr("GRAPH_URL", "https://graph.microsoft.com/v1.0"),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second),
		StatsWindow:    envDuration("STATS_WINDOW", time.Hour),

		MaxConcurrent:  envInt("MAX_CONCURRENT", 100),
		DocumentSuffix: envOr("DOCUMENT_SUFFIX", ".md"),
		FieldsFile:     os.Getenv("FIELDS_FILE"),
		FrontMatter:    envBool("FRONT_MATTER", false),
		PartialFailure: envBool("PARTIAL_FAILURE", false),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 20),
		JobTTL:       envDuration("JOB_TTL", 1*time.Hour),

		MaxBodyBytes: envInt64("MAX_BODY_BYTES", 10<<20), // 10MB
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 20
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	u, err := url.Parse(c.GraphURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GRAPH_URL must be an absolute http(s) URL, got %q", c.GraphURL)
	}
	if c.DocumentSuffix == "" {
		return fmt.Errorf("DOCUMENT_SUFFIX must not be empty")
	}
	if c.FieldsFile != "" {
		if _, err := os.Stat(c.FieldsFile); err != nil {
			return fmt.Errorf("FIELDS_FILE: %w", err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.TrimSpace(v))); err == nil {
			return l
		}
	}
	return fallback
}
