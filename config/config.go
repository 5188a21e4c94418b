// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the optional YAML path.
const FileEnv = "MOCKSTREAM_CONFIG"

const (
	GateMemory = "memory"
	GateRedis  = "redis"

	FormatText = "text"
	FormatJSON = "json"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds every setting of both mock servers.
type Config struct {
	Addr               string        `yaml:"addr" env:"MOCKSTREAM_ADDR"`
	ChunkDelay         time.Duration `yaml:"chunk_delay" env:"MOCKSTREAM_CHUNK_DELAY"`
	OutputLength       int           `yaml:"output_length" env:"MOCKSTREAM_OUTPUT_LENGTH"`
	GateBackend        string        `yaml:"gate" env:"MOCKSTREAM_GATE"`
	GateAcquireTimeout time.Duration `yaml:"gate_acquire_timeout" env:"MOCKSTREAM_GATE_ACQUIRE_TIMEOUT"`

	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisKey      string        `yaml:"redis_key" env:"MOCKSTREAM_REDIS_KEY"`
	RedisLeaseTTL time.Duration `yaml:"redis_lease_ttl" env:"MOCKSTREAM_REDIS_LEASE_TTL"`

	SSEAddr     string        `yaml:"sse_addr" env:"MOCKSTREAM_SSE_ADDR"`
	SSEInterval time.Duration `yaml:"sse_interval" env:"MOCKSTREAM_SSE_INTERVAL"`
	SSEChunks   int           `yaml:"sse_chunks" env:"MOCKSTREAM_SSE_CHUNKS"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MOCKSTREAM_SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:               "0.0.0.0:8008",
		ChunkDelay:         500 * time.Millisecond,
		OutputLength:       250,
		GateBackend:        GateMemory,
		GateAcquireTimeout: 0,
		RedisAddr:          "localhost:6379",
		RedisKey:           "mockstream:gate",
		RedisLeaseTTL:      30 * time.Second,
		SSEAddr:            "0.0.0.0:5000",
		SSEInterval:        time.Second,
		SSEChunks:          5,
		LogLevel:           "debug",
		LogFormat:          FormatText,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load reads the YAML file named by MOCKSTREAM_CONFIG, if any, then the
// environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile overlays the YAML file at path (skipped when empty) and then the
// environment onto the defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the servers cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.ChunkDelay < 0 {
		errs = append(errs, fmt.Errorf("chunk_delay must not be negative, got %s", c.ChunkDelay))
	}
	if c.OutputLength < 0 {
		errs = append(errs, fmt.Errorf("output_length must not be negative, got %d", c.OutputLength))
	}
	switch c.GateBackend {
	case GateMemory, GateRedis:
	default:
		errs = append(errs, fmt.Errorf("gate must be %q or %q, got %q", GateMemory, GateRedis, c.GateBackend))
	}
	if c.GateAcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("gate_acquire_timeout must not be negative, got %s", c.GateAcquireTimeout))
	}
	if c.GateBackend == GateRedis {
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis gate"))
		}
		if c.RedisLeaseTTL <= 0 {
			errs = append(errs, fmt.Errorf("redis_lease_ttl must be positive, got %s", c.RedisLeaseTTL))
		}
	}
	if c.SSEInterval < 0 {
		errs = append(errs, fmt.Errorf("sse_interval must not be negative, got %s", c.SSEInterval))
	}
	if c.SSEChunks < 0 {
		errs = append(errs, fmt.Errorf("sse_chunks must not be negative, got %d", c.SSEChunks))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log_format must be %q or %q, got %q", FormatText, FormatJSON, c.LogFormat))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must not be negative, got %s", c.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Logger builds the process logger described by LogLevel and LogFormat.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Delay holds the current chunk delay. It is safe for concurrent use.
type Delay struct {
	v atomic.Int64
}

// NewDelay returns a Delay holding d.
func NewDelay(d time.Duration) *Delay {
	h := &Delay{}
	h.Store(d)
	return h
}

// Load returns the current delay.
func (d *Delay) Load() time.Duration { return time.Duration(d.v.Load()) }

// Store replaces the current delay.
func (d *Delay) Store(v time.Duration) { d.v.Store(int64(v)) }
