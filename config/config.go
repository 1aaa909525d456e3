// Package config centralizes runtime configuration for every HTN
// orchestrator component, following the same three-layer priority the
// rest of the ambient stack uses: defaults, then HTN_* environment
// variables, then functional options, each overriding the last.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/filagent/htncore/herrors"
)

// Config is the root configuration document, one section per component.
type Config struct {
	WormLog      WormLogConfig
	DecisionStore DecisionStoreConfig
	Provenance   ProvenanceConfig
	Policy       PolicyConfig
	Planner      PlannerConfig
	Executor     ExecutorConfig
	Verifier     VerifierConfig
	Cache        CacheConfig
	Logging      LoggingConfig
}

type WormLogConfig struct {
	LogDir          string `env:"HTN_WORMLOG_DIR" default:"data/wormlog"`
	DigestDir       string `env:"HTN_WORMLOG_DIGEST_DIR" default:"data/wormlog/digests"`
	ArchiveDir      string `env:"HTN_WORMLOG_ARCHIVE_DIR" default:"data/wormlog/archive"`
	StreamName      string `env:"HTN_WORMLOG_STREAM" default:"htn-decisions"`
	CheckpointEvery int    `env:"HTN_WORMLOG_CHECKPOINT_EVERY" default:"100"`
}

type DecisionStoreConfig struct {
	Dir    string `env:"HTN_DECISIONSTORE_DIR" default:"data/decisions"`
	KeyDir string `env:"HTN_DECISIONSTORE_KEY_DIR" default:"data/keys"`
}

type ProvenanceConfig struct {
	Dir string `env:"HTN_PROVENANCE_DIR" default:"data/provenance"`
}

type PolicyConfig struct {
	ConfigPath string `env:"HTN_POLICY_CONFIG" default:"config/policies.yaml"`
}

type PlannerConfig struct {
	DefaultStrategy     string  `env:"HTN_PLANNER_STRATEGY" default:"hybrid"`
	HybridRuleThreshold float64 `env:"HTN_PLANNER_HYBRID_THRESHOLD" default:"0.7"`
}

type ExecutorConfig struct {
	DefaultStrategy string        `env:"HTN_EXECUTOR_STRATEGY" default:"adaptive"`
	MaxWorkers      int           `env:"HTN_EXECUTOR_MAX_WORKERS" default:"4"`
	TaskTimeout     time.Duration `env:"HTN_EXECUTOR_TASK_TIMEOUT" default:"60s"`
}

type VerifierConfig struct {
	DefaultLevel string `env:"HTN_VERIFIER_LEVEL" default:"strict"`
}

type CacheConfig struct {
	MaxSize int           `env:"HTN_CACHE_MAX_SIZE" default:"500"`
	TTL     time.Duration `env:"HTN_CACHE_TTL" default:"15m"`
}

type LoggingConfig struct {
	Level  string `env:"HTN_LOG_LEVEL" default:"info"`
	Format string `env:"HTN_LOG_FORMAT" default:"json"`
}

// Default builds a Config populated entirely from defaults, with no
// environment or option layer applied.
func Default() *Config {
	return &Config{
		WormLog: WormLogConfig{
			LogDir:          "data/wormlog",
			DigestDir:       "data/wormlog/digests",
			ArchiveDir:      "data/wormlog/archive",
			StreamName:      "htn-decisions",
			CheckpointEvery: 100,
		},
		DecisionStore: DecisionStoreConfig{
			Dir:    "data/decisions",
			KeyDir: "data/keys",
		},
		Provenance: ProvenanceConfig{
			Dir: "data/provenance",
		},
		Policy: PolicyConfig{
			ConfigPath: "config/policies.yaml",
		},
		Planner: PlannerConfig{
			DefaultStrategy:     "hybrid",
			HybridRuleThreshold: 0.7,
		},
		Executor: ExecutorConfig{
			DefaultStrategy: "adaptive",
			MaxWorkers:      4,
			TaskTimeout:     60 * time.Second,
		},
		Verifier: VerifierConfig{
			DefaultLevel: "strict",
		},
		Cache: CacheConfig{
			MaxSize: 500,
			TTL:     15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Option mutates a Config during construction; options run after the
// environment layer, so they take final priority.
type Option func(*Config)

// New builds a Config from defaults, then HTN_* environment variables,
// then opts, validating the result before returning it.
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	cfg.loadFromEnv()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("HTN_WORMLOG_DIR"); v != "" {
		c.WormLog.LogDir = v
	}
	if v := os.Getenv("HTN_WORMLOG_DIGEST_DIR"); v != "" {
		c.WormLog.DigestDir = v
	}
	if v := os.Getenv("HTN_WORMLOG_ARCHIVE_DIR"); v != "" {
		c.WormLog.ArchiveDir = v
	}
	if v := os.Getenv("HTN_WORMLOG_STREAM"); v != "" {
		c.WormLog.StreamName = v
	}
	if v := os.Getenv("HTN_WORMLOG_CHECKPOINT_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WormLog.CheckpointEvery = n
		}
	}

	if v := os.Getenv("HTN_DECISIONSTORE_DIR"); v != "" {
		c.DecisionStore.Dir = v
	}
	if v := os.Getenv("HTN_DECISIONSTORE_KEY_DIR"); v != "" {
		c.DecisionStore.KeyDir = v
	}

	if v := os.Getenv("HTN_PROVENANCE_DIR"); v != "" {
		c.Provenance.Dir = v
	}

	if v := os.Getenv("HTN_POLICY_CONFIG"); v != "" {
		c.Policy.ConfigPath = v
	}

	if v := os.Getenv("HTN_PLANNER_STRATEGY"); v != "" {
		c.Planner.DefaultStrategy = v
	}
	if v := os.Getenv("HTN_PLANNER_HYBRID_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Planner.HybridRuleThreshold = f
		}
	}

	if v := os.Getenv("HTN_EXECUTOR_STRATEGY"); v != "" {
		c.Executor.DefaultStrategy = v
	}
	if v := os.Getenv("HTN_EXECUTOR_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Executor.MaxWorkers = n
		}
	}
	if v := os.Getenv("HTN_EXECUTOR_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Executor.TaskTimeout = d
		}
	}

	if v := os.Getenv("HTN_VERIFIER_LEVEL"); v != "" {
		c.Verifier.DefaultLevel = v
	}

	if v := os.Getenv("HTN_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxSize = n
		}
	}
	if v := os.Getenv("HTN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}

	if v := os.Getenv("HTN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HTN_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate rejects configuration combinations no component can act on.
func (c *Config) Validate() error {
	switch c.Executor.DefaultStrategy {
	case "sequential", "parallel", "adaptive", "work_stealing":
	default:
		return herrors.New("config.Validate", herrors.KindInvalidConfig, "unknown executor strategy: "+c.Executor.DefaultStrategy)
	}

	switch c.Verifier.DefaultLevel {
	case "basic", "strict", "paranoid":
	default:
		return herrors.New("config.Validate", herrors.KindInvalidConfig, "unknown verification level: "+c.Verifier.DefaultLevel)
	}

	if c.Executor.MaxWorkers < 1 {
		return herrors.New("config.Validate", herrors.KindInvalidConfig, "executor max workers must be >= 1")
	}

	if c.Planner.HybridRuleThreshold < 0 || c.Planner.HybridRuleThreshold > 1 {
		return herrors.New("config.Validate", herrors.KindInvalidConfig, "hybrid rule threshold must be between 0 and 1")
	}

	if c.Cache.MaxSize < 1 {
		return herrors.New("config.Validate", herrors.KindInvalidConfig, "cache max size must be >= 1")
	}

	level := strings.ToLower(c.Logging.Level)
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return herrors.New("config.Validate", herrors.KindInvalidConfig, "unknown log level: "+c.Logging.Level)
	}

	return nil
}

// WithWormLogDir overrides the WORM log's directory.
func WithWormLogDir(dir string) Option {
	return func(c *Config) { c.WormLog.LogDir = dir }
}

// WithExecutorStrategy overrides the default execution strategy.
func WithExecutorStrategy(strategy string) Option {
	return func(c *Config) { c.Executor.DefaultStrategy = strategy }
}

// WithExecutorWorkers overrides the executor's worker pool size.
func WithExecutorWorkers(n int) Option {
	return func(c *Config) { c.Executor.MaxWorkers = n }
}

// WithVerifierLevel overrides the default verification level.
func WithVerifierLevel(level string) Option {
	return func(c *Config) { c.Verifier.DefaultLevel = level }
}

// WithCacheSize overrides the plan cache's bound and TTL.
func WithCacheSize(maxSize int, ttl time.Duration) Option {
	return func(c *Config) {
		c.Cache.MaxSize = maxSize
		c.Cache.TTL = ttl
	}
}

// WithLogLevel overrides the logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) { c.Logging.Level = level }
}
