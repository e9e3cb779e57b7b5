package config

import (
	"time"

	"batchgate/internal/batcher"
)

// Backend defines where a method's batch operation comes from
type Backend string

const (
	BackendModel  Backend = "model"
	BackendPlugin Backend = "plugin"
)

// Config represents the main configuration structure
type Config struct {
	Host             string                   `json:"host"`
	RPCPort          int                      `json:"rpcPort"`
	WSPort           int                      `json:"wsPort"`
	LogLevel         string                   `json:"logLevel"`
	MaxBodySize      int64                    `json:"maxBodySize"`
	RequestTimeout   int                      `json:"requestTimeout"`   // ms
	StatsLogInterval int                      `json:"statsLogInterval"` // ms - 0 disables the periodic stats log
	FlushOnShutdown  bool                     `json:"flushOnShutdown"`
	Model            ModelConfig              `json:"model"`
	Cache            *CacheConfig             `json:"cache,omitempty"`
	Plugins          *PluginConfig            `json:"plugins,omitempty"`
	Methods          map[string]*MethodConfig `json:"methods"`
}

// ModelConfig represents the built-in model configuration
type ModelConfig struct {
	Workers    int `json:"workers"`    // concurrent batch evaluations
	Iterations int `json:"iterations"` // sqrt iterations per row
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Enabled         bool     `json:"enabled"`
	TTL             int      `json:"ttl"`             // seconds
	Size            int      `json:"size"`            // number of entries
	DisabledMethods []string `json:"disabledMethods"` // methods to exclude from caching
}

// PluginConfig represents plugin configuration
type PluginConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"` // path to plugins directory
	Timeout   int    `json:"timeout"`   // execution timeout in milliseconds
}

// MethodConfig represents one coalesced method
type MethodConfig struct {
	Backend             Backend        `json:"backend"`
	TargetBatchSize     int            `json:"targetBatchSize"`
	MaxWaitingTime      int            `json:"maxWaitingTime"`    // ms
	MaxProcessingTime   int            `json:"maxProcessingTime"` // ms
	ArgumentAggregation string         `json:"argumentAggregation"`
	Limit               *int           `json:"limit,omitempty"` // concurrent calls, unset means unlimited
	Retry               *RetryConfig   `json:"retry,omitempty"`
	Breaker             *BreakerConfig `json:"breaker,omitempty"`
}

// RetryConfig represents per-method retry configuration
type RetryConfig struct {
	Attempts int      `json:"attempts"`
	Delay    int      `json:"delay"` // ms
	Backoff  float64  `json:"backoff"`
	On       []string `json:"on"` // error classes to retry, empty retries every error
}

// BreakerConfig represents per-method circuit breaker configuration
type BreakerConfig struct {
	Enabled             bool `json:"enabled"`
	FailureThreshold    int  `json:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests"`
}

// Retry error classes accepted in RetryConfig.On
const (
	RetryOnTimeout      = "timeout"
	RetryOnUpstream     = "upstream"
	RetryOnPanic        = "panic"
	RetryOnResultLength = "resultLength"
)

// Default values
const (
	DefaultHost                = "localhost"
	DefaultRPCPort             = 8000
	DefaultWSPort              = 8001
	DefaultLogLevel            = "info"
	DefaultMaxBodySize         = int64(0) // 0 means no limit
	DefaultRequestTimeout      = 30000    // ms
	DefaultStatsLogInterval    = 60000    // ms
	DefaultFlushOnShutdown     = true
	DefaultModelWorkers        = 2
	DefaultModelIterations     = 10000
	DefaultPluginDirectory     = "./plugins"
	DefaultPluginTimeout       = 30000 // ms
	DefaultMethod              = "predict"
	DefaultMethodLimit         = 20
	DefaultBackend             = BackendModel
	DefaultTargetBatchSize     = 10
	DefaultMaxWaitingTime      = 100   // ms
	DefaultMaxProcessingTime   = 10000 // ms
	DefaultRetryAttempts       = 3
	DefaultBreakerRecoveryTime = 30000 // ms
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetStatsLogIntervalDuration returns stats log interval as time.Duration
func (c *Config) GetStatsLogIntervalDuration() time.Duration {
	return time.Duration(c.StatsLogInterval) * time.Millisecond
}

// IsCacheEnabled returns true if cache is configured and enabled
func (c *Config) IsCacheEnabled() bool {
	return c.Cache != nil && c.Cache.Enabled
}

// IsPluginsEnabled returns true if plugins are configured and enabled
func (c *Config) IsPluginsEnabled() bool {
	return c.Plugins != nil && c.Plugins.Enabled
}

// GetPluginDirectory returns the plugins directory path
func (c *Config) GetPluginDirectory() string {
	if c.Plugins == nil || c.Plugins.Directory == "" {
		return DefaultPluginDirectory
	}
	return c.Plugins.Directory
}

// GetPluginTimeoutDuration returns plugin timeout as time.Duration
func (c *Config) GetPluginTimeoutDuration() time.Duration {
	if c.Plugins == nil || c.Plugins.Timeout == 0 {
		return time.Duration(DefaultPluginTimeout) * time.Millisecond
	}
	return time.Duration(c.Plugins.Timeout) * time.Millisecond
}

// GetTTLDuration returns cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// ToBatcherConfig converts the method options into coalescer options
func (m *MethodConfig) ToBatcherConfig() batcher.Config {
	return batcher.Config{
		TargetBatchSize:     m.TargetBatchSize,
		MaxWaitingTime:      time.Duration(m.MaxWaitingTime) * time.Millisecond,
		MaxProcessingTime:   time.Duration(m.MaxProcessingTime) * time.Millisecond,
		ArgumentAggregation: batcher.AggregationKind(m.ArgumentAggregation),
	}
}

// GetDelayDuration returns the first retry delay as time.Duration
func (r *RetryConfig) GetDelayDuration() time.Duration {
	return time.Duration(r.Delay) * time.Millisecond
}

// GetRecoveryTimeoutDuration returns breaker recovery timeout as time.Duration
func (b *BreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(b.RecoveryTimeout) * time.Millisecond
}
