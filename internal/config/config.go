package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RPCPort == 0 {
		cfg.RPCPort = DefaultRPCPort
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StatsLogInterval == 0 {
		cfg.StatsLogInterval = DefaultStatsLogInterval
	}
	if cfg.Model.Workers == 0 {
		cfg.Model.Workers = DefaultModelWorkers
	}
	if cfg.Model.Iterations == 0 {
		cfg.Model.Iterations = DefaultModelIterations
	}

	// Without methods the service exposes the single predict endpoint
	if len(cfg.Methods) == 0 {
		limit := DefaultMethodLimit
		cfg.Methods = map[string]*MethodConfig{
			DefaultMethod: {Limit: &limit},
		}
	}

	for _, m := range cfg.Methods {
		if m == nil {
			continue
		}
		if m.Backend == "" {
			m.Backend = DefaultBackend
		}
		if m.TargetBatchSize == 0 {
			m.TargetBatchSize = DefaultTargetBatchSize
		}
		if m.MaxWaitingTime == 0 {
			m.MaxWaitingTime = DefaultMaxWaitingTime
		}
		if m.MaxProcessingTime == 0 {
			m.MaxProcessingTime = DefaultMaxProcessingTime
		}
		// The model works on numbers only
		if m.ArgumentAggregation == "" && m.Backend == BackendModel {
			m.ArgumentAggregation = "numeric"
		}
		if m.Retry != nil && m.Retry.Attempts == 0 {
			m.Retry.Attempts = DefaultRetryAttempts
		}
		if m.Breaker != nil && m.Breaker.RecoveryTimeout == 0 {
			m.Breaker.RecoveryTimeout = DefaultBreakerRecoveryTime
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.RPCPort < 1 || cfg.RPCPort > 65535 {
		return fmt.Errorf("rpcPort must be between 1 and 65535")
	}

	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	if cfg.RPCPort == cfg.WSPort {
		return fmt.Errorf("rpcPort and wsPort must differ")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	if cfg.StatsLogInterval < 0 {
		return fmt.Errorf("statsLogInterval must be non-negative")
	}

	if cfg.Model.Workers < 0 {
		return fmt.Errorf("model.workers must be positive")
	}

	if cfg.Model.Iterations < 0 {
		return fmt.Errorf("model.iterations must be non-negative")
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		if cfg.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive when cache is enabled")
		}
		if cfg.Cache.Size <= 0 {
			return fmt.Errorf("cache.size must be positive when cache is enabled")
		}
	}

	// Sorted so that the reported error is stable
	names := make([]string, 0, len(cfg.Methods))
	for name := range cfg.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validateMethod(cfg, name, cfg.Methods[name]); err != nil {
			return err
		}
	}

	return nil
}

func validateMethod(cfg *Config, name string, m *MethodConfig) error {
	if name == "" {
		return errors.New("method name is required")
	}
	if m == nil {
		return fmt.Errorf("method '%s': configuration is required", name)
	}

	switch m.Backend {
	case BackendModel:
	case BackendPlugin:
		if !cfg.IsPluginsEnabled() {
			return fmt.Errorf("method '%s': plugin backend requires plugins to be enabled", name)
		}
	default:
		return fmt.Errorf("method '%s': backend must be 'model' or 'plugin'", name)
	}

	if err := m.ToBatcherConfig().Validate(); err != nil {
		return fmt.Errorf("method '%s': %w", name, err)
	}

	if m.Limit != nil && *m.Limit < 0 {
		return fmt.Errorf("method '%s': limit must be non-negative", name)
	}

	if r := m.Retry; r != nil {
		if r.Attempts < 0 {
			return fmt.Errorf("method '%s': retry.attempts must be non-negative", name)
		}
		if r.Delay < 0 {
			return fmt.Errorf("method '%s': retry.delay must be non-negative", name)
		}
		if r.Backoff != 0 && r.Backoff < 1 {
			return fmt.Errorf("method '%s': retry.backoff must be >= 1", name)
		}
		for _, class := range r.On {
			switch class {
			case RetryOnTimeout, RetryOnUpstream, RetryOnPanic, RetryOnResultLength:
			default:
				return fmt.Errorf("method '%s': unknown retry error class '%s'", name, class)
			}
		}
	}

	if b := m.Breaker; b != nil && b.Enabled {
		if b.FailureThreshold < 0 {
			return fmt.Errorf("method '%s': breaker.failureThreshold must be non-negative", name)
		}
		if b.RecoveryTimeout < 0 {
			return fmt.Errorf("method '%s': breaker.recoveryTimeout must be non-negative", name)
		}
	}

	return nil
}

// configWithFlushDefault is used for proper default handling of flushOnShutdown
type configWithFlushDefault struct {
	Config
	FlushOnShutdownPtr *bool `json:"flushOnShutdown"`
}

// LoadWithDefaults reads and parses the configuration file with proper bool default handling
func LoadWithDefaults(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses, completes and validates a JSON configuration
func Parse(data []byte) (*Config, error) {
	// First unmarshal to check if flushOnShutdown was explicitly set
	var rawCfg configWithFlushDefault
	if err := json.Unmarshal(data, &rawCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &rawCfg.Config

	if rawCfg.FlushOnShutdownPtr != nil {
		cfg.FlushOnShutdown = *rawCfg.FlushOnShutdownPtr
	} else {
		cfg.FlushOnShutdown = DefaultFlushOnShutdown
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		// The built-in defaults are always valid
		panic(err)
	}
	return cfg
}
