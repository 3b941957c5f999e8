package config

import (
	"fmt"
	"strings"

	"spotchain/storage"
)

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = DefaultStorageBackend
	}
	cfg.IndexFile = strings.TrimSpace(cfg.IndexFile)
	if cfg.IndexFile == "" {
		cfg.IndexFile = DefaultIndexFile
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.RPCAuthToken = strings.TrimSpace(cfg.RPCAuthToken)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.RateLimitBurst <= 0 && cfg.RateLimitPerSecond > 0 {
		cfg.RateLimitBurst = int(cfg.RateLimitPerSecond) + 1
	}
	cfg.Fees.Lending.normalize()
	cfg.Fees.Stream.normalize()
	cfg.Fees.Pool.normalize()
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if !storage.KnownBackend(cfg.StorageBackend) {
		return fmt.Errorf("storage_backend: unknown backend %q", cfg.StorageBackend)
	}
	if cfg.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate_limit_per_second must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	for name, fee := range map[string]Fee{
		"lending": cfg.Fees.Lending,
		"stream":  cfg.Fees.Stream,
		"pool":    cfg.Fees.Pool,
	} {
		if _, err := fee.Schedule(); err != nil {
			return fmt.Errorf("fees.%s: %w", name, err)
		}
	}
	return nil
}
