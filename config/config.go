package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress  = ":8080"
	DefaultDataDir        = "./spot-data"
	DefaultStorageBackend = "leveldb"
	DefaultIndexFile      = "events.db"
)

// Config is the spotd runtime configuration. Files ending in .yaml or .yml
// are decoded as YAML, everything else as TOML.
type Config struct {
	ListenAddress      string    `toml:"ListenAddress" yaml:"listen"`
	DataDir            string    `toml:"DataDir" yaml:"data_dir"`
	StorageBackend     string    `toml:"StorageBackend" yaml:"storage_backend"`
	IndexFile          string    `toml:"IndexFile" yaml:"index_file"`
	Environment        string    `toml:"Environment" yaml:"environment"`
	LogFile            string    `toml:"LogFile" yaml:"log_file"`
	LogLevel           string    `toml:"LogLevel" yaml:"log_level"`
	RateLimitPerSecond float64   `toml:"RateLimitPerSecond" yaml:"rate_limit_per_second"`
	RateLimitBurst     int       `toml:"RateLimitBurst" yaml:"rate_limit_burst"`
	// RPCAuthToken is the bearer token write routes require. Writes are
	// rejected while it is empty.
	RPCAuthToken       string    `toml:"RPCAuthToken" yaml:"rpc_auth_token"`
	// AllowFaucet enables the token registration and mint routes.
	AllowFaucet        bool      `toml:"AllowFaucet" yaml:"allow_faucet"`
	Fees               Fees      `toml:"fees" yaml:"fees"`
	Pauses             Pauses    `toml:"pauses" yaml:"pauses"`
	Telemetry          Telemetry `toml:"telemetry" yaml:"telemetry"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	cfg := &Config{
		ListenAddress:      DefaultListenAddress,
		DataDir:            DefaultDataDir,
		StorageBackend:     DefaultStorageBackend,
		IndexFile:          DefaultIndexFile,
		Environment:        "local",
		LogLevel:           "info",
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
	return cfg
}

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, normalises and validates raw configuration bytes.
func Parse(data []byte, asYAML bool) (*Config, error) {
	cfg := &Config{}
	if asYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	} else {
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown field %q", undecoded[0].String())
		}
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IndexPath returns the SQLite file backing the event indexer.
func (cfg *Config) IndexPath() string {
	if cfg.IndexFile == ":memory:" || filepath.IsAbs(cfg.IndexFile) {
		return cfg.IndexFile
	}
	return filepath.Join(cfg.DataDir, cfg.IndexFile)
}

// StatePath returns the directory or file of the state database.
func (cfg *Config) StatePath() string {
	if cfg.StorageBackend == "bolt" {
		return filepath.Join(cfg.DataDir, "state.bolt")
	}
	return filepath.Join(cfg.DataDir, "state")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
