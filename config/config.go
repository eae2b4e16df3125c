package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvAuthSecret overrides Auth.Secret so the signing key never has to live in
// the config file.
const EnvAuthSecret = "ESCROWD_AUTH_SECRET"

type Config struct {
	ListenAddress  string          `toml:"ListenAddress" yaml:"listenAddress"`
	DataDir        string          `toml:"DataDir" yaml:"dataDir"`
	StorageBackend string          `toml:"StorageBackend" yaml:"storageBackend"`
	Environment    string          `toml:"Environment" yaml:"environment"`
	Owner          string          `toml:"Owner" yaml:"owner"`
	Arbitrator     string          `toml:"Arbitrator" yaml:"arbitrator"`
	Auth           AuthConfig      `toml:"auth" yaml:"auth"`
	RateLimit      RateLimitConfig `toml:"rate_limit" yaml:"rateLimit"`
	Logging        LoggingConfig   `toml:"logging" yaml:"logging"`
	Telemetry      TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Indexer        IndexerConfig   `toml:"indexer" yaml:"indexer"`
	Tokens         []TokenConfig   `toml:"Tokens" yaml:"tokens"`
	Genesis        []GenesisEntry  `toml:"Genesis" yaml:"genesis"`
}

// AuthConfig controls JWT verification of RPC callers.
type AuthConfig struct {
	Secret   string `toml:"Secret" yaml:"secret"`
	Issuer   string `toml:"Issuer" yaml:"issuer"`
	Audience string `toml:"Audience" yaml:"audience"`
}

// RateLimitConfig is a per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// IndexerConfig enables the SQLite event index when DatabasePath is set.
type IndexerConfig struct {
	DatabasePath string `toml:"DatabasePath" yaml:"databasePath"`
}

// TokenConfig registers a token at startup.
type TokenConfig struct {
	Address  string `toml:"Address" yaml:"address"`
	Symbol   string `toml:"Symbol" yaml:"symbol"`
	Decimals uint8  `toml:"Decimals" yaml:"decimals"`
}

// GenesisEntry funds an account on first start. Asset is "native" or a token
// address.
type GenesisEntry struct {
	Account string `toml:"Account" yaml:"account"`
	Asset   string `toml:"Asset" yaml:"asset"`
	Amount  string `toml:"Amount" yaml:"amount"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a written default. Files ending in .yaml or .yml are decoded as
// YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s has unknown key %s", path, undecoded[0])
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Default returns the development configuration.
func Default() *Config {
	cfg := &Config{
		ListenAddress:  "127.0.0.1:8547",
		DataDir:        "./escrow-data",
		StorageBackend: "leveldb",
		Environment:    "dev",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "127.0.0.1:8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(c.StorageBackend) == "" {
		c.StorageBackend = "leveldb"
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Tokens == nil {
		c.Tokens = []TokenConfig{}
	}
	if c.Genesis == nil {
		c.Genesis = []GenesisEntry{}
	}
}

func (c *Config) applyEnv() {
	if secret := strings.TrimSpace(os.Getenv(EnvAuthSecret)); secret != "" {
		c.Auth.Secret = secret
	}
}

// createDefault creates and saves a default configuration file. Owner and
// arbitrator are left empty and must be filled in before the daemon starts.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
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
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}
