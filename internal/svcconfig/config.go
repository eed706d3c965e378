// Package svcconfig loads the process-scoped wallet service
// configuration (spec.md §9's "process-scoped object initialised once
// at startup"): default KDF preset costs, which storage factories to
// auto-register, worker pool sizing, and KDF rate limiting. Distinct
// from the per-wallet JSON WalletConfig/Credentials objects, which are
// decoded with encoding/json where the wallet is opened.
package svcconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/agentvault/vault/internal/walletcrypto"
)

// Config is the top-level process configuration.
type Config struct {
	KDF       KDFConfig       `yaml:"kdf"`
	Storage   StorageConfig   `yaml:"storage"`
	Workers   WorkersConfig   `yaml:"workers"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// KDFConfig overrides the built-in Argon2i cost presets.
type KDFConfig struct {
	ModerateTime    uint32 `yaml:"moderate_time"`
	ModerateMemory  uint32 `yaml:"moderate_memory_kib"`
	ModerateThreads uint8  `yaml:"moderate_threads"`

	InteractiveTime    uint32 `yaml:"interactive_time"`
	InteractiveMemory  uint32 `yaml:"interactive_memory_kib"`
	InteractiveThreads uint8  `yaml:"interactive_threads"`
}

// StorageConfig lists which built-in storage factories to
// auto-register against the default registry at startup.
type StorageConfig struct {
	EnableSQLite   bool `yaml:"enable_sqlite"`
	EnableBolt     bool `yaml:"enable_bolt"`
	EnablePostgres bool `yaml:"enable_postgres"`
}

// WorkersConfig sizes the bounded worker pool backing Wallet futures.
type WorkersConfig struct {
	PoolSize int `yaml:"pool_size"`
	QueueLen int `yaml:"queue_len"`
}

// RateLimitConfig throttles KDF invocations with a token bucket,
// bounding how many memory-hard derivations may start per second
// (plus Burst); it does not cap how many run at once.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LoggingConfig selects the process's log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the out-of-the-box configuration.
func Defaults() *Config {
	return &Config{
		KDF: KDFConfig{
			ModerateTime:       walletcrypto.ModerateParams.Time,
			ModerateMemory:     walletcrypto.ModerateParams.Memory,
			ModerateThreads:    walletcrypto.ModerateParams.Threads,
			InteractiveTime:    walletcrypto.InteractiveParams.Time,
			InteractiveMemory:  walletcrypto.InteractiveParams.Memory,
			InteractiveThreads: walletcrypto.InteractiveParams.Threads,
		},
		Storage:   StorageConfig{EnableSQLite: true, EnableBolt: true, EnablePostgres: true},
		Workers:   WorkersConfig{PoolSize: 8, QueueLen: 64},
		RateLimit: RateLimitConfig{PerSecond: 4, Burst: 2},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads process configuration from path, falling back to
// Defaults for any key the file doesn't set.
func Load(path string) (*Config, error) {
	//nolint:gosec // G304: path is an operator-supplied startup flag, not untrusted input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ModerateParams resolves this config's moderate KDF preset.
func (c *Config) ModerateParams() walletcrypto.KDFParams {
	return walletcrypto.KDFParams{Time: c.KDF.ModerateTime, Memory: c.KDF.ModerateMemory, Threads: c.KDF.ModerateThreads}
}

// InteractiveParams resolves this config's interactive KDF preset.
func (c *Config) InteractiveParams() walletcrypto.KDFParams {
	return walletcrypto.KDFParams{Time: c.KDF.InteractiveTime, Memory: c.KDF.InteractiveMemory, Threads: c.KDF.InteractiveThreads}
}
