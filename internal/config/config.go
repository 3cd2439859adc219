package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/silentpen/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// Diary store location and backend
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Password key derivation work factor
	KDF KDFConfig `json:"kdf" mapstructure:"kdf"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Local command bridge for the UI layer
	Bridge BridgeConfig `json:"bridge" mapstructure:"bridge"`
}

// StorageConfig for the diary store.
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"` // Base directory for all data
	Path    string `json:"path" mapstructure:"path"`         // Store file (empty = data_dir/diary.<ext>)
	Backend string `json:"backend" mapstructure:"backend"`   // file, sqlite, memory
}

// KDFConfig selects the password hashing algorithm and its work factor.
// Only new stores and new export bundles pick these up; existing stores keep
// the parameters they were created with.
type KDFConfig struct {
	Algorithm  string `json:"algorithm" mapstructure:"algorithm"` // argon2id, scrypt, pbkdf2-sha256
	Time       uint32 `json:"time" mapstructure:"time"`
	MemoryKiB  uint32 `json:"memory_kib" mapstructure:"memory_kib"`
	Threads    uint8  `json:"threads" mapstructure:"threads"`
	ScryptN    int    `json:"scrypt_n" mapstructure:"scrypt_n"`
	ScryptR    int    `json:"scrypt_r" mapstructure:"scrypt_r"`
	ScryptP    int    `json:"scrypt_p" mapstructure:"scrypt_p"`
	Iterations int    `json:"iterations" mapstructure:"iterations"`
}

// Params converts the configured work factor to KDF parameters without a salt.
func (k KDFConfig) Params() models.KDFParams {
	params := models.KDFParams{Algorithm: k.Algorithm}
	switch k.Algorithm {
	case models.KDFArgon2id:
		params.Time, params.MemoryKiB, params.Threads = k.Time, k.MemoryKiB, k.Threads
	case models.KDFScrypt:
		params.N, params.R, params.P = k.ScryptN, k.ScryptR, k.ScryptP
	case models.KDFPBKDF2SHA256:
		params.Iterations = k.Iterations
	}
	return params
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// BridgeConfig for the loopback WebSocket endpoint used by the UI.
type BridgeConfig struct {
	Addr           string        `json:"addr" mapstructure:"addr"`
	Path           string        `json:"path" mapstructure:"path"`
	MaxConnections int           `json:"max_connections" mapstructure:"max_connections"`
	ReadLimit      int64         `json:"read_limit" mapstructure:"read_limit"` // Max frame size in bytes
	AllowedOrigins []string      `json:"allowed_origins" mapstructure:"allowed_origins"`
	WriteTimeout   time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory" // Nothing persisted; for throwaway sessions
)

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".silentpen"

	return &Config{
		Storage: StorageConfig{
			DataDir: dataDir,
			Backend: BackendFile,
		},
		KDF: KDFConfig{
			Algorithm:  "argon2id",
			Time:       3,
			MemoryKiB:  64 * 1024,
			Threads:    4,
			ScryptN:    32768,
			ScryptR:    8,
			ScryptP:    1,
			Iterations: 600000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
			Color:  true,
		},
		Bridge: BridgeConfig{
			Addr:           "127.0.0.1:17321",
			Path:           "/ipc",
			MaxConnections: 8,
			ReadLimit:      8 * 1024 * 1024,
			AllowedOrigins: []string{"tauri://localhost", "http://tauri.localhost", "http://localhost:1420"},
			WriteTimeout:   10 * time.Second,
		},
	}
}

// StorePath resolves the store file location for the configured backend.
func (c *Config) StorePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	name := "diary.json"
	if c.Storage.Backend == BackendSQLite {
		name = "diary.db"
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" && c.Storage.Path == "" {
		return errors.New("storage.data_dir or storage.path is required")
	}

	validBackends := map[string]bool{BackendFile: true, BackendSQLite: true, BackendMemory: true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	switch c.KDF.Algorithm {
	case models.KDFArgon2id:
		if c.KDF.Time == 0 {
			return errors.New("kdf.time must be positive")
		}
		if c.KDF.Threads == 0 {
			return errors.New("kdf.threads must be positive")
		}
		if c.KDF.MemoryKiB < 8*uint32(c.KDF.Threads) {
			return errors.New("kdf.memory_kib must be at least 8 KiB per thread")
		}
	case models.KDFScrypt:
		if c.KDF.ScryptN <= 1 || c.KDF.ScryptN&(c.KDF.ScryptN-1) != 0 {
			return errors.New("kdf.scrypt_n must be a power of two greater than 1")
		}
		if c.KDF.ScryptR <= 0 || c.KDF.ScryptP <= 0 {
			return errors.New("kdf.scrypt_r and kdf.scrypt_p must be positive")
		}
	case models.KDFPBKDF2SHA256:
		if c.KDF.Iterations <= 0 {
			return errors.New("kdf.iterations must be positive")
		}
	default:
		return fmt.Errorf("invalid kdf algorithm: %s", c.KDF.Algorithm)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Bridge.Addr == "" {
		return errors.New("bridge.addr is required")
	}

	if c.Bridge.MaxConnections <= 0 {
		return errors.New("bridge.max_connections must be positive")
	}

	if c.Bridge.ReadLimit <= 0 {
		return errors.New("bridge.read_limit must be positive")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.StorePath())}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
