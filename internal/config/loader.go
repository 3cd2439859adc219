package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides
// (SILENTPEN_LOG_LEVEL overrides log.level).
const EnvPrefix = "SILENTPEN"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// ConfigFile reports the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration from defaults, file and environment, in that order of precedence.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v, DefaultConfig())

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.v.SetConfigName("silentpen")
		l.v.SetConfigType("json")
		for _, dir := range l.defaultDirs() {
			l.v.AddConfigPath(dir)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", l.v.ConfigFileUsed(), err)
			}
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultDirs returns the directories searched for silentpen.json.
func (l *Loader) defaultDirs() []string {
	dirs := []string{".", ".silentpen"}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "silentpen"),
			filepath.Join(homeDir, ".silentpen"),
		)
	}

	return dirs
}

// setDefaults registers every key so environment overrides apply on Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.backend", cfg.Storage.Backend)

	v.SetDefault("kdf.algorithm", cfg.KDF.Algorithm)
	v.SetDefault("kdf.time", cfg.KDF.Time)
	v.SetDefault("kdf.memory_kib", cfg.KDF.MemoryKiB)
	v.SetDefault("kdf.threads", cfg.KDF.Threads)
	v.SetDefault("kdf.scrypt_n", cfg.KDF.ScryptN)
	v.SetDefault("kdf.scrypt_r", cfg.KDF.ScryptR)
	v.SetDefault("kdf.scrypt_p", cfg.KDF.ScryptP)
	v.SetDefault("kdf.iterations", cfg.KDF.Iterations)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)

	v.SetDefault("bridge.addr", cfg.Bridge.Addr)
	v.SetDefault("bridge.path", cfg.Bridge.Path)
	v.SetDefault("bridge.max_connections", cfg.Bridge.MaxConnections)
	v.SetDefault("bridge.read_limit", cfg.Bridge.ReadLimit)
	v.SetDefault("bridge.allowed_origins", cfg.Bridge.AllowedOrigins)
	v.SetDefault("bridge.write_timeout", cfg.Bridge.WriteTimeout)
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
