package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"retreat-quiz/internal/remote"
)

const (
	DefaultPort         = "8080"
	DefaultPollInterval = time.Second
	DefaultCacheTTL     = 10 * time.Minute
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	// Remote is the hosted backend. An empty URL means local-only mode.
	Remote struct {
		URL       string `yaml:"url"`
		Key       string `yaml:"key"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"remote"`
	// Local.Dir shares documents through a directory; empty keeps them in memory.
	Local struct {
		Dir string `yaml:"dir"`
	} `yaml:"local"`
	Sync struct {
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"sync"`
	Quiz struct {
		DataPath string `yaml:"data_path"`
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"quiz"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides. A missing
// file is not an error; defaults are used.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	cfg.applyEnv()
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	override(&c.Remote.URL, "QUIZ_REMOTE_URL")
	override(&c.Remote.Key, "QUIZ_REMOTE_KEY")
	override(&c.Local.Dir, "QUIZ_LOCAL_DIR")
	override(&c.Server.Port, "PORT")
	override(&c.Log.Level, "LOG_LEVEL")
}

func override(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// RemoteConfig is the connection descriptor for the remote adapter.
func (c Config) RemoteConfig() remote.Config {
	return remote.Config{URL: c.Remote.URL, Key: c.Remote.Key, KeyPrefix: c.Remote.KeyPrefix}
}

func (c Config) PollInterval() time.Duration {
	return Duration(c.Sync.PollInterval, DefaultPollInterval)
}

func (c Config) CacheTTL() time.Duration {
	return Duration(c.Quiz.CacheTTL, DefaultCacheTTL)
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
