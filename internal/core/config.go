package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snaplate/snaplate/internal/history"
)

const (
	defaultPort           = 8080
	defaultThumbnailWidth = 320
	defaultTimeoutSeconds = 60
)

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type HistoryConfig struct {
	Backend string       `yaml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
}

type RecognizerConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type ServiceConfig struct {
	Port           int              `yaml:"port"`
	History        HistoryConfig    `yaml:"history"`
	Recognizer     RecognizerConfig `yaml:"recognizer"`
	ThumbnailWidth int              `yaml:"thumbnailWidth"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ThumbnailWidth == 0 {
		c.ThumbnailWidth = defaultThumbnailWidth
	}
	if c.Recognizer.TimeoutSeconds == 0 {
		c.Recognizer.TimeoutSeconds = defaultTimeoutSeconds
	}
}

// validateConfig ensures the configuration can actually start a service
func validateConfig(config *ServiceConfig) error {
	switch config.History.Backend {
	case "", history.BackendSQLite:
		// sqlite is the default and needs no connection settings
	case history.BackendRedis:
		if config.History.Redis.Addr == "" {
			return fmt.Errorf("history backend %q requires redis addr", history.BackendRedis)
		}
	default:
		return fmt.Errorf("unknown history backend: %s", config.History.Backend)
	}

	if config.Recognizer.BaseURL == "" {
		return fmt.Errorf("recognizer baseUrl is required")
	}
	if config.Recognizer.TimeoutSeconds < 0 {
		return fmt.Errorf("recognizer timeoutSeconds must not be negative, got %d", config.Recognizer.TimeoutSeconds)
	}
	if config.ThumbnailWidth < 0 {
		return fmt.Errorf("thumbnailWidth must not be negative, got %d", config.ThumbnailWidth)
	}

	return nil
}
