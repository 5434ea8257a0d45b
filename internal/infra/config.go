package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Values may be overridden by
// environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	City struct {
		Name string `yaml:"name"`
	} `yaml:"city"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Scheduler struct {
		Enabled        bool   `yaml:"enabled"`
		ProductionCron string `yaml:"production_cron"`
		DecayCron      string `yaml:"decay_cron"`
	} `yaml:"scheduler"`

	Avatars struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url"`
		Dir     string `yaml:"dir"`
	} `yaml:"avatars"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies env
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.City.Name == "" {
		return fmt.Errorf("city name is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.ProductionCron == "" || c.Scheduler.DecayCron == "" {
			return fmt.Errorf("scheduler cron specs are required when the scheduler is enabled")
		}
	}
	if c.Avatars.Enabled && c.Avatars.BaseURL == "" {
		return fmt.Errorf("avatar base URL is required when avatars are enabled")
	}
	return nil
}

// overrideWithEnv applies environment overrides for deploy-specific values.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("CITY_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("CITY_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if level := os.Getenv("CITY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
