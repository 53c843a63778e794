package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`

	// Services maps a service tag to its per-unit-hour price in display
	// currency units.
	Services map[string]int64 `yaml:"services"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type StorageConfig struct {
	// Path is the sqlite file backing the local key-value store.
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RemoteConfig struct {
	BaseURL    string  `yaml:"base_url"`
	APIKey     string  `yaml:"api_key"`
	Collection string  `yaml:"collection"`
	WriteRPS   float64 `yaml:"write_rps"`
	WriteBurst int     `yaml:"write_burst"`
}

type SyncConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	DrainDebounce time.Duration `yaml:"drain_debounce"`
	InterOpDelay  time.Duration `yaml:"inter_op_delay"`
	ProbeURL      string        `yaml:"probe_url"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	SaveTimeout   time.Duration `yaml:"save_timeout"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Extra string `yaml:"extra"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment wins over file values via ExpandEnv.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max_retries must not be negative, got %d", c.Sync.MaxRetries)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "aquasync"
	}
	if c.Remote.Collection == "" {
		c.Remote.Collection = "bookings"
	}
	if c.Remote.WriteRPS == 0 {
		c.Remote.WriteRPS = 5
	}
	if c.Remote.WriteBurst == 0 {
		c.Remote.WriteBurst = 3
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.DrainDebounce == 0 {
		c.Sync.DrainDebounce = time.Second
	}
	if c.Sync.InterOpDelay == 0 {
		c.Sync.InterOpDelay = 500 * time.Millisecond
	}
	if c.Sync.ProbeURL == "" {
		c.Sync.ProbeURL = c.Remote.BaseURL
	}
	if c.Sync.ProbeTimeout == 0 {
		c.Sync.ProbeTimeout = 3 * time.Second
	}
	if c.Sync.SaveTimeout == 0 {
		c.Sync.SaveTimeout = 8 * time.Second
	}
	if c.Sync.VerifyTimeout == 0 {
		c.Sync.VerifyTimeout = 5 * time.Second
	}
	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if len(c.Services) == 0 {
		c.Services = map[string]int64{
			"jetski":      120,
			"kayak":       40,
			"paddleboard": 35,
			"speedboat":   200,
		}
	}
}
