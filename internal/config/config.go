package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr         string        `yaml:"listen_addr"`
	DBPath             string        `yaml:"db_path"`
	LogLevel           string        `yaml:"log_level"`
	LogFile            string        `yaml:"log_file"`
	AuthProvider       string        `yaml:"auth_provider"`
	GoogleClientID     string        `yaml:"google_client_id"`
	GoogleClientSecret string        `yaml:"google_client_secret"`
	GoogleRedirectURL  string        `yaml:"google_redirect_url"`
	SessionCapacity    int           `yaml:"session_capacity"`
	WatchInterval      time.Duration `yaml:"watch_interval"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:      ":8080",
		DBPath:          "/data/invtrack.db",
		LogLevel:        "info",
		AuthProvider:    "dev",
		SessionCapacity: 256,
		WatchInterval:   2 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.AuthProvider = getEnv("AUTH_PROVIDER", c.AuthProvider)
	c.GoogleClientID = getEnv("GOOGLE_CLIENT_ID", c.GoogleClientID)
	c.GoogleClientSecret = getEnv("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
	c.GoogleRedirectURL = getEnv("GOOGLE_REDIRECT_URL", c.GoogleRedirectURL)

	var result *multierror.Error
	if v, ok := os.LookupEnv("SESSION_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("SESSION_CAPACITY: %w", err))
		} else {
			c.SessionCapacity = n
		}
	}
	if v, ok := os.LookupEnv("WATCH_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("WATCH_INTERVAL: %w", err))
		} else {
			c.WatchInterval = d
		}
	}
	return result.ErrorOrNil()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.ListenAddr == "" {
		result = multierror.Append(result, errors.New("listen address is required"))
	}
	if c.DBPath == "" {
		result = multierror.Append(result, errors.New("database path is required"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.AuthProvider {
	case "dev":
	case "google":
		if c.GoogleClientID == "" {
			result = multierror.Append(result, errors.New("GOOGLE_CLIENT_ID is required when AUTH_PROVIDER=google"))
		}
		if c.GoogleClientSecret == "" {
			result = multierror.Append(result, errors.New("GOOGLE_CLIENT_SECRET is required when AUTH_PROVIDER=google"))
		}
		if c.GoogleRedirectURL == "" {
			result = multierror.Append(result, errors.New("GOOGLE_REDIRECT_URL is required when AUTH_PROVIDER=google"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown auth provider %q", c.AuthProvider))
	}
	if c.SessionCapacity < 1 {
		result = multierror.Append(result, fmt.Errorf("session capacity must be at least 1, got %d", c.SessionCapacity))
	}
	if c.WatchInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("watch interval must be positive, got %s", c.WatchInterval))
	}
	return result.ErrorOrNil()
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}
