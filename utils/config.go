package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig
	HN      HNConfig
	Server  ServerConfig
	Cache   CacheConfig
	Content ContentConfig
	Publish PublishConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// HNConfig holds Hacker News API configuration
type HNConfig struct {
	BaseURL              string
	RequestTimeout       time.Duration
	MaxRequestsPerSecond int // 0 disables outbound rate limiting
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                 int
	RouterPath           string
	UseCors              bool
	MaxRequestsPerMinute int // per client IP
}

// CacheConfig holds the Cache-Control values sent with every response, in seconds
type CacheConfig struct {
	BrowserExpiry        int
	CDNExpiry            int
	StaleWhileRevalidate int
}

// ContentConfig holds item content options
type ContentConfig struct {
	Sanitize bool
}

// PublishConfig holds snapshot publisher configuration
type PublishConfig struct {
	Enabled      bool
	Dest         string
	Interval     int // seconds
	DatabasePath string
}

// LoadConfig loads configuration from a .env file and the environment.
// A missing .env file is not an error; values then come from the environment.
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.WithField("file", envPath).Warn("No .env file found, using environment only")
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "HNPWA Feed"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		HN: HNConfig{
			BaseURL:              getEnv("HN_BASE_URL", "https://hacker-news.firebaseio.com/v0"),
			RequestTimeout:       getEnvAsDuration("HN_REQUEST_TIMEOUT", 30*time.Second),
			MaxRequestsPerSecond: getEnvAsInt("HN_MAX_REQUESTS_PER_SECOND", 0),
		},
		Server: ServerConfig{
			Port:                 getEnvAsInt("SERVER_PORT", 3002),
			RouterPath:           normalizeRouterPath(getEnv("SERVER_ROUTER_PATH", "")),
			UseCors:              getEnvAsBool("SERVER_USE_CORS", false),
			MaxRequestsPerMinute: getEnvAsInt("SERVER_MAX_REQUESTS_PER_MINUTE", 600),
		},
		Cache: CacheConfig{
			BrowserExpiry:        getEnvAsInt("CACHE_BROWSER_EXPIRY", 300),
			CDNExpiry:            getEnvAsInt("CACHE_CDN_EXPIRY", 600),
			StaleWhileRevalidate: getEnvAsInt("CACHE_STALE_WHILE_REVALIDATE", 120),
		},
		Content: ContentConfig{
			Sanitize: getEnvAsBool("CONTENT_SANITIZE", false),
		},
		Publish: PublishConfig{
			Enabled:      getEnvAsBool("PUBLISH_ENABLED", false),
			Dest:         getEnv("PUBLISH_DEST", "./dist/v0"),
			Interval:     getEnvAsInt("PUBLISH_INTERVAL", 300),
			DatabasePath: getEnv("PUBLISH_DB_PATH", "./data/publish.db"),
		},
	}

	// validation
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// normalizeRouterPath turns "api/" or "/api/" into "/api"
func normalizeRouterPath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}
	return "/" + path
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts a Go duration ("10s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.HN.BaseURL == "" {
		return fmt.Errorf("HN_BASE_URL environment variable is required")
	}
	if config.HN.RequestTimeout <= 0 {
		return fmt.Errorf("HN_REQUEST_TIMEOUT must be positive")
	}
	if config.HN.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("HN_MAX_REQUESTS_PER_SECOND must not be negative")
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if config.Server.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("SERVER_MAX_REQUESTS_PER_MINUTE must be positive")
	}
	if config.Cache.BrowserExpiry < 0 || config.Cache.CDNExpiry < 0 || config.Cache.StaleWhileRevalidate < 0 {
		return fmt.Errorf("CACHE_* values must not be negative")
	}

	if config.Publish.Enabled {
		if config.Publish.Dest == "" {
			return fmt.Errorf("PUBLISH_DEST environment variable is required when publishing")
		}
		if config.Publish.Interval < 1 {
			return fmt.Errorf("PUBLISH_INTERVAL must be positive")
		}
	}

	return nil
}
