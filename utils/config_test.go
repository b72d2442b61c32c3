package utils

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEnvPath = "./test.env"

func cleanup() {
	os.Remove(testEnvPath)
}

// TestMain handles test setup and cleanup for all tests in this package
func TestMain(m *testing.M) {
	exitCode := m.Run()

	cleanup()

	os.Exit(exitCode)
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func validConfig() *Config {
	return &Config{
		HN: HNConfig{
			BaseURL:        "https://hacker-news.firebaseio.com/v0",
			RequestTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port:                 3002,
			MaxRequestsPerMinute: 600,
		},
		Publish: PublishConfig{
			Enabled:  true,
			Dest:     "./dist/v0",
			Interval: 300,
		},
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "test-value")

	value := getEnv("TEST_ENV_VAR", "default-value")
	assert.Equal(t, "test-value", value)

	value = getEnv("NON_EXISTENT_VAR", "default-value")
	assert.Equal(t, "default-value", value)
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "42")
	assert.Equal(t, 42, getEnvAsInt("TEST_INT_VAR", 10))

	t.Setenv("TEST_INVALID_INT_VAR", "not-an-int")
	assert.Equal(t, 10, getEnvAsInt("TEST_INVALID_INT_VAR", 10))

	assert.Equal(t, 10, getEnvAsInt("NON_EXISTENT_VAR", 10))
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL_VAR", "true")
	assert.True(t, getEnvAsBool("TEST_BOOL_VAR", false))

	t.Setenv("TEST_BOOL_VAR", "0")
	assert.False(t, getEnvAsBool("TEST_BOOL_VAR", true))

	t.Setenv("TEST_BOOL_VAR", "maybe")
	assert.True(t, getEnvAsBool("TEST_BOOL_VAR", true))
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "Go duration", value: "1m30s", expected: 90 * time.Second},
		{name: "Bare seconds", value: "15", expected: 15 * time.Second},
		{name: "Invalid", value: "soon", expected: 5 * time.Second},
		{name: "Empty", value: "", expected: 5 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION_VAR", tc.value)
			assert.Equal(t, tc.expected, getEnvAsDuration("TEST_DURATION_VAR", 5*time.Second))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, validateConfig(validConfig()))

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{name: "Missing base url", mutate: func(c *Config) { c.HN.BaseURL = "" }, key: "HN_BASE_URL"},
		{name: "Zero timeout", mutate: func(c *Config) { c.HN.RequestTimeout = 0 }, key: "HN_REQUEST_TIMEOUT"},
		{name: "Negative upstream rate", mutate: func(c *Config) { c.HN.MaxRequestsPerSecond = -1 }, key: "HN_MAX_REQUESTS_PER_SECOND"},
		{name: "Port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, key: "SERVER_PORT"},
		{name: "No inbound rate", mutate: func(c *Config) { c.Server.MaxRequestsPerMinute = 0 }, key: "SERVER_MAX_REQUESTS_PER_MINUTE"},
		{name: "Negative cache expiry", mutate: func(c *Config) { c.Cache.CDNExpiry = -1 }, key: "CACHE_"},
		{name: "Missing publish dest", mutate: func(c *Config) { c.Publish.Dest = "" }, key: "PUBLISH_DEST"},
		{name: "Bad publish interval", mutate: func(c *Config) { c.Publish.Interval = 0 }, key: "PUBLISH_INTERVAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(config)
			err := validateConfig(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.key)
		})
	}

	// publish settings are only checked when publishing
	config := validConfig()
	config.Publish = PublishConfig{Enabled: false}
	assert.NoError(t, validateConfig(config))
}

func TestNormalizeRouterPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "", expected: ""},
		{input: "/", expected: ""},
		{input: "api", expected: "/api"},
		{input: "/api/", expected: "/api"},
		{input: " /v0/hn ", expected: "/v0/hn"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, normalizeRouterPath(tc.input))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	content := "HN_BASE_URL=http://localhost:9999/v0\nSERVER_PORT=4000\nSERVER_ROUTER_PATH=api/\nCONTENT_SANITIZE=true\nPUBLISH_INTERVAL=60\n"
	require.NoError(t, os.WriteFile(testEnvPath, []byte(content), 0644))
	t.Cleanup(func() {
		for _, key := range []string{"HN_BASE_URL", "SERVER_PORT", "SERVER_ROUTER_PATH", "CONTENT_SANITIZE", "PUBLISH_INTERVAL"} {
			os.Unsetenv(key)
		}
	})

	config, err := LoadConfig(testEnvPath, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/v0", config.HN.BaseURL)
	assert.Equal(t, 4000, config.Server.Port)
	assert.Equal(t, "/api", config.Server.RouterPath)
	assert.True(t, config.Content.Sanitize)
	assert.Equal(t, 60, config.Publish.Interval)
	assert.Equal(t, 300, config.Cache.BrowserExpiry)
	assert.Equal(t, 600, config.Cache.CDNExpiry)
	assert.Equal(t, 30*time.Second, config.HN.RequestTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig("./does-not-exist.env", newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://hacker-news.firebaseio.com/v0", config.HN.BaseURL)
	assert.Equal(t, 3002, config.Server.Port)
	assert.False(t, config.Publish.Enabled)
}
