package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framecap/internal/media"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Capture: CaptureConfig{
			Store:          StoreMemory,
			SessionTTL:     time.Hour,
			DefaultFPS:     30,
			MaxPictures:    100,
			KeyPrefix:      "framecap:sessions:",
			AllowedUploads: media.DefaultUploads,
		},
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid server port",
			modify:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: true,
			errMsg:  "invalid HTTP port",
		},
		{
			name: "http3 cert files not found",
			modify: func(c *Config) {
				c.Server.EnableHTTP3 = true
				c.Server.HTTP3Port = 8443
				c.Server.TLSCertFile = "/nonexistent/cert.pem"
				c.Server.TLSKeyFile = "/nonexistent/key.pem"
			},
			wantErr: true,
			errMsg:  "TLS certificate file not found",
		},
		{
			name: "redis store without redis",
			modify: func(c *Config) {
				c.Capture.Store = StoreRedis
			},
			wantErr: true,
			errMsg:  "requires redis to be enabled",
		},
		{
			name: "redis store with redis",
			modify: func(c *Config) {
				c.Capture.Store = StoreRedis
				c.Redis = RedisConfig{
					Enabled:   true,
					Addresses: []string{"localhost:6379"},
					PoolSize:  10,
				}
			},
			wantErr: false,
		},
		{
			name:    "metrics port collides with http port",
			modify:  func(c *Config) { c.Metrics.Port = 8080 },
			wantErr: true,
			errMsg:  "conflicts with http_port",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000

logging:
  level: "debug"
  format: "text"

capture:
  default_fps: 29.97
  session_ttl: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 29.97, cfg.Capture.DefaultFPS)
	assert.Equal(t, 30*time.Minute, cfg.Capture.SessionTTL)
	assert.Equal(t, StoreMemory, cfg.Capture.Store)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Server.RateLimit.Enabled)

	require.Len(t, cfg.Capture.AllowedUploads, 2)
	assert.Equal(t, "video/mp4", cfg.Capture.AllowedUploads[0].ContentType)
	assert.Equal(t, []string{"webm"}, cfg.Capture.AllowedUploads[1].Exts)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"
`)
	t.Setenv("FRAMECAP_SERVER_HTTP_PORT", "7070")
	t.Setenv("FRAMECAP_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `
capture:
  store: "redis"
`)

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
	assert.Nil(t, cfg)
}
