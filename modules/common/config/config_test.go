package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "GEMINI_API_KEY", "GEMINI_MODEL_STANDARD", "GEMINI_MODEL_PRO",
	"GEMINI_PRO_IMAGE_SIZE", "GEMINI_BASE_URL", "GEMINI_MAX_ATTEMPTS", "GEMINI_RETRY_BASE_DELAY",
	"REDIS_HOST", "REDIS_PORT", "REDIS_USERNAME", "REDIS_PASSWORD", "REDIS_USE_TLS", "INFLIGHT_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.GeminiAPIKey)
	assert.Equal(t, DefaultStandardModel, cfg.GeminiStandardModel)
	assert.Equal(t, DefaultProModel, cfg.GeminiProModel)
	assert.Equal(t, "2K", cfg.GeminiProImageSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 3*time.Minute, cfg.InflightTTL)
	assert.False(t, cfg.RedisEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "server-key")
	t.Setenv("GEMINI_MAX_ATTEMPTS", "5")
	t.Setenv("GEMINI_RETRY_BASE_DELAY", "250ms")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_USE_TLS", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "server-key", cfg.GeminiAPIKey)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.RedisUseTLS)
	assert.Equal(t, "cache.internal:6379", cfg.GetRedisAddr())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{"non_numeric_attempts", "GEMINI_MAX_ATTEMPTS", "three", "GEMINI_MAX_ATTEMPTS must be an integer"},
		{"zero_attempts", "GEMINI_MAX_ATTEMPTS", "0", "must be at least 1"},
		{"bad_delay", "GEMINI_RETRY_BASE_DELAY", "10", "GEMINI_RETRY_BASE_DELAY must be a duration"},
		{"negative_delay", "GEMINI_RETRY_BASE_DELAY", "-1s", "must be positive"},
		{"zero_delay", "GEMINI_RETRY_BASE_DELAY", "0s", "must be positive"},
		{"bad_tls", "REDIS_USE_TLS", "sometimes", "REDIS_USE_TLS must be a boolean"},
		{"zero_ttl", "INFLIGHT_TTL", "0s", "INFLIGHT_TTL must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := FromEnv()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
