package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.Auth.LoginLimit.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LoginLimit.Window)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LoginLimit.Lockout)
	assert.Equal(t, 3, cfg.Auth.MFALimit.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.MFALimit.Window)
	assert.Zero(t, cfg.Auth.MFALimit.Lockout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "admin_session", cfg.Auth.SessionCookieName)
	assert.Equal(t, "session", cfg.Auth.GenericCookieName)
	assert.False(t, cfg.Server.TrustProxyHeaders)
	assert.Equal(t, 1024, cfg.Audit.QueueSize)
	assert.True(t, cfg.IsDevelopment())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_LOGIN_MAX_ATTEMPTS", "7")
	t.Setenv("AUTH_MFA_WINDOW", "5m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("AUTH_STORE_BACKEND", "redis")
	t.Setenv("SERVER_TRUST_PROXY_HEADERS", "true")

	cfg := LoadConfig()

	assert.Equal(t, 7, cfg.Auth.LoginLimit.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Auth.MFALimit.Window)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, BackendRedis, cfg.Auth.StoreBackend)
	assert.True(t, cfg.Server.TrustProxyHeaders)
	assert.Same(t, cfg, Get())
}

func TestValidate(t *testing.T) {
	t.Run("should reject non-positive limits", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.Auth.MFALimit.MaxAttempts = 0

		assert.ErrorContains(t, cfg.Validate(), "mfa limit")
	})

	t.Run("should reject unknown backends", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.Auth.StoreBackend = "memcached"

		assert.ErrorContains(t, cfg.Validate(), "memcached")
	})

	t.Run("should reject memory accounts in production", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.Environment = "production"
		cfg.Auth.AccountBackend = BackendMemory

		assert.ErrorContains(t, cfg.Validate(), "production")
	})

	t.Run("should require a key id when KMS is on", func(t *testing.T) {
		cfg := LoadConfig()
		cfg.KMS.Enabled = true

		assert.ErrorContains(t, cfg.Validate(), "KMS_KEY_ID")
	})
}
