package factory

import (
	"context"
	"testing"
	"time"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := hashing.NewHasher(bcrypt.MinCost).Hash("bootstrap-password")
	require.NoError(t, err)
	return &config.Config{
		Environment: "test",
		Auth: config.AuthConfig{
			StoreBackend:               config.BackendMemory,
			AccountBackend:             config.BackendMemory,
			LoginLimit:                 config.LimitConfig{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
			MFALimit:                   config.LimitConfig{MaxAttempts: 3, Window: 15 * time.Minute},
			SessionTTL:                 24 * time.Hour,
			TOTPIssuer:                 "AutoMarket Admin",
			BootstrapAdminEmail:        "Root@Example.com",
			BootstrapAdminPasswordHash: hash,
		},
		Audit: config.AuditConfig{SinkTimeout: time.Second},
	}
}

func TestNewFactory_MemoryBackends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f, err := NewFactory(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer f.Close()

	assert.Empty(t, f.HealthCheck(ctx))
	assert.True(t, f.IsHealthy(ctx))
	assert.Nil(t, f.TLSManager())

	svc := f.ServiceFactory().AdminAuthService()
	assert.Same(t, svc, f.ServiceFactory().AdminAuthService())

	res, err := svc.Login(ctx, service.LoginRequest{Email: "root@example.com", Password: "bootstrap-password"})
	require.NoError(t, err)
	assert.False(t, res.Session.MFAVerified)
}

func TestNewFactory_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Auth.StoreBackend = "etcd"
	_, err := NewFactory(context.Background(), cfg)
	assert.Error(t, err)
}
