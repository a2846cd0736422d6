package service

import (
	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/config"
	"admin-auth-service/internal/credential"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/ratelimit"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/totp"
)

// ServiceFactory assembles the admin auth service from its backends.
type ServiceFactory struct {
	config   *config.Config
	store    repository.Store
	accounts credential.AccountStore
	hasher   *hashing.Hasher
	secrets  SecretSealer
	audit    *audit.Logger

	adminAuthService *AdminAuthService
}

func NewServiceFactory(
	cfg *config.Config,
	store repository.Store,
	accounts credential.AccountStore,
	hasher *hashing.Hasher,
	secrets SecretSealer,
	auditLogger *audit.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		config:   cfg,
		store:    store,
		accounts: accounts,
		hasher:   hasher,
		secrets:  secrets,
		audit:    auditLogger,
	}
}

// AdminAuthService returns the service instance (singleton).
func (f *ServiceFactory) AdminAuthService() *AdminAuthService {
	if f.adminAuthService == nil {
		auth := f.config.Auth
		f.adminAuthService = NewAdminAuthService(Deps{
			Verifier:     credential.NewVerifier(f.accounts, f.hasher),
			LoginLimiter: ratelimit.NewLimiter(ratelimit.PolicyFromConfig(ScopeLogin, auth.LoginLimit), f.store),
			MFALimiter:   ratelimit.NewLimiter(ratelimit.PolicyFromConfig(ScopeMFA, auth.MFALimit), f.store),
			Sessions:     session.NewManager(f.store, auth.SessionTTL),
			TOTP:         totp.NewEngine(auth.TOTPIssuer),
			QR:           totp.NewPNGRenderer(200),
			Secrets:      f.secrets,
			Audit:        f.audit,
		})
	}
	return f.adminAuthService
}
