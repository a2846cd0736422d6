package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/bucketing"
	"admin-auth-service/internal/config"
	"admin-auth-service/internal/credential"
	"admin-auth-service/internal/encryption"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/ratelimit"
	"admin-auth-service/internal/repository/memory"
	"admin-auth-service/internal/service"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/totp"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct horse battery"

type testServer struct {
	router   chi.Router
	accounts *memory.AccountStore
	engine   *totp.Engine
	sink     *audit.MemorySink
	audit    *audit.Logger
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	store := memory.NewStore(bucketing.NewManager(4))
	hasher := hashing.NewHasher(bcrypt.MinCost)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	accounts := memory.NewAccountStore(
		&models.AdminAccount{AdminID: "a1", Email: "admin@example.com", PasswordHash: hash, Role: models.RoleAdmin, IsActive: true},
	)
	secrets, err := encryption.NewManager(nil, "")
	require.NoError(t, err)
	engine := totp.NewEngine("AutoMarket Admin")
	sink := audit.NewMemorySink()
	auditLog := audit.NewLogger(time.Second, sink)
	t.Cleanup(func() { _ = auditLog.Close(context.Background()) })

	svc := service.NewAdminAuthService(service.Deps{
		Verifier: credential.NewVerifier(accounts, hasher),
		LoginLimiter: ratelimit.NewLimiter(ratelimit.Policy{
			Name: service.ScopeLogin, MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute,
		}, store),
		MFALimiter: ratelimit.NewLimiter(ratelimit.Policy{
			Name: service.ScopeMFA, MaxAttempts: 3, Window: 15 * time.Minute,
		}, store),
		Sessions: session.NewManager(store, 24*time.Hour),
		TOTP:     engine,
		Secrets:  secrets,
		Audit:    auditLog,
	})

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{AllowedOrigins: []string{"https://admin.example.com"}},
		Auth: config.AuthConfig{
			SessionCookieName: "admin_session",
			GenericCookieName: "session",
			SessionTTL:        24 * time.Hour,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	h := NewAdminHandler(svc, NewCookieAdapter(cfg), zap.NewNop())
	return &testServer{
		router:   NewRouter(h, nil, cfg, zap.NewNop()),
		accounts: accounts,
		engine:   engine,
		sink:     sink,
		audit:    auditLog,
	}
}

func (s *testServer) actions() []string {
	s.audit.Flush()
	return s.sink.Actions()
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "admin_session" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no admin_session cookie issued")
	return nil
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAdminHandler_EnrollmentFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", loginRequest{Email: "admin@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookie := sessionCookie(t, w)
	data := decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, "pending_enrollment", data["stage"])
	assert.NotContains(t, w.Body.String(), "pending_mfa_secret")

	w = s.do(t, http.MethodGet, "/api/v1/admin/auth/session", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "mfa_required", decodeResponse(t, w).Error)

	w = s.do(t, http.MethodPost, "/api/v1/admin/auth/mfa/enroll", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var enrollResp struct {
		Data service.Enrollment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &enrollResp))
	require.NotEmpty(t, enrollResp.Data.Secret)
	assert.Contains(t, enrollResp.Data.URI, "otpauth://totp/")

	code, err := s.engine.GenerateCode(enrollResp.Data.Secret, time.Now())
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/admin/auth/mfa/enroll/verify", codeRequest{Code: code}, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/admin/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data = decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, "authenticated", data["stage"])
	assert.Equal(t, "a1", data["admin_id"])

	w = s.do(t, http.MethodPost, "/api/v1/admin/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		cleared[c.Name] = c.MaxAge < 0
	}
	assert.Equal(t, map[string]bool{"admin_session": true, "session": true}, cleared)

	w = s.do(t, http.MethodGet, "/api/v1/admin/auth/session", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session_invalid", decodeResponse(t, w).Error)

	assert.Equal(t, []string{
		audit.ActionLoginSuccess,
		audit.ActionMFAEnrollmentStarted,
		audit.ActionMFAEnrolled,
		audit.ActionLogout,
	}, s.actions())
}

func TestAdminHandler_LoginFailuresAreUniform(t *testing.T) {
	s := newTestServer(t)

	wrongPassword := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", loginRequest{Email: "admin@example.com", Password: "nope"})
	unknown := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", loginRequest{Email: "ghost@example.com", Password: "nope"})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknown.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknown.Body.String())
	assert.Empty(t, wrongPassword.Result().Cookies())
}

func TestAdminHandler_LoginLockout(t *testing.T) {
	s := newTestServer(t)
	bad := loginRequest{Email: "admin@example.com", Password: "wrong"}

	for i := 0; i < 5; i++ {
		w := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", bad)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", loginRequest{Email: "admin@example.com", Password: testPassword})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	resp := decodeResponse(t, w)
	assert.Equal(t, "rate_limited", resp.Error)
	assert.NotNil(t, resp.Data.(map[string]interface{})["locked_until"])
}

func TestAdminHandler_ForwardedHeadersIgnoredByDefault(t *testing.T) {
	attempt := func(s *testServer, i int) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(loginRequest{
			Email:    fmt.Sprintf("ghost%d@example.com", i),
			Password: "wrong",
		}))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/auth/login", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	t.Run("should key the limiter on the peer address", func(t *testing.T) {
		s := newTestServer(t)
		for i := 0; i < 5; i++ {
			require.Equal(t, http.StatusUnauthorized, attempt(s, i).Code)
		}
		assert.Equal(t, http.StatusTooManyRequests, attempt(s, 5).Code)
	})

	t.Run("should honor forwarded headers behind a trusted proxy", func(t *testing.T) {
		s := newTestServer(t, func(cfg *config.Config) { cfg.Server.TrustProxyHeaders = true })
		for i := 0; i < 6; i++ {
			assert.Equal(t, http.StatusUnauthorized, attempt(s, i).Code)
		}
	})
}

func TestAdminHandler_MFAChallengeRequiresEnrollment(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", loginRequest{Email: "admin@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)

	w = s.do(t, http.MethodPost, "/api/v1/admin/auth/mfa/verify", codeRequest{Code: "123456"}, cookie)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/auth/mfa/enroll/verify", codeRequest{Code: "123456"}, cookie)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminHandler_Errors(t *testing.T) {
	s := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/auth/login", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing cookie", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/admin/auth/mfa/enroll", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("logout without a session", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/admin/auth/logout", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("account store down", func(t *testing.T) {
		s.accounts.FailWith(errors.New("connection reset"))
		defer s.accounts.FailWith(nil)
		w := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", loginRequest{Email: "admin@example.com", Password: testPassword})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

type fakeHealth map[string]error

func (f fakeHealth) HealthCheck(context.Context) map[string]error { return f }

func TestRouter_Health(t *testing.T) {
	cfg := &config.Config{Environment: "test"}
	h := NewAdminHandler(nil, NewCookieAdapter(cfg), zap.NewNop())

	w := httptest.NewRecorder()
	NewRouter(h, fakeHealth{}, cfg, zap.NewNop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = httptest.NewRecorder()
	down := fakeHealth{"redis": errors.New("dial tcp: refused")}
	NewRouter(h, down, cfg, zap.NewNop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "refused")
}

func TestRouter_RequireHTTPSInProduction(t *testing.T) {
	cfg := &config.Config{Environment: "production", Server: config.ServerConfig{EnableTLS: true}}
	h := NewAdminHandler(nil, NewCookieAdapter(cfg), zap.NewNop())

	w := httptest.NewRecorder()
	NewRouter(h, fakeHealth{}, cfg, zap.NewNop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://admin.example.com/health", nil))
	assert.Equal(t, http.StatusUpgradeRequired, w.Code)
}
