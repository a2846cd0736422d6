package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"admin-auth-service/internal/models"
	"admin-auth-service/internal/service"
	"admin-auth-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// AdminHandler exposes the admin login and MFA flows over HTTP.
type AdminHandler struct {
	auth    *service.AdminAuthService
	cookies *CookieAdapter
	logger  *zap.Logger
	now     func() time.Time
}

func NewAdminHandler(auth *service.AdminAuthService, cookies *CookieAdapter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		auth:    auth,
		cookies: cookies,
		logger:  logger,
		now:     time.Now,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(publicErr, message string) Response {
	return Response{
		Success: false,
		Error:   publicErr,
		Message: message,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// sessionView is the client-facing part of a session.
type sessionView struct {
	AdminID               string           `json:"admin_id"`
	Email                 string           `json:"email"`
	Role                  models.AdminRole `json:"role"`
	Stage                 string           `json:"stage"`
	MFAVerified           bool             `json:"mfa_verified"`
	MFAEnrolled           bool             `json:"mfa_enrolled"`
	RequiresPasswordReset bool             `json:"requires_password_reset"`
	ExpiresAt             time.Time        `json:"expires_at"`
}

func viewOf(s *models.AdminSession) sessionView {
	return sessionView{
		AdminID:               s.AdminID,
		Email:                 s.Email,
		Role:                  s.Role,
		Stage:                 string(s.Stage()),
		MFAVerified:           s.MFAVerified,
		MFAEnrolled:           s.MFAEnrolled,
		RequiresPasswordReset: s.RequiresPasswordReset,
		ExpiresAt:             s.ExpiresAt,
	}
}

// RegisterRoutes registers the admin auth routes
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Route("/mfa", func(r chi.Router) {
			r.Post("/enroll", h.BeginEnrollment)
			r.Post("/enroll/verify", h.CompleteEnrollment)
			r.Post("/verify", h.VerifyMFA)
		})

		r.With(h.RequireAdmin).Get("/session", h.GetSession)
	})
}

// Login handles POST /admin/auth/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid_request", "Email and password are required"))
		return
	}

	res, err := h.auth.Login(r.Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: clientIP(r),
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.cookies.Issue(w, r, res.Session.SessionID)
	h.respondWithJSON(w, http.StatusOK, successResponse(viewOf(res.Session), "Credentials verified"))
	h.logger.Info("Admin login via HTTP",
		util.String("admin_id", res.Session.AdminID),
		util.String("stage", string(res.Stage)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// BeginEnrollment handles POST /admin/auth/mfa/enroll
func (h *AdminHandler) BeginEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.auth.BeginEnrollment(r.Context(), h.cookies.Read(r))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(enrollment, "Scan the code with an authenticator app"))
}

// CompleteEnrollment handles POST /admin/auth/mfa/enroll/verify
func (h *AdminHandler) CompleteEnrollment(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.auth.CompleteEnrollment(r.Context(), h.cookies.Read(r), req.Code)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.cookies.Issue(w, r, sess.SessionID)
	h.respondWithJSON(w, http.StatusOK, successResponse(viewOf(sess), "MFA enrolled"))
}

// VerifyMFA handles POST /admin/auth/mfa/verify
func (h *AdminHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.auth.VerifyMFA(r.Context(), h.cookies.Read(r), req.Code)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.cookies.Issue(w, r, sess.SessionID)
	h.respondWithJSON(w, http.StatusOK, successResponse(viewOf(sess), "MFA verified"))
}

// Logout handles POST /admin/auth/logout. Cookies are cleared even when
// the session is already gone.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sid := h.cookies.Read(r); sid != "" {
		if err := h.auth.Logout(r.Context(), sid); err != nil {
			h.respondWithError(w, r, err)
			return
		}
	}
	h.cookies.Clear(w, r)
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// GetSession handles GET /admin/auth/session
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondWithError(w, r, service.ErrSessionNotFound)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(viewOf(sess), ""))
}

type sessionContextKey struct{}

// SessionFromContext returns the session RequireAdmin attached.
func SessionFromContext(ctx context.Context) (*models.AdminSession, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*models.AdminSession)
	return sess, ok && sess != nil
}

// RequireAdmin admits only fully authenticated admin sessions.
func (h *AdminHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.auth.Authenticate(r.Context(), h.cookies.Read(r))
		if err != nil {
			h.respondWithError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Helper Methods

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid_request", "Invalid request body"))
		return false
	}
	return true
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps service errors to responses that never reveal
// which credential check failed.
func (h *AdminHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := h.classify(err)

	if rl, ok := service.IsRateLimited(err); ok {
		if wait := rl.RetryAfter(h.now()); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
		}
		h.respondWithJSON(w, status, Response{
			Success: false,
			Error:   code,
			Message: message,
			Data:    map[string]interface{}{"scope": rl.Scope, "locked_until": rl.LockedUntil},
		})
		return
	}

	if status == http.StatusUnauthorized && code == "session_invalid" {
		h.cookies.Clear(w, r)
	}
	logFn := h.logger.Warn
	if status >= http.StatusInternalServerError {
		logFn = h.logger.Error
	}
	logFn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", status),
		util.String("path", r.URL.Path),
	)
	h.respondWithJSON(w, status, errorResponse(code, message))
}

func (h *AdminHandler) classify(err error) (int, string, string) {
	if _, ok := service.IsRateLimited(err); ok {
		return http.StatusTooManyRequests, "rate_limited", "Too many attempts, try again later"
	}
	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrAccountNotAdmin):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"
	case errors.Is(err, service.ErrInvalidMFACode):
		return http.StatusUnauthorized, "invalid_code", "Invalid verification code"
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized, "session_invalid", "Sign in again"
	case errors.Is(err, service.ErrMFARequired):
		return http.StatusUnauthorized, "mfa_required", "MFA verification required"
	case errors.Is(err, service.ErrMFANotEnrolled),
		errors.Is(err, service.ErrMFAAlreadyEnrolled),
		errors.Is(err, service.ErrEnrollmentNotStarted):
		return http.StatusConflict, "mfa_state", err.Error()
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}

// clientIP expects middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
