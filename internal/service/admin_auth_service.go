package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/credential"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/ratelimit"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/totp"
	"admin-auth-service/internal/util"
)

// SecretSealer protects MFA secrets at rest.
type SecretSealer interface {
	Seal(ctx context.Context, secret string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

// Deps are the collaborators of AdminAuthService. QR may be nil.
type Deps struct {
	Verifier     *credential.Verifier
	LoginLimiter *ratelimit.Limiter
	MFALimiter   *ratelimit.Limiter
	Sessions     *session.Manager
	TOTP         *totp.Engine
	QR           totp.QRRenderer
	Secrets      SecretSealer
	Audit        *audit.Logger
}

// AdminAuthService runs the admin login state machine: credentials, then
// TOTP enrollment or challenge, then a fully authenticated session.
type AdminAuthService struct {
	verifier     *credential.Verifier
	loginLimiter *ratelimit.Limiter
	mfaLimiter   *ratelimit.Limiter
	sessions     *session.Manager
	totp         *totp.Engine
	qr           totp.QRRenderer
	secrets      SecretSealer
	audit        *audit.Logger
	now          func() time.Time
	log          *zap.Logger
}

func NewAdminAuthService(d Deps) *AdminAuthService {
	return &AdminAuthService{
		verifier:     d.Verifier,
		loginLimiter: d.LoginLimiter,
		mfaLimiter:   d.MFALimiter,
		sessions:     d.Sessions,
		totp:         d.TOTP,
		qr:           d.QR,
		secrets:      d.Secrets,
		audit:        d.Audit,
		now:          time.Now,
		log:          util.Named("admin_auth"),
	}
}

// WithClock replaces the time source used for TOTP checks.
func (s *AdminAuthService) WithClock(now func() time.Time) *AdminAuthService {
	s.now = now
	return s
}

// SessionTTL is the server-side session lifetime.
func (s *AdminAuthService) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

// ---- core operations ----

func (s *AdminAuthService) CheckLoginRateLimit(ctx context.Context, identifier string) (ratelimit.Decision, error) {
	d, err := s.loginLimiter.Check(ctx, identifier)
	return d, storeFailure(err)
}

func (s *AdminAuthService) RecordLoginAttempt(ctx context.Context, identifier string, success bool) error {
	return storeFailure(s.loginLimiter.Record(ctx, identifier, success))
}

func (s *AdminAuthService) CheckMFARateLimit(ctx context.Context, identifier string) (ratelimit.Decision, error) {
	d, err := s.mfaLimiter.Check(ctx, identifier)
	return d, storeFailure(err)
}

func (s *AdminAuthService) RecordMFAAttempt(ctx context.Context, identifier string, success bool) error {
	return storeFailure(s.mfaLimiter.Record(ctx, identifier, success))
}

func (s *AdminAuthService) LookupAdmin(ctx context.Context, email string) (*models.AdminAccount, error) {
	return s.verifier.LookupAdmin(ctx, email)
}

func (s *AdminAuthService) VerifyPassword(account *models.AdminAccount, password string) bool {
	return s.verifier.VerifyPassword(account, password)
}

func (s *AdminAuthService) CreateSession(ctx context.Context, state *models.AdminSession) (*models.AdminSession, error) {
	sess, err := s.sessions.Create(ctx, state)
	return sess, storeFailure(err)
}

func (s *AdminAuthService) ReadSession(ctx context.Context, sessionID string) (*models.AdminSession, error) {
	sess, err := s.sessions.Read(ctx, sessionID)
	if err != nil && !isSessionMiss(err) {
		return nil, storeFailure(err)
	}
	return sess, err
}

func (s *AdminAuthService) UpdateSession(ctx context.Context, sessionID string, patch models.SessionPatch) (*models.AdminSession, error) {
	sess, err := s.sessions.Update(ctx, sessionID, patch)
	if err != nil && !isSessionMiss(err) {
		return nil, storeFailure(err)
	}
	return sess, err
}

func (s *AdminAuthService) ClearSession(ctx context.Context, sessionID string) error {
	return storeFailure(s.sessions.Destroy(ctx, sessionID))
}

func (s *AdminAuthService) GenerateSecret() (string, error) {
	return s.totp.GenerateSecret()
}

func (s *AdminAuthService) BuildEnrollmentURI(secret, accountLabel string) (string, error) {
	return s.totp.BuildEnrollmentURI(secret, accountLabel)
}

func (s *AdminAuthService) VerifyTOTPCode(secret, code string) bool {
	return s.totp.Verify(secret, code, s.now())
}

func (s *AdminAuthService) LogAction(ctx context.Context, action string, details map[string]any) {
	s.audit.LogAction(ctx, action, details)
}

// ---- composed flows ----

type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
}

type LoginResult struct {
	Session *models.AdminSession
	Stage   models.SessionStage
}

func loginIdentifiers(email, ip string) []string {
	key := util.NormalizeEmail(email)
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(email))
	}
	ids := []string{"email:" + key}
	if ip != "" {
		ids = append(ids, "ip:"+ip)
	}
	return ids
}

func mfaIdentifier(adminID string) string {
	return "admin:" + adminID
}

// Login verifies credentials under the login limiter and opens a session
// that still needs MFA. Every credential-class failure is reported as
// ErrInvalidCredentials.
func (s *AdminAuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ids := loginIdentifiers(req.Email, req.IPAddress)
	details := map[string]any{"email": ids[0][len("email:"):], "ip": req.IPAddress}

	for _, id := range ids {
		d, err := s.CheckLoginRateLimit(ctx, id)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			details["identifier"] = id
			s.LogAction(ctx, audit.ActionLoginRateLimited, details)
			return nil, &RateLimitedError{Scope: ScopeLogin, LockedUntil: d.LockedUntil}
		}
	}

	acct, err := s.verifier.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		for _, id := range ids {
			if rerr := s.RecordLoginAttempt(ctx, id, false); rerr != nil {
				return nil, rerr
			}
		}
		reason := "invalid_credentials"
		if errors.Is(err, ErrAccountNotAdmin) {
			reason = "not_admin"
		}
		details["reason"] = reason
		s.LogAction(ctx, audit.ActionLoginFailed, details)
		return nil, ErrInvalidCredentials
	}

	if err := s.RecordLoginAttempt(ctx, ids[0], true); err != nil {
		return nil, err
	}

	state := &models.AdminSession{
		AdminID:               acct.AdminID,
		Email:                 acct.Email,
		Role:                  acct.Role,
		MFAEnrolled:           acct.MFAEnrolled,
		RequiresPasswordReset: acct.RequiresPasswordReset,
		IPAddress:             req.IPAddress,
	}
	if acct.MFAFactorID != nil {
		state.MFAFactorID = *acct.MFAFactorID
	}
	sess, err := s.CreateSession(ctx, state)
	if err != nil {
		return nil, err
	}

	details["admin_id"] = acct.AdminID
	details["stage"] = string(sess.Stage())
	s.LogAction(ctx, audit.ActionLoginSuccess, details)
	s.log.Info("Admin credentials verified",
		zap.String("admin_id", acct.AdminID),
		util.SessionRef(sess.SessionID),
		zap.String("stage", string(sess.Stage())))

	return &LoginResult{Session: sess, Stage: sess.Stage()}, nil
}

// Enrollment is what the client needs to add the account to an
// authenticator app.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
	QRCode string `json:"qr_code,omitempty"`
}

// BeginEnrollment issues a fresh secret for a session that has passed
// credentials but has no MFA factor yet. Calling it again replaces the
// pending secret. The secret is held in the session sealed.
func (s *AdminAuthService) BeginEnrollment(ctx context.Context, sessionID string) (*Enrollment, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.MFAEnrolled || sess.MFAVerified {
		return nil, ErrMFAAlreadyEnrolled
	}
	acct, err := s.sessionAccount(ctx, sess)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnrolled {
		return nil, s.syncEnrolled(ctx, sess, acct.MFAFactorID)
	}

	secret, err := s.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := s.BuildEnrollmentURI(secret, sess.Email)
	if err != nil {
		return nil, err
	}
	enrollment := &Enrollment{Secret: secret, URI: uri}
	if s.qr != nil {
		if qr, err := s.qr.RenderPNG(uri); err != nil {
			s.log.Warn("QR rendering failed", zap.String("admin_id", sess.AdminID), zap.Error(err))
		} else {
			enrollment.QRCode = qr
		}
	}

	sealed, err := s.secrets.Seal(ctx, secret)
	if err != nil {
		s.log.Error("Failed to seal MFA secret", zap.String("admin_id", sess.AdminID), zap.Error(err))
		return nil, fmt.Errorf("seal MFA secret: %w", err)
	}
	if _, err := s.UpdateSession(ctx, sessionID, models.SessionPatch{PendingMFASecret: &sealed}); err != nil {
		return nil, err
	}

	s.LogAction(ctx, audit.ActionMFAEnrollmentStarted, map[string]any{"admin_id": sess.AdminID, "ip": sess.IPAddress})
	return enrollment, nil
}

// sessionAccount reloads the account behind sess. A session whose account
// was disabled or demoted since login is destroyed.
func (s *AdminAuthService) sessionAccount(ctx context.Context, sess *models.AdminSession) (*models.AdminAccount, error) {
	acct, err := s.LookupAdmin(ctx, sess.Email)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.AdminID != sess.AdminID {
		s.log.Warn("Session admin no longer eligible", zap.String("admin_id", sess.AdminID))
		if err := s.ClearSession(ctx, sess.SessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return acct, nil
}

// syncEnrolled moves a session opened before the account enrolled onto
// the challenge path and drops its pending secret.
func (s *AdminAuthService) syncEnrolled(ctx context.Context, sess *models.AdminSession, factorID *string) error {
	enrolled, cleared := true, ""
	patch := models.SessionPatch{MFAEnrolled: &enrolled, PendingMFASecret: &cleared}
	if factorID != nil {
		patch.MFAFactorID = factorID
	}
	if _, err := s.UpdateSession(ctx, sess.SessionID, patch); err != nil {
		return err
	}
	s.log.Warn("Enrollment refused, account already enrolled", zap.String("admin_id", sess.AdminID))
	return ErrMFAAlreadyEnrolled
}

// reserveMFAAttempt takes one MFA attempt for the session's admin before
// the code is checked.
func (s *AdminAuthService) reserveMFAAttempt(ctx context.Context, sess *models.AdminSession) error {
	d, err := s.mfaLimiter.Reserve(ctx, mfaIdentifier(sess.AdminID))
	if err != nil {
		return storeFailure(err)
	}
	if !d.Allowed {
		s.LogAction(ctx, audit.ActionMFARateLimited, map[string]any{"admin_id": sess.AdminID, "ip": sess.IPAddress})
		return &RateLimitedError{Scope: ScopeMFA, LockedUntil: d.LockedUntil}
	}
	return nil
}

// mfaFailure reports a wrong code. The attempt was already counted by
// reserveMFAAttempt.
func (s *AdminAuthService) mfaFailure(ctx context.Context, sess *models.AdminSession, step string) error {
	s.LogAction(ctx, audit.ActionMFAFailed, map[string]any{"admin_id": sess.AdminID, "ip": sess.IPAddress, "step": step})
	return ErrInvalidMFACode
}

// CompleteEnrollment checks the first code against the pending secret,
// persists the sealed secret on the account and promotes the session.
// The account write only applies while the account is still unenrolled.
func (s *AdminAuthService) CompleteEnrollment(ctx context.Context, sessionID, code string) (*models.AdminSession, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.MFAEnrolled || sess.MFAVerified {
		return nil, ErrMFAAlreadyEnrolled
	}
	if sess.PendingMFASecret == "" {
		return nil, ErrEnrollmentNotStarted
	}
	acct, err := s.sessionAccount(ctx, sess)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnrolled {
		return nil, s.syncEnrolled(ctx, sess, acct.MFAFactorID)
	}
	if err := s.reserveMFAAttempt(ctx, sess); err != nil {
		return nil, err
	}

	sealed := sess.PendingMFASecret
	secret, err := s.secrets.Open(ctx, sealed)
	if err != nil {
		s.log.Error("Failed to open pending MFA secret", zap.String("admin_id", sess.AdminID), zap.Error(err))
		return nil, fmt.Errorf("open pending MFA secret: %w", err)
	}
	if !s.VerifyTOTPCode(secret, code) {
		return nil, s.mfaFailure(ctx, sess, "enrollment")
	}

	factorID := uuid.NewString()
	err = s.verifier.UpdateMFAFields(ctx, models.MFAUpdate{
		AdminID:      sess.AdminID,
		Secret:       sealed,
		FactorID:     factorID,
		Enrolled:     true,
		IfUnenrolled: true,
	})
	if errors.Is(err, ErrMFAAlreadyEnrolled) {
		return nil, s.syncEnrolled(ctx, sess, nil)
	}
	if err != nil {
		return nil, err
	}
	if err := s.RecordMFAAttempt(ctx, mfaIdentifier(sess.AdminID), true); err != nil {
		return nil, err
	}

	verified, enrolled, cleared := true, true, ""
	updated, err := s.UpdateSession(ctx, sessionID, models.SessionPatch{
		MFAVerified:      &verified,
		MFAEnrolled:      &enrolled,
		MFAFactorID:      &factorID,
		PendingMFASecret: &cleared,
	})
	if err != nil {
		return nil, err
	}

	s.LogAction(ctx, audit.ActionMFAEnrolled, map[string]any{
		"admin_id":  sess.AdminID,
		"factor_id": factorID,
		"ip":        sess.IPAddress,
	})
	return updated, nil
}

// VerifyMFA checks a code for an enrolled admin and promotes the session.
// An already verified session is returned unchanged.
func (s *AdminAuthService) VerifyMFA(ctx context.Context, sessionID, code string) (*models.AdminSession, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.MFAVerified {
		return sess, nil
	}
	if !sess.MFAEnrolled {
		return nil, ErrMFANotEnrolled
	}
	acct, err := s.sessionAccount(ctx, sess)
	if err != nil {
		return nil, err
	}
	if acct.MFASecret == nil || *acct.MFASecret == "" {
		return nil, ErrMFANotEnrolled
	}
	if err := s.reserveMFAAttempt(ctx, sess); err != nil {
		return nil, err
	}

	secret, err := s.secrets.Open(ctx, *acct.MFASecret)
	if err != nil {
		s.log.Error("Failed to open MFA secret", zap.String("admin_id", acct.AdminID), zap.Error(err))
		return nil, fmt.Errorf("open MFA secret: %w", err)
	}
	if !s.VerifyTOTPCode(secret, code) {
		return nil, s.mfaFailure(ctx, sess, "challenge")
	}
	if err := s.RecordMFAAttempt(ctx, mfaIdentifier(sess.AdminID), true); err != nil {
		return nil, err
	}

	verified := true
	updated, err := s.UpdateSession(ctx, sessionID, models.SessionPatch{MFAVerified: &verified})
	if err != nil {
		return nil, err
	}
	s.LogAction(ctx, audit.ActionMFAVerified, map[string]any{"admin_id": sess.AdminID, "ip": sess.IPAddress})
	return updated, nil
}

// Logout destroys the session. Unknown sessions are not an error.
func (s *AdminAuthService) Logout(ctx context.Context, sessionID string) error {
	details := map[string]any{}
	if sess, err := s.sessions.Read(ctx, sessionID); err == nil {
		details["admin_id"] = sess.AdminID
		details["ip"] = sess.IPAddress
	}
	if err := s.ClearSession(ctx, sessionID); err != nil {
		return err
	}
	s.LogAction(ctx, audit.ActionLogout, details)
	return nil
}

// Authenticate returns the session only if it is fully authenticated.
func (s *AdminAuthService) Authenticate(ctx context.Context, sessionID string) (*models.AdminSession, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.MFAVerified || !sess.Role.IsAdmin() {
		return nil, ErrMFARequired
	}
	return sess, nil
}

func isSessionMiss(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired)
}
