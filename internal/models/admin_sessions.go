package models

import "time"

type AdminSession struct {
	SessionID             string    `json:"session_id"`
	AdminID               string    `json:"admin_id"`
	Email                 string    `json:"email"`
	Role                  AdminRole `json:"role"`
	MFAVerified           bool      `json:"mfa_verified"`
	MFAEnrolled           bool      `json:"mfa_enrolled"`
	RequiresPasswordReset bool      `json:"requires_password_reset"`
	MFAFactorID           string    `json:"mfa_factor_id,omitempty"`
	// PendingMFASecret holds the sealed enrollment secret until its first code verifies.
	PendingMFASecret string    `json:"pending_mfa_secret,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Stage derives the state-machine position of the session.
func (s *AdminSession) Stage() SessionStage {
	switch {
	case s.MFAVerified:
		return StageAuthenticated
	case s.MFAEnrolled:
		return StagePendingMFAChallenge
	default:
		return StagePendingEnrollment
	}
}

// Expired reports whether the server-side lifetime cap has passed.
func (s *AdminSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type SessionStage string

const (
	StagePendingEnrollment   SessionStage = "pending_enrollment"
	StagePendingMFAChallenge SessionStage = "pending_mfa_challenge"
	StageAuthenticated       SessionStage = "authenticated"
)

// SessionPatch carries the mutable fields of a session. Nil fields are left
// untouched.
type SessionPatch struct {
	MFAVerified           *bool
	MFAEnrolled           *bool
	RequiresPasswordReset *bool
	MFAFactorID           *string
	PendingMFASecret      *string
}

// Apply merges the patch into s.
func (p SessionPatch) Apply(s *AdminSession) {
	if p.MFAVerified != nil {
		s.MFAVerified = *p.MFAVerified
	}
	if p.MFAEnrolled != nil {
		s.MFAEnrolled = *p.MFAEnrolled
	}
	if p.RequiresPasswordReset != nil {
		s.RequiresPasswordReset = *p.RequiresPasswordReset
	}
	if p.MFAFactorID != nil {
		s.MFAFactorID = *p.MFAFactorID
	}
	if p.PendingMFASecret != nil {
		s.PendingMFASecret = *p.PendingMFASecret
	}
}
