package models

import "time"

// AdminAccount is the read-mostly view of an account in the external store.
// The auth core writes back only the MFA columns.
type AdminAccount struct {
	AdminID               string    `db:"admin_id" json:"admin_id"`
	Email                 string    `db:"email" json:"email"`
	PasswordHash          string    `db:"password_hash" json:"-"`
	Role                  AdminRole `db:"role" json:"role"`
	MFASecret             *string   `db:"mfa_secret" json:"-"`
	MFAFactorID           *string   `db:"mfa_factor_id" json:"mfa_factor_id,omitempty"`
	MFAEnrolled           bool      `db:"mfa_enrolled" json:"mfa_enrolled"`
	RequiresPasswordReset bool      `db:"requires_password_reset" json:"requires_password_reset"`
	IsActive              bool      `db:"is_active" json:"is_active"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// MFAUpdate is the write-back performed once enrollment completes.
type MFAUpdate struct {
	AdminID  string
	Secret   string
	FactorID string
	Enrolled bool
	// IfUnenrolled makes the write conditional on the account not being
	// enrolled yet. Stores report a lost race as repository.ErrConflict.
	IfUnenrolled bool
}
