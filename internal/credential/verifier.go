package credential

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotAdmin    = errors.New("account is not an administrator")
	ErrAlreadyEnrolled    = errors.New("MFA already enrolled")
	// ErrStoreUnavailable matches every store failure, including the
	// attempt and session stores.
	ErrStoreUnavailable = repository.ErrUnavailable
)

// AccountStore is the external admin account table.
type AccountStore interface {
	// FindAdminByEmail returns nil, nil when no admin-class account matches.
	FindAdminByEmail(ctx context.Context, email string) (*models.AdminAccount, error)
	UpdateMFAFields(ctx context.Context, update models.MFAUpdate) error
}

type Verifier struct {
	accounts AccountStore
	hasher   *hashing.Hasher
	log      *zap.Logger
}

func NewVerifier(accounts AccountStore, hasher *hashing.Hasher) *Verifier {
	return &Verifier{accounts: accounts, hasher: hasher, log: util.Named("credential")}
}

func (v *Verifier) find(ctx context.Context, email string) (acct *models.AdminAccount, notAdmin bool, err error) {
	normalized := util.NormalizeEmail(email)
	if normalized == "" {
		return nil, false, nil
	}
	acct, err = v.accounts.FindAdminByEmail(ctx, normalized)
	if err != nil {
		v.log.Error("Account store lookup failed", zap.Error(err))
		return nil, false, fmt.Errorf("%w: find admin: %v", ErrStoreUnavailable, err)
	}
	if acct == nil {
		return nil, false, nil
	}
	if !acct.Role.IsAdmin() || !acct.IsActive {
		v.log.Warn("Non-admin or inactive account on admin path",
			zap.String("admin_id", acct.AdminID),
			zap.String("role", string(acct.Role)),
			zap.Bool("active", acct.IsActive))
		return nil, true, nil
	}
	return acct, false, nil
}

// LookupAdmin returns the active admin-class account for email, or nil.
func (v *Verifier) LookupAdmin(ctx context.Context, email string) (*models.AdminAccount, error) {
	acct, _, err := v.find(ctx, email)
	return acct, err
}

// VerifyPassword compares password against the account's stored hash.
func (v *Verifier) VerifyPassword(account *models.AdminAccount, password string) bool {
	if account == nil || account.PasswordHash == "" {
		return v.hasher.VerifyDummy(password)
	}
	ok, err := v.hasher.Verify(account.PasswordHash, password)
	if err != nil {
		v.log.Error("Stored password hash unusable", zap.String("admin_id", account.AdminID), zap.Error(err))
		return false
	}
	return ok
}

// Authenticate looks up email and checks password. Unknown emails still pay
// for one hash comparison.
func (v *Verifier) Authenticate(ctx context.Context, email, password string) (*models.AdminAccount, error) {
	acct, notAdmin, err := v.find(ctx, email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		v.hasher.VerifyDummy(password)
		if notAdmin {
			return nil, ErrAccountNotAdmin
		}
		return nil, ErrInvalidCredentials
	}
	if !v.VerifyPassword(acct, password) {
		return nil, ErrInvalidCredentials
	}
	if v.hasher.NeedsRehash(acct.PasswordHash) {
		v.log.Info("Password hash due for upgrade", zap.String("admin_id", acct.AdminID))
	}
	return acct, nil
}

// UpdateMFAFields writes enrollment results back to the account store.
func (v *Verifier) UpdateMFAFields(ctx context.Context, update models.MFAUpdate) error {
	err := v.accounts.UpdateMFAFields(ctx, update)
	if errors.Is(err, repository.ErrConflict) {
		v.log.Warn("Account already enrolled, MFA update skipped", zap.String("admin_id", update.AdminID))
		return ErrAlreadyEnrolled
	}
	if err != nil {
		v.log.Error("Account store MFA update failed", zap.String("admin_id", update.AdminID), zap.Error(err))
		return fmt.Errorf("%w: update mfa fields: %v", ErrStoreUnavailable, err)
	}
	return nil
}
