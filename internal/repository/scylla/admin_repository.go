package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth-service/internal/models"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/util"
)

// AdminRepository reads admin accounts from admin_users, reached through
// the admin_email_to_id lookup table.
type AdminRepository struct {
	client *ScyllaClient
}

func NewAdminRepository(client *ScyllaClient) *AdminRepository {
	return &AdminRepository{client: client}
}

// FindAdminByEmail returns nil, nil when the email is unknown or belongs to
// a non-admin role. email must already be normalized.
func (r *AdminRepository) FindAdminByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	var adminID gocql.UUID
	err := r.client.Session.Query(r.client.Statements.GetAdminIDByEmail, email).
		WithContext(ctx).Consistency(gocql.LocalOne).Scan(&adminID)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		util.Error("Failed to resolve admin email", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve admin email: %w", err)
	}

	var (
		acct        models.AdminAccount
		id          gocql.UUID
		role        string
		mfaSecret   string
		mfaFactorID string
	)
	err = r.client.Session.Query(r.client.Statements.GetAdminByID, adminID).WithContext(ctx).Scan(
		&id, &acct.Email, &acct.PasswordHash, &role, &mfaSecret, &mfaFactorID,
		&acct.MFAEnrolled, &acct.RequiresPasswordReset, &acct.IsActive, &acct.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		util.Warn("Dangling admin email mapping", zap.String("admin_id", adminID.String()))
		return nil, nil
	}
	if err != nil {
		util.Error("Failed to load admin", zap.String("admin_id", adminID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}

	acct.AdminID = id.String()
	acct.Role = models.AdminRole(role)
	if !acct.Role.IsAdmin() {
		return nil, nil
	}
	if mfaSecret != "" {
		acct.MFASecret = &mfaSecret
	}
	if mfaFactorID != "" {
		acct.MFAFactorID = &mfaFactorID
	}
	return &acct, nil
}

// UpdateMFAFields writes the enrollment result. The secret is stored as
// given; callers seal it first.
func (r *AdminRepository) UpdateMFAFields(ctx context.Context, update models.MFAUpdate) error {
	adminID, err := gocql.ParseUUID(update.AdminID)
	if err != nil {
		return fmt.Errorf("invalid admin id %q: %w", update.AdminID, err)
	}

	now := time.Now().UTC()
	if update.IfUnenrolled {
		return r.enrollMFA(ctx, update, adminID, now)
	}

	err = r.client.ExecuteWithRetry(ctx, r.client.Statements.UpdateMFAFields, 2,
		update.Secret, update.FactorID, update.Enrolled, now, adminID)
	if err != nil {
		util.Error("Failed to update admin MFA fields", zap.String("admin_id", update.AdminID), zap.Error(err))
		return fmt.Errorf("failed to update admin MFA fields: %w", err)
	}

	util.Info("Admin MFA fields updated",
		zap.String("admin_id", update.AdminID),
		zap.Bool("enrolled", update.Enrolled))
	return nil
}

// enrollMFA applies the write only while the account is unenrolled. LWTs
// are not retried: a timed-out CAS may have been applied.
func (r *AdminRepository) enrollMFA(ctx context.Context, update models.MFAUpdate, adminID gocql.UUID, now time.Time) error {
	existing := map[string]interface{}{}
	applied, err := r.client.Session.Query(r.client.Statements.EnrollMFA,
		update.Secret, update.FactorID, update.Enrolled, now, adminID).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(existing)
	if err != nil {
		util.Error("Failed to enroll admin MFA", zap.String("admin_id", update.AdminID), zap.Error(err))
		return fmt.Errorf("failed to enroll admin MFA: %w", err)
	}
	if !applied {
		util.Warn("Admin MFA already enrolled", zap.String("admin_id", update.AdminID))
		return repository.ErrConflict
	}

	util.Info("Admin MFA enrolled", zap.String("admin_id", update.AdminID))
	return nil
}
