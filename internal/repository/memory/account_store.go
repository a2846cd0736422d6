package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"admin-auth-service/internal/models"
	"admin-auth-service/internal/repository"
)

// AccountStore is an in-process admin account table for local runs and
// tests. It satisfies credential.AccountStore.
type AccountStore struct {
	mu       sync.RWMutex
	byEmail  map[string]*models.AdminAccount
	failWith error
}

func NewAccountStore(accounts ...*models.AdminAccount) *AccountStore {
	s := &AccountStore{byEmail: make(map[string]*models.AdminAccount)}
	for _, a := range accounts {
		s.Put(a)
	}
	return s
}

// Put inserts or replaces an account.
func (s *AccountStore) Put(a *models.AdminAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.byEmail[strings.ToLower(a.Email)] = &cp
}

// FailWith makes every call return err, simulating an unreachable store.
func (s *AccountStore) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *AccountStore) FindAdminByEmail(_ context.Context, email string) (*models.AdminAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	a, ok := s.byEmail[strings.ToLower(email)]
	if !ok || !a.Role.IsAdmin() {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *AccountStore) UpdateMFAFields(_ context.Context, update models.MFAUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	for _, a := range s.byEmail {
		if a.AdminID == update.AdminID {
			if update.IfUnenrolled && a.MFAEnrolled {
				return repository.ErrConflict
			}
			secret, factor := update.Secret, update.FactorID
			a.MFASecret = &secret
			a.MFAFactorID = &factor
			a.MFAEnrolled = update.Enrolled
			return nil
		}
	}
	return fmt.Errorf("admin %s not found", update.AdminID)
}
