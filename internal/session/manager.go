package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"admin-auth-service/internal/models"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/util"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

const (
	keyPrefix = "admin_session:"
	idBytes   = 32
)

// Manager keeps admin session state in a repository.Store. The lifetime cap
// is enforced both by the store TTL and by ExpiresAt on read.
type Manager struct {
	store repository.Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func NewManager(store repository.Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now, log: util.Named("session")}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewID returns a 256-bit random URL-safe token.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func key(id string) string {
	return keyPrefix + id
}

// Create stores s, assigning an id when none is set. CreatedAt and
// ExpiresAt are always stamped here.
func (m *Manager) Create(ctx context.Context, s *models.AdminSession) (*models.AdminSession, error) {
	rec := *s
	if rec.SessionID == "" {
		id, err := NewID()
		if err != nil {
			return nil, err
		}
		rec.SessionID = id
	}
	now := m.now()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(m.ttl)

	if err := repository.SetJSON(ctx, m.store, key(rec.SessionID), &rec, m.ttl); err != nil {
		m.log.Error("Failed to create session", util.SessionRef(rec.SessionID), zap.Error(err))
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.log.Debug("Session created", util.SessionRef(rec.SessionID), zap.String("admin_id", rec.AdminID))
	return &rec, nil
}

func (m *Manager) Read(ctx context.Context, id string) (*models.AdminSession, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	rec, err := repository.GetJSON[models.AdminSession](ctx, m.store, key(id))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, repository.ErrUnavailable):
		return nil, fmt.Errorf("read session: %w", err)
	case err != nil:
		m.log.Warn("Dropping undecodable session", util.SessionRef(id), zap.Error(err))
		_ = m.store.Delete(ctx, key(id))
		return nil, ErrSessionNotFound
	}
	if rec.Expired(m.now()) {
		if err := m.store.Delete(ctx, key(id)); err != nil {
			m.log.Warn("Failed to delete expired session", util.SessionRef(id), zap.Error(err))
		}
		return nil, ErrSessionExpired
	}
	return rec, nil
}

// Update merges patch into an existing, unexpired session and returns the
// result. It never creates a session.
func (m *Manager) Update(ctx context.Context, id string, patch models.SessionPatch) (*models.AdminSession, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	var (
		updated *models.AdminSession
		expired bool
	)
	err := repository.UpdateJSON(ctx, m.store, key(id), func(cur *models.AdminSession) (*models.AdminSession, time.Duration, error) {
		expired = false
		if cur == nil {
			return nil, 0, ErrSessionNotFound
		}
		if cur.Expired(now) {
			expired = true
			return nil, 0, nil
		}
		patch.Apply(cur)
		updated = cur
		return cur, cur.ExpiresAt.Sub(now), nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		m.log.Error("Failed to update session", util.SessionRef(id), zap.Error(err))
		return nil, fmt.Errorf("update session: %w", err)
	}
	if expired {
		return nil, ErrSessionExpired
	}
	return updated, nil
}

func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, key(id)); err != nil {
		m.log.Error("Failed to destroy session", util.SessionRef(id), zap.Error(err))
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}
