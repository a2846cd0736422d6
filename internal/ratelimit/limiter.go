package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/util"
)

const keyPrefix = "rate_limit:"

// Policy parameterizes one limiter instance.
type Policy struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
	// Lockout of zero locks until the failure window closes.
	Lockout time.Duration
}

func PolicyFromConfig(name string, c config.LimitConfig) Policy {
	return Policy{Name: name, MaxAttempts: c.MaxAttempts, Window: c.Window, Lockout: c.Lockout}
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed           bool
	AttemptsRemaining int
	LockedUntil       *time.Time
}

// Limiter is a sliding-window failure counter with a timed lockout. Every
// read-modify-write goes through Store.Update, so concurrent failures for
// one identifier are counted exactly.
type Limiter struct {
	policy Policy
	store  repository.Store
	now    func() time.Time
	log    *zap.Logger
}

func NewLimiter(policy Policy, store repository.Store) *Limiter {
	return &Limiter{
		policy: policy,
		store:  store,
		now:    time.Now,
		log:    util.Named("ratelimit." + policy.Name),
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Policy() Policy {
	return l.policy
}

func (l *Limiter) key(identifier string) string {
	return keyPrefix + l.policy.Name + ":" + identifier
}

func (l *Limiter) lockUntil(rec *models.AttemptRecord, now time.Time) time.Time {
	if l.policy.Lockout > 0 {
		return now.Add(l.policy.Lockout)
	}
	return rec.FirstFailureAt.Add(l.policy.Window)
}

// stale reports records that no longer count: an elapsed window with no
// active lock, or a lock that has lapsed.
func (l *Limiter) stale(rec *models.AttemptRecord, now time.Time) bool {
	if rec.LockedUntil != nil {
		return !now.Before(*rec.LockedUntil)
	}
	return !now.Before(rec.FirstFailureAt.Add(l.policy.Window))
}

func (l *Limiter) ttl(rec *models.AttemptRecord, now time.Time) time.Duration {
	end := rec.FirstFailureAt.Add(l.policy.Window)
	if rec.LockedUntil != nil && rec.LockedUntil.After(end) {
		end = *rec.LockedUntil
	}
	return end.Sub(now)
}

// Check reports whether identifier may attempt again. Only store failures
// produce an error.
func (l *Limiter) Check(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	var decision Decision

	err := repository.UpdateJSON(ctx, l.store, l.key(identifier), func(rec *models.AttemptRecord) (*models.AttemptRecord, time.Duration, error) {
		decision = Decision{Allowed: true, AttemptsRemaining: l.policy.MaxAttempts}
		if rec == nil || l.stale(rec, now) {
			return nil, 0, nil
		}
		if rec.LockedUntil == nil && rec.Count >= l.policy.MaxAttempts {
			until := l.lockUntil(rec, now)
			rec.LockedUntil = &until
		}
		if rec.LockedUntil != nil {
			until := *rec.LockedUntil
			decision = Decision{Allowed: false, LockedUntil: &until}
		} else {
			decision.AttemptsRemaining = l.policy.MaxAttempts - rec.Count
		}
		return rec, l.ttl(rec, now), nil
	})
	if err != nil {
		l.log.Error("Rate limit check failed", zap.String("identifier", identifier), zap.Error(err))
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	return decision, nil
}

// Record applies one attempt outcome. Success clears the identifier;
// failures while locked are not counted.
func (l *Limiter) Record(ctx context.Context, identifier string, success bool) error {
	if success {
		if err := l.store.Delete(ctx, l.key(identifier)); err != nil {
			l.log.Error("Rate limit reset failed", zap.String("identifier", identifier), zap.Error(err))
			return fmt.Errorf("rate limit reset: %w", err)
		}
		return nil
	}

	now := l.now()
	err := repository.UpdateJSON(ctx, l.store, l.key(identifier), func(rec *models.AttemptRecord) (*models.AttemptRecord, time.Duration, error) {
		switch {
		case rec == nil || l.stale(rec, now):
			rec = &models.AttemptRecord{Count: 1, FirstFailureAt: now}
		case rec.LockedUntil != nil:
			return rec, l.ttl(rec, now), nil
		default:
			rec.Count++
		}
		if rec.Count >= l.policy.MaxAttempts {
			rec.Count = l.policy.MaxAttempts
			until := l.lockUntil(rec, now)
			rec.LockedUntil = &until
			l.log.Warn("Identifier locked out",
				zap.String("identifier", identifier),
				zap.Int("failures", rec.Count),
				zap.Time("locked_until", until))
		}
		return rec, l.ttl(rec, now), nil
	})
	if err != nil {
		l.log.Error("Rate limit record failed", zap.String("identifier", identifier), zap.Error(err))
		return fmt.Errorf("rate limit record: %w", err)
	}
	return nil
}

// Reserve atomically counts one attempt as a failure before it is
// evaluated. A denied reservation changes nothing. Callers clear the
// record with Record(ctx, id, true) when the attempt succeeds, so at most
// MaxAttempts attempts are evaluated per window under any concurrency.
func (l *Limiter) Reserve(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	var decision Decision

	err := repository.UpdateJSON(ctx, l.store, l.key(identifier), func(rec *models.AttemptRecord) (*models.AttemptRecord, time.Duration, error) {
		switch {
		case rec == nil || l.stale(rec, now):
			rec = &models.AttemptRecord{Count: 1, FirstFailureAt: now}
		case rec.LockedUntil != nil:
			until := *rec.LockedUntil
			decision = Decision{Allowed: false, LockedUntil: &until}
			return rec, l.ttl(rec, now), nil
		case rec.Count >= l.policy.MaxAttempts:
			until := l.lockUntil(rec, now)
			rec.LockedUntil = &until
			decision = Decision{Allowed: false, LockedUntil: &until}
			return rec, l.ttl(rec, now), nil
		default:
			rec.Count++
		}
		decision = Decision{Allowed: true, AttemptsRemaining: l.policy.MaxAttempts - rec.Count}
		if rec.Count >= l.policy.MaxAttempts {
			until := l.lockUntil(rec, now)
			rec.LockedUntil = &until
		}
		return rec, l.ttl(rec, now), nil
	})
	if err != nil {
		l.log.Error("Rate limit reserve failed", zap.String("identifier", identifier), zap.Error(err))
		return Decision{}, fmt.Errorf("rate limit reserve: %w", err)
	}
	return decision, nil
}

// Reset clears the identifier's record.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.Record(ctx, identifier, true)
}
