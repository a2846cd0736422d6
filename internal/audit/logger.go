package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"admin-auth-service/internal/models"
	"admin-auth-service/internal/util"
)

const (
	ActionLoginSuccess         = "login_success"
	ActionLoginFailed          = "login_failed"
	ActionLoginRateLimited     = "login_rate_limited"
	ActionMFAEnrollmentStarted = "mfa_enrollment_started"
	ActionMFAEnrolled          = "mfa_enrolled"
	ActionMFAVerified          = "mfa_verified"
	ActionMFAFailed            = "mfa_failed"
	ActionMFARateLimited       = "mfa_rate_limited"
	ActionLogout               = "logout"
)

const (
	DefaultSinkTimeout = 2 * time.Second
	DefaultQueueSize   = 1024
)

// Sink is a durable destination for audit events. Writes must be
// idempotent on EventID.
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.AuditEvent) error
}

// Logger records every action in the local log and hands it to a
// background worker that fans it out to the sinks. LogAction never waits
// on a sink; when the queue is full the event is dropped with a warning.
type Logger struct {
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.AuditEvent
	done   chan struct{}

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

func NewLogger(timeout time.Duration, sinks ...Sink) *Logger {
	return NewLoggerWithQueue(timeout, DefaultQueueSize, sinks...)
}

// NewLoggerWithQueue starts the sink worker with room for queueSize
// undelivered events.
func NewLoggerWithQueue(timeout time.Duration, queueSize int, sinks ...Sink) *Logger {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	l := &Logger{
		sinks:   sinks,
		timeout: timeout,
		now:     time.Now,
		log:     util.Named("audit"),
		done:    make(chan struct{}),
	}
	l.idle = sync.NewCond(&l.pendingMu)
	if len(sinks) == 0 {
		close(l.done)
		return l
	}
	l.queue = make(chan models.AuditEvent, queueSize)
	go l.run()
	return l
}

func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// LogAction appends one event. It returns once the event is logged
// locally and queued for the sinks.
func (l *Logger) LogAction(_ context.Context, action string, details map[string]any) {
	event := models.AuditEvent{
		EventID:   uuid.NewString(),
		Action:    action,
		Details:   make(map[string]any, len(details)),
		Timestamp: l.now().UTC(),
	}
	for k, v := range details {
		event.Details[k] = v
	}

	l.log.Info("audit",
		zap.String("event_id", event.EventID),
		zap.String("action", action),
		zap.Any("details", event.Details))

	if l.queue == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.log.Warn("Audit logger closed, event not delivered to sinks",
			zap.String("event_id", event.EventID),
			zap.String("action", action))
		return
	}
	l.track(1)
	select {
	case l.queue <- event:
	default:
		l.track(-1)
		l.log.Warn("Audit queue full, event not delivered to sinks",
			zap.String("event_id", event.EventID),
			zap.String("action", action))
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.deliver(event)
		l.track(-1)
	}
}

func (l *Logger) track(delta int) {
	l.pendingMu.Lock()
	l.pending += delta
	if l.pending <= 0 {
		l.idle.Broadcast()
	}
	l.pendingMu.Unlock()
}

// deliver writes one event to every sink in parallel under the sink
// timeout. Failures are logged and dropped.
func (l *Logger) deliver(event models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range l.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, event); err != nil {
				l.log.Warn("Audit sink write failed",
					zap.String("sink", s.Name()),
					zap.String("event_id", event.EventID),
					zap.String("action", event.Action),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Flush blocks until every queued event has been offered to the sinks.
func (l *Logger) Flush() {
	l.pendingMu.Lock()
	for l.pending > 0 {
		l.idle.Wait()
	}
	l.pendingMu.Unlock()
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever is first.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed && l.queue != nil {
		close(l.queue)
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
