// Package notify holds the single-slot, auto-expiring notification shown to
// the user after every operation.
package notify

import (
	"sync"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"

	"go.uber.org/zap"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 4 * time.Second

// Queue keeps at most one visible notification. A new notification replaces
// the current one and restarts the expiry window from its own call.
type Queue struct {
	mu       sync.Mutex
	current  *domain.Notification
	timer    *time.Timer
	gen      uint64
	ttl      time.Duration
	now      func() time.Time
	onChange func(*domain.Notification)
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now, used to stamp ExpiresAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithOnChange registers a callback invoked after the visible notification
// changes (nil means cleared). It runs outside the queue lock.
func WithOnChange(fn func(*domain.Notification)) Option {
	return func(q *Queue) { q.onChange = fn }
}

// NewQueue creates a queue. ttl <= 0 falls back to DefaultTTL.
func NewQueue(ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	q := &Queue{
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notify replaces whatever is displayed and schedules its auto-clear.
// An empty kind is treated as success.
func (q *Queue) Notify(message string, kind domain.NotificationKind) {
	if kind == "" {
		kind = domain.NotifySuccess
	}

	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.gen++
	gen := q.gen
	n := &domain.Notification{
		Message:   message,
		Kind:      kind,
		ExpiresAt: q.now().Add(q.ttl),
	}
	q.current = n
	// A timer that already fired but lost the race for the lock sees a newer
	// generation and leaves this notification alone.
	q.timer = time.AfterFunc(q.ttl, func() { q.expire(gen) })
	onChange := q.onChange
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.IncrNotification(kind)
	}
	q.logger.Debug("notification raised",
		zap.String("kind", string(kind)),
		zap.String("message", message),
	)

	if onChange != nil {
		cp := *n
		onChange(&cp)
	}
}

// Current returns a copy of the visible notification, if any.
func (q *Queue) Current() (domain.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return domain.Notification{}, false
	}
	return *q.current, true
}

// Close stops the pending expiry timer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) expire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || q.current == nil {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.timer = nil
	onChange := q.onChange
	q.mu.Unlock()

	if onChange != nil {
		onChange(nil)
	}
}
