package entree

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess     ActivityEventType = "entree.login.success"
	ActivityEventLoginFailure     ActivityEventType = "entree.login.failure"
	ActivityEventLogout           ActivityEventType = "entree.logout"
	ActivityEventRegistered       ActivityEventType = "entree.identity.registered"
	ActivityEventVerified         ActivityEventType = "entree.identity.verified"
	ActivityEventPasswordReset    ActivityEventType = "entree.password.reset"
	ActivityEventPasswordChanged  ActivityEventType = "entree.password.changed"
	ActivityEventProfileUpdated   ActivityEventType = "entree.profile.updated"
	ActivityEventRecoveryLogin    ActivityEventType = "entree.login.recovered"
	ActivityEventIdentityCreated  ActivityEventType = "entree.identity.created"
	ActivityEventProfileActivated ActivityEventType = "entree.profile.activated"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	IdentityID string
	SiteID     int64
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity sends event to sink, failures are only logged
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		if logger == nil {
			logger = defLogger{}
		}
		logger.Warn("activity sink error during %s: %v", event.EventType, err)
	}
}

// Metrics receives counters for the operations the authority performs
type Metrics interface {
	TokenIssued(tokenType string)
	LoginAttempt(outcome string)
	ProfileFetch(outcome string)
	MailSent(kind string, ok bool)
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLocked  = "locked"
	OutcomeDenied  = "denied"
)

type nopMetrics struct{}

func (nopMetrics) TokenIssued(string)    {}
func (nopMetrics) LoginAttempt(string)   {}
func (nopMetrics) ProfileFetch(string)   {}
func (nopMetrics) MailSent(string, bool) {}

func normalizeMetrics(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
