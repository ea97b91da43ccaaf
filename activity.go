package gatekeeper

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates supported gate event categories.
type ActivityEventType string

const (
	ActivityEventTokenRejected    ActivityEventType = "gate.token.rejected"
	ActivityEventWebhookRejected  ActivityEventType = "gate.webhook.rejected"
	ActivityEventRateLimited      ActivityEventType = "gate.rate.limited"
	ActivityEventPermissionDenied ActivityEventType = "gate.permission.denied"
	ActivityEventRotationSuccess  ActivityEventType = "gate.rotation.success"
	ActivityEventRotationFailure  ActivityEventType = "gate.rotation.failure"
)

// ActivityEvent captures abuse-monitoring information about a gate decision.
type ActivityEvent struct {
	ID          string
	EventType   ActivityEventType
	PrincipalID string
	SenderID    string
	Key         string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes gate events for abuse monitoring and telemetry.
// Sinks run best-effort: errors are logged by the emitting component and
// never block the request path.
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

// NewActivityEvent stamps an event with an id and occurrence time. Components
// that build events by hand may leave those fields zero; sinks should treat
// them as optional.
func NewActivityEvent(eventType ActivityEventType, metadata map[string]any) ActivityEvent {
	return ActivityEvent{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: utcNow(),
	}
}
