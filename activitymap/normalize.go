// Package activitymap converts gate activity events into a transport-agnostic
// shape for downstream activity feeds and SIEM pipelines.
package activitymap

import (
	"strings"
	"time"

	gatekeeper "github.com/goliatone/go-gatekeeper"
)

const (
	// MetadataKeySenderID stores the webhook sender derived from the event.
	MetadataKeySenderID = "sender_id"
	// MetadataKeyLimitKey stores the rate-limit counter key for limiter events.
	MetadataKeyLimitKey = "limit_key"
)

const (
	defaultChannel    = "gate"
	defaultObjectType = "resource"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(gatekeeper.ActivityEvent) string
}

// Normalize converts a gatekeeper.ActivityEvent into a generic normalized
// shape. The actor is the principal when known, then the webhook sender, then
// the configured fallback.
func Normalize(event gatekeeper.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.PrincipalID),
		strings.TrimSpace(event.SenderID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from the event.
func WithObjectIDResolver(resolver func(gatekeeper.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when principal and
// sender ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event gatekeeper.ActivityEvent, resolver func(gatekeeper.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	if resourceID, ok := event.Metadata["resource_id"].(string); ok && resourceID != "" {
		return strings.TrimSpace(resourceID)
	}
	return strings.TrimSpace(event.Key)
}

func normalizeMetadata(event gatekeeper.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if senderID := strings.TrimSpace(event.SenderID); senderID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeySenderID]; !exists {
			metadata[MetadataKeySenderID] = senderID
		}
	}

	if key := strings.TrimSpace(event.Key); key != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyLimitKey]; !exists {
			metadata[MetadataKeyLimitKey] = key
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
