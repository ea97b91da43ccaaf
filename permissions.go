package gatekeeper

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// DefaultPermissionTTL bounds how long a resolved grant is served without
// re-querying the subscription source.
const DefaultPermissionTTL = 5 * time.Minute

// SubscriptionGrant is what the external subscription source resolves for a
// (principal, resource) pair.
type SubscriptionGrant struct {
	// Found reports whether any subscription exists for the principal.
	Found bool
	// Level is the permission level carried by the subscription.
	Level Grant
	// ExpiresAt is the subscription end; zero means no expiry.
	ExpiresAt time.Time
	// InsufficientTier marks subscriptions whose plan does not cover the
	// requested resource even though the subscription itself is active.
	InsufficientTier bool
}

// SubscriptionSource queries the external subscription/permission system.
type SubscriptionSource interface {
	ResolveGrant(ctx context.Context, principalID, resourceID string) (SubscriptionGrant, error)
}

// SubscriptionSourceFunc adapts a function into a SubscriptionSource.
type SubscriptionSourceFunc func(ctx context.Context, principalID, resourceID string) (SubscriptionGrant, error)

// ResolveGrant satisfies the SubscriptionSource interface.
func (f SubscriptionSourceFunc) ResolveGrant(ctx context.Context, principalID, resourceID string) (SubscriptionGrant, error) {
	if f == nil {
		return SubscriptionGrant{}, errors.New("subscription source is not configured", errors.CategoryInternal)
	}
	return f(ctx, principalID, resourceID)
}

// PermissionEntry is one cached permission decision.
type PermissionEntry struct {
	PrincipalID string
	ResourceID  string
	Grant       Grant
	// Reason is set only when Grant is none.
	Reason    DenialReason
	CheckedAt time.Time
}

// PermissionOption customizes a PermissionCache.
type PermissionOption func(*PermissionCache)

// WithPermissionTTL overrides the cache TTL.
func WithPermissionTTL(ttl time.Duration) PermissionOption {
	return func(c *PermissionCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPermissionLogger sets the logger.
func WithPermissionLogger(logger Logger) PermissionOption {
	return func(c *PermissionCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPermissionClock overrides the clock, mainly for tests.
func WithPermissionClock(now func() time.Time) PermissionOption {
	return func(c *PermissionCache) {
		if now != nil {
			c.nowFn = now
		}
	}
}

// WithPermissionSink attaches an ActivitySink that receives permission-denied
// events for abuse and conversion monitoring.
func WithPermissionSink(sink ActivitySink) PermissionOption {
	return func(c *PermissionCache) {
		c.sink = normalizeActivitySink(sink)
	}
}

// PermissionCache is a TTL-bounded cache of permission decisions keyed by
// (principal, resource). Lookups that miss coalesce into a single query
// against the subscription source; source failures resolve to a denial
// (fail-closed) rather than an error. Subscription mutations must invalidate
// eagerly through InvalidatePrincipal or the SubscriptionMutatedMessage
// handler.
type PermissionCache struct {
	source SubscriptionSource
	ttl    time.Duration
	logger Logger
	sink   ActivitySink
	nowFn  func() time.Time

	mu      sync.RWMutex
	entries map[string]PermissionEntry
	group   singleflight.Group
}

// NewPermissionCache returns a cache backed by the given subscription source.
func NewPermissionCache(source SubscriptionSource, opts ...PermissionOption) (*PermissionCache, error) {
	if source == nil {
		return nil, errors.New("subscription source is required", errors.CategoryBadInput)
	}
	c := &PermissionCache{
		source:  source,
		ttl:     DefaultPermissionTTL,
		logger:  defLogger{},
		sink:    noopActivitySink{},
		nowFn:   utcNow,
		entries: map[string]PermissionEntry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckPermission returns the cached decision when fresh, otherwise resolves
// a new one. Concurrent calls for the same pair share one source query.
func (c *PermissionCache) CheckPermission(ctx context.Context, principalID, resourceID string) (PermissionEntry, error) {
	principalID = strings.TrimSpace(principalID)
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return PermissionEntry{}, errors.New("resource id is required", errors.CategoryBadInput)
	}

	if principalID == "" {
		return c.denied("", resourceID, ReasonSubscriptionRequired), nil
	}

	key := entryKey(principalID, resourceID)
	now := c.nowFn()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Sub(entry.CheckedAt) < c.ttl {
		return entry, nil
	}

	resolved, err, _ := c.group.Do(key, func() (any, error) {
		entry := c.resolve(ctx, principalID, resourceID)
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		// resolve never fails; keep the fail-closed contract anyway.
		return c.denied(principalID, resourceID, ReasonServiceUnavailable), nil
	}
	return resolved.(PermissionEntry), nil
}

func (c *PermissionCache) resolve(ctx context.Context, principalID, resourceID string) PermissionEntry {
	grant, err := c.source.ResolveGrant(ctx, principalID, resourceID)
	if err != nil {
		c.logger.Warn("subscription source unreachable for %s/%s, denying: %v", principalID, resourceID, err)
		return c.deniedWithEvent(ctx, principalID, resourceID, ReasonServiceUnavailable)
	}

	switch {
	case !grant.Found:
		return c.deniedWithEvent(ctx, principalID, resourceID, ReasonSubscriptionRequired)
	case !grant.ExpiresAt.IsZero() && c.nowFn().After(grant.ExpiresAt):
		return c.deniedWithEvent(ctx, principalID, resourceID, ReasonSubscriptionExpired)
	case grant.InsufficientTier:
		return c.deniedWithEvent(ctx, principalID, resourceID, ReasonInsufficientPermission)
	case !grant.Level.IsValid() || grant.Level == GrantNone:
		return c.deniedWithEvent(ctx, principalID, resourceID, ReasonSubscriptionRequired)
	}

	return PermissionEntry{
		PrincipalID: principalID,
		ResourceID:  resourceID,
		Grant:       grant.Level,
		CheckedAt:   c.nowFn(),
	}
}

// Invalidate removes cached entries for the given resources across all
// principals. With no arguments it clears the entire cache.
func (c *PermissionCache) Invalidate(resourceIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(resourceIDs) == 0 {
		c.entries = map[string]PermissionEntry{}
		return
	}
	for key, entry := range c.entries {
		for _, resourceID := range resourceIDs {
			if entry.ResourceID == resourceID {
				delete(c.entries, key)
				break
			}
		}
	}
}

// InvalidatePrincipal removes every cached entry for a principal, forcing
// re-evaluation on next access. Call it whenever a subscription mutation for
// that principal is observed.
func (c *PermissionCache) InvalidatePrincipal(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.PrincipalID == principalID {
			delete(c.entries, key)
		}
	}
}

// InvalidateAll clears the cache.
func (c *PermissionCache) InvalidateAll() {
	c.Invalidate()
}

// Len reports the number of cached entries, stale ones included.
func (c *PermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *PermissionCache) denied(principalID, resourceID string, reason DenialReason) PermissionEntry {
	return PermissionEntry{
		PrincipalID: principalID,
		ResourceID:  resourceID,
		Grant:       GrantNone,
		Reason:      reason,
		CheckedAt:   c.nowFn(),
	}
}

func (c *PermissionCache) deniedWithEvent(ctx context.Context, principalID, resourceID string, reason DenialReason) PermissionEntry {
	entry := c.denied(principalID, resourceID, reason)
	c.emitActivity(ctx, ActivityEventPermissionDenied, principalID, map[string]any{
		"resource_id": resourceID,
		"reason":      string(reason),
	})
	return entry
}

func (c *PermissionCache) emitActivity(ctx context.Context, eventType ActivityEventType, principalID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:   eventType,
		PrincipalID: principalID,
		Metadata:    metadata,
		OccurredAt:  c.nowFn(),
	}
	if err := c.sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink rejected permission event: %v", err)
	}
}

func entryKey(principalID, resourceID string) string {
	return principalID + "|" + resourceID
}
