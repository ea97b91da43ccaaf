package gatekeeper

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
)

// SubscriptionMutatedMessage signals that a principal's subscription changed
// upstream (created, upgraded, downgraded, canceled). Any observed mutation
// clears that principal's cached permission entries so the next access
// re-evaluates against the subscription source.
type SubscriptionMutatedMessage struct {
	PrincipalID string `json:"principal_id"`
	ResourceID  string `json:"resource_id,omitempty"`
	Change      string `json:"change,omitempty"`
}

func (e SubscriptionMutatedMessage) Type() string { return "subscription.mutated" }

// SubscriptionMutatedHandler invalidates permission cache entries in response
// to subscription mutation messages.
type SubscriptionMutatedHandler struct {
	cache  *PermissionCache
	logger Logger
}

// NewSubscriptionMutatedHandler wires the handler to a cache.
func NewSubscriptionMutatedHandler(cache *PermissionCache) *SubscriptionMutatedHandler {
	return &SubscriptionMutatedHandler{
		cache:  cache,
		logger: defLogger{},
	}
}

// WithLogger sets the handler logger.
func (h *SubscriptionMutatedHandler) WithLogger(logger Logger) *SubscriptionMutatedHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SubscriptionMutatedHandler) Execute(ctx context.Context, event SubscriptionMutatedMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during cache invalidation",
		)
	default:
		return h.execute(event)
	}
}

func (h *SubscriptionMutatedHandler) execute(event SubscriptionMutatedMessage) error {
	if h.cache == nil {
		return goerrors.New("permission cache is required", goerrors.CategoryBadInput)
	}

	principalID := strings.TrimSpace(event.PrincipalID)
	if principalID == "" {
		// A mutation we cannot attribute still changes entitlements somewhere;
		// drop everything rather than serve a stale grant.
		h.logger.Warn("subscription mutation %q without principal id, clearing cache", event.Change)
		h.cache.InvalidateAll()
		return nil
	}

	h.logger.Debug("invalidating cached permissions for %s (change=%s)", principalID, event.Change)
	h.cache.InvalidatePrincipal(principalID)
	return nil
}

var _ gocmd.Commander[SubscriptionMutatedMessage] = (*SubscriptionMutatedHandler)(nil)
