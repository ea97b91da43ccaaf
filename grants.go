package gatekeeper

// Grant is the permission level attached to a (principal, resource) pair.
type Grant string

const (
	GrantNone  Grant = "none"
	GrantRead  Grant = "read"
	GrantWrite Grant = "write"
	GrantAdmin Grant = "admin"
)

// DenialReason explains why a grant resolved to none so calling UI layers can
// render distinct messaging ("upgrade required" vs. "service unavailable").
type DenialReason string

const (
	ReasonSubscriptionRequired   DenialReason = "subscription_required"
	ReasonSubscriptionExpired    DenialReason = "subscription_expired"
	ReasonInsufficientPermission DenialReason = "insufficient_permission"
	ReasonServiceUnavailable     DenialReason = "service_unavailable"
)

// IsValid checks if the grant is one of the predefined levels
func (g Grant) IsValid() bool {
	switch g {
	case GrantNone, GrantRead, GrantWrite, GrantAdmin:
		return true
	default:
		return false
	}
}

// CanRead checks if this grant allows reading the resource
func (g Grant) CanRead() bool {
	switch g {
	case GrantRead, GrantWrite, GrantAdmin:
		return true
	default:
		return false
	}
}

// CanWrite checks if this grant allows mutating the resource
func (g Grant) CanWrite() bool {
	switch g {
	case GrantWrite, GrantAdmin:
		return true
	default:
		return false
	}
}

// CanAdminister checks if this grant allows administrative operations
func (g Grant) CanAdminister() bool {
	return g == GrantAdmin
}

// IsAtLeast checks if this grant meets the minimum required level
func (g Grant) IsAtLeast(min Grant) bool {
	hierarchy := map[Grant]int{
		GrantNone:  0,
		GrantRead:  1,
		GrantWrite: 2,
		GrantAdmin: 3,
	}

	level, ok := hierarchy[g]
	if !ok {
		return false
	}
	required, ok := hierarchy[min]
	if !ok {
		return false
	}
	return level >= required
}
