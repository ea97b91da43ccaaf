package gatekeeper

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}
var permissionCtxKey = &contextKey{"permission"}

type contextKey struct {
	name string
}

// WithPrincipal sets the verified Principal in the given context
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext finds the principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(Principal)
	return raw, ok
}

// WithPermission sets the resolved PermissionEntry in the given context
func WithPermission(ctx context.Context, entry PermissionEntry) context.Context {
	return context.WithValue(ctx, permissionCtxKey, entry)
}

// PermissionFromContext finds the permission entry from the context.
func PermissionFromContext(ctx context.Context) (PermissionEntry, bool) {
	raw, ok := ctx.Value(permissionCtxKey).(PermissionEntry)
	return raw, ok
}

// HasScope is a convenience check against the principal stored in the context.
// It returns false when no principal is present.
func HasScope(ctx context.Context, scope string) bool {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	return principal.HasScope(scope)
}

// CanAccess checks the cached permission in the context against a minimum
// grant level. It returns false when no permission entry is present.
func CanAccess(ctx context.Context, min Grant) bool {
	entry, ok := PermissionFromContext(ctx)
	if !ok {
		return false
	}
	return entry.Grant.IsAtLeast(min)
}
