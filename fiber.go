package gatekeeper

import (
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// PrincipalLocalsKey is the fiber locals slot the gate middlewares use for
// the verified principal.
const PrincipalLocalsKey = "principal"

// ErrPrincipalNotFound is returned when the request carries no verified
// principal.
var ErrPrincipalNotFound = errors.New("no verified principal on request", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// SetPrincipal stores the verified principal in fiber locals and the request
// user context so fiber handlers and context-aware code observe the same
// identity.
func SetPrincipal(c *fiber.Ctx, principal Principal, key ...string) {
	c.Locals(localsKey(key), principal)
	c.SetUserContext(WithPrincipal(c.UserContext(), principal))
}

// GetPrincipal extracts the verified principal from fiber locals, falling
// back to the user context for stacks that only propagate context values.
func GetPrincipal(c *fiber.Ctx, key ...string) (Principal, error) {
	if raw := c.Locals(localsKey(key)); raw != nil {
		if principal, ok := raw.(Principal); ok {
			return principal, nil
		}
	}
	if principal, ok := PrincipalFromContext(c.UserContext()); ok {
		return principal, nil
	}
	return Principal{}, ErrPrincipalNotFound
}

func localsKey(key []string) string {
	if len(key) > 0 && key[0] != "" {
		return key[0]
	}
	return PrincipalLocalsKey
}
