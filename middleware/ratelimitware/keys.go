package ratelimitware

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
	"github.com/goliatone/hashid/pkg/hashid"

	"github.com/goliatone/go-gatekeeper"
)

// IPKey derives the key from the client address: the first X-Forwarded-For
// entry, then X-Real-Ip, then "unknown".
func IPKey(ctx router.Context) string {
	if xff := ctx.GetString("X-Forwarded-For", ""); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return "ip:" + ip
		}
	}
	if ip := strings.TrimSpace(ctx.GetString("X-Real-Ip", "")); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// PrincipalKey derives the key from the bearer principal: the parsed sub
// claim when the verifier accepts the token, a stable hash of the raw token
// when it does not, and the IP key when no bearer token is present at all.
func PrincipalKey(verifier gatekeeper.TokenVerifier) KeyFunc {
	return func(ctx router.Context) string {
		raw := bearerToken(ctx)
		if raw == "" {
			return IPKey(ctx)
		}

		if verifier != nil {
			if principal, err := verifier.Verify(raw); err == nil && principal.Subject != "" {
				return "principal:" + principal.Subject
			}
		}

		// identity parsing unavailable: rate-limit on a stable hash of the
		// opaque token instead of rejecting the request
		if id, err := hashid.NewUUID(raw); err == nil {
			return "principal:" + id.String()
		}
		return IPKey(ctx)
	}
}

// ClientIDKey derives the key from an explicit client id header, falling back
// to the IP key when the header is absent.
func ClientIDKey(header string) KeyFunc {
	return func(ctx router.Context) string {
		if id := strings.TrimSpace(ctx.GetString(header, "")); id != "" {
			return "client:" + id
		}
		return IPKey(ctx)
	}
}

func bearerToken(ctx router.Context) string {
	auth := strings.TrimSpace(ctx.GetString(router.HeaderAuthorization, ""))
	if auth == "" {
		return ""
	}
	const scheme = "Bearer"
	if len(auth) > len(scheme)+1 && strings.EqualFold(auth[:len(scheme)], scheme) {
		return strings.TrimSpace(auth[len(scheme):])
	}
	return ""
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// formatSeconds renders a Retry-After header value, rounding up so clients
// never retry before the window resets.
func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(ceilSeconds(d), 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
