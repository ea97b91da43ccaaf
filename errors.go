package gatekeeper

import (
	"strings"

	"github.com/goliatone/go-errors"
)

// Machine-readable reason codes carried by gate errors so calling layers can
// render distinct messaging without string matching.
const (
	TextCodeVerifierNotConfigured = "VERIFIER_NOT_CONFIGURED"
	TextCodeTokenInvalid          = "TOKEN_INVALID"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeWebhookSecretMissing  = "WEBHOOK_SECRET_MISSING"
	TextCodeSignatureMismatch     = "SIGNATURE_MISMATCH"
	TextCodeTimestampStale        = "TIMESTAMP_STALE"
	TextCodeRateLimited           = "RATE_LIMITED"
	TextCodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	TextCodeRotationFailed        = "ROTATION_FAILED"
	TextCodeRotationInFlight      = "ROTATION_IN_FLIGHT"
)

// ErrVerifierNotConfigured is returned when no verification secret or key set
// is configured. Configuration errors are fatal and surfaced to operators.
var ErrVerifierNotConfigured = errors.New("no token verification secret configured", errors.CategoryInternal).
	WithTextCode(TextCodeVerifierNotConfigured)

// ErrTokenInvalid covers malformed tokens, bad signatures, and issuer or
// audience mismatches.
var ErrTokenInvalid = errors.New("authentication token is invalid", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenInvalid)

// ErrTokenExpired is returned when the token expiry claim is in the past.
var ErrTokenExpired = errors.New("authentication token expired", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrWebhookSecretMissing is returned when no secret is registered for a
// webhook sender. This is server misconfiguration, not attacker input.
var ErrWebhookSecretMissing = errors.New("no webhook secret configured for sender", errors.CategoryInternal).
	WithTextCode(TextCodeWebhookSecretMissing)

// ErrSignatureMismatch is returned when the webhook signature does not match
// the digest computed over the raw body.
var ErrSignatureMismatch = errors.New("webhook signature mismatch", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeSignatureMismatch)

// ErrTimestampStale is returned when the webhook timestamp falls outside the
// configured freshness window.
var ErrTimestampStale = errors.New("webhook timestamp outside freshness window", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTimestampStale)

// ErrRotationInFlight is returned by RotateNow when a rotation is already
// running; exactly one rotation may be in flight at a time.
var ErrRotationInFlight = errors.New("token rotation already in flight", errors.CategoryOperation).
	WithTextCode(TextCodeRotationInFlight)

// ErrRotationFailed wraps refresh endpoint failures after retries are
// exhausted; the holder must re-authenticate.
var ErrRotationFailed = errors.New("token rotation failed", errors.CategoryOperation).
	WithTextCode(TextCodeRotationFailed)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode == TextCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired") ||
		strings.Contains(err.Error(), "token expired")
}

// IsTokenInvalidError will check for malformed or rejected tokens
func IsTokenInvalidError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode == TextCodeTokenInvalid {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsConfigError reports whether err represents missing configuration rather
// than a client failure. Config errors should never be retried.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	switch richErr.TextCode {
	case TextCodeVerifierNotConfigured, TextCodeWebhookSecretMissing:
		return true
	}
	return false
}
