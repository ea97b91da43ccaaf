package gatekeeper

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// SignaturePrefix is the fixed convention for webhook signature headers.
const SignaturePrefix = "sha256="

// DefaultFreshnessWindow bounds how far a webhook timestamp may drift from
// the local clock in either direction.
const DefaultFreshnessWindow = 5 * time.Minute

// WebhookOption customizes a WebhookAuthenticator.
type WebhookOption func(*WebhookAuthenticator)

// WithFreshnessWindow overrides the timestamp freshness window.
func WithFreshnessWindow(window time.Duration) WebhookOption {
	return func(a *WebhookAuthenticator) {
		if window > 0 {
			a.window = window
		}
	}
}

// WithWebhookLogger sets the logger used for misconfiguration reporting.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(a *WebhookAuthenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithWebhookClock overrides the clock, mainly for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(a *WebhookAuthenticator) {
		if now != nil {
			a.nowFn = now
		}
	}
}

// WebhookAuthenticator authenticates inbound service events by HMAC-SHA256
// signature over the exact raw body bytes plus an optional timestamp
// freshness check. It is idempotent and side-effect free; callers own
// deduplication of replayed-but-fresh deliveries.
type WebhookAuthenticator struct {
	secrets SecretSource
	window  time.Duration
	logger  Logger
	nowFn   func() time.Time
}

// NewWebhookAuthenticator returns an authenticator backed by the given
// per-sender secret source.
func NewWebhookAuthenticator(secrets SecretSource, opts ...WebhookOption) (*WebhookAuthenticator, error) {
	if secrets == nil {
		return nil, errors.New("webhook secret source is required", errors.CategoryBadInput)
	}
	a := &WebhookAuthenticator{
		secrets: secrets,
		window:  DefaultFreshnessWindow,
		logger:  defLogger{},
		nowFn:   utcNow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate verifies the signature header against the digest computed over
// rawBody with the sender's secret, then checks timestamp freshness when a
// timestamp is present. A missing timestamp is accepted for backward
// compatibility; that delivery path carries a weaker replay guarantee.
func (a *WebhookAuthenticator) Authenticate(senderID string, rawBody []byte, signatureHeader, timestampHeader string) error {
	secret, ok := a.secrets.WebhookSecret(strings.TrimSpace(senderID))
	if !ok {
		a.logger.Error("webhook sender %q has no registered secret", senderID)
		return errors.Wrap(ErrWebhookSecretMissing, ErrWebhookSecretMissing.Category, ErrWebhookSecretMissing.Message).
			WithTextCode(ErrWebhookSecretMissing.TextCode).
			WithMetadata(map[string]any{"sender_id": senderID})
	}

	if err := a.verifySignature(secret, rawBody, signatureHeader); err != nil {
		return err
	}

	timestampHeader = strings.TrimSpace(timestampHeader)
	if timestampHeader == "" {
		return nil
	}
	return a.verifyFreshness(timestampHeader)
}

func (a *WebhookAuthenticator) verifySignature(secret string, rawBody []byte, signatureHeader string) error {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if !strings.HasPrefix(signatureHeader, SignaturePrefix) {
		return ErrSignatureMismatch
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, SignaturePrefix))
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

func (a *WebhookAuthenticator) verifyFreshness(timestampHeader string) error {
	sentAt, err := time.Parse(time.RFC3339Nano, timestampHeader)
	if err != nil {
		return errors.Wrap(err, ErrTimestampStale.Category, "webhook timestamp is not valid ISO-8601").
			WithCode(ErrTimestampStale.Code).
			WithTextCode(ErrTimestampStale.TextCode)
	}

	delta := a.nowFn().Sub(sentAt.UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > a.window {
		return errors.Wrap(ErrTimestampStale, ErrTimestampStale.Category, ErrTimestampStale.Message).
			WithCode(ErrTimestampStale.Code).
			WithTextCode(ErrTimestampStale.TextCode).
			WithMetadata(map[string]any{
				"drift_ms":  delta.Milliseconds(),
				"window_ms": a.window.Milliseconds(),
			})
	}
	return nil
}

// Sign computes the signature header value for a payload. It exists so tests
// and outbound callers share one digest convention with Authenticate.
func Sign(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
