package gatekeeper

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SecretSource resolves the shared secret registered for a webhook sender.
// Absence of a secret is treated as server misconfiguration, never as an
// attacker-controlled condition.
type SecretSource interface {
	WebhookSecret(senderID string) (string, bool)
}

// SecretSourceFunc adapts a function into a SecretSource.
type SecretSourceFunc func(senderID string) (string, bool)

// WebhookSecret satisfies the SecretSource interface.
func (f SecretSourceFunc) WebhookSecret(senderID string) (string, bool) {
	if f == nil {
		return "", false
	}
	return f(senderID)
}

// SecretMap is a static SecretSource backed by a map of sender id to secret.
type SecretMap map[string]string

// WebhookSecret satisfies the SecretSource interface.
func (m SecretMap) WebhookSecret(senderID string) (string, bool) {
	secret, ok := m[senderID]
	if !ok || secret == "" {
		return "", false
	}
	return secret, true
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] GATE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] GATE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] GATE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] GATE "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func utcNow() time.Time {
	return time.Now().UTC()
}
