package ratelimit

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	// DefaultWindow is the window length used when a policy leaves it zero.
	DefaultWindow = time.Minute
	// DefaultMaxRequests is the per-window budget used when a policy leaves
	// it zero.
	DefaultMaxRequests = 60
)

// Policy is an explicit, typed rate-limit configuration. Zero fields pick up
// the documented defaults through Normalize; Validate rejects negatives and
// missing names at construction.
type Policy struct {
	// Name prefixes every counter key so policies never share windows.
	Name string
	// Window is the fixed window length.
	Window time.Duration
	// MaxRequests is the number of allowed requests per window.
	MaxRequests int
}

// Validate checks the policy at construction time.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&p.Window, validation.Min(time.Duration(0))),
		validation.Field(&p.MaxRequests, validation.Min(0)),
	)
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.MaxRequests <= 0 {
		p.MaxRequests = DefaultMaxRequests
	}
	return p
}

// Key composes the canonical counter key {policy}:{dimension}:{value}.
func (p Policy) Key(dimension, value string) string {
	dimension = strings.TrimSpace(strings.ToLower(dimension))
	value = strings.TrimSpace(value)
	if value == "" {
		value = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s", p.Name, dimension, value)
}

// Result is the outcome of one gate check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Limit echoes the policy budget.
	Limit int
	// Current is the window count after this check.
	Current int
	// Remaining is the budget left in the window, never negative.
	Remaining int
	// ResetAt is when the active window expires.
	ResetAt time.Time
	// RetryAfter is how long a denied caller should wait, zero when allowed.
	RetryAfter time.Duration
}
