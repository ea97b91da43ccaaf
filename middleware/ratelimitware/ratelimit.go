package ratelimitware

import (
	"strings"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/ratelimit"
)

// DefaultProblemType identifies the rate-limited problem in RFC 7807 bodies.
const DefaultProblemType = "https://problems.goliatone.com/rate-limited"

// Problem is the RFC 7807 style payload returned on a denial.
type Problem struct {
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Status     int        `json:"status"`
	Detail     string     `json:"detail"`
	Instance   string     `json:"instance"`
	Extensions Extensions `json:"extensions"`
}

// Extensions carries the machine-readable limit state.
type Extensions struct {
	Limit      int   `json:"limit"`
	Current    int   `json:"current"`
	Remaining  int   `json:"remaining"`
	ResetAt    int64 `json:"reset_at"`
	RetryAfter int64 `json:"retry_after"`
}

// KeyFunc derives the "{dimension}:{value}" part of a counter key from the
// request; the middleware prefixes it with the policy name.
type KeyFunc func(ctx router.Context) string

type Config struct {
	// Filter skips the middleware when it returns true.
	Filter func(router.Context) bool

	// Limiter is required.
	Limiter *ratelimit.Limiter

	// Policy names the window and budget. Zero fields pick up defaults.
	Policy ratelimit.Policy

	// KeyFunc defaults to IPKey. Key-generation failure inside a custom
	// KeyFunc should fall back to IPKey rather than rejecting the request;
	// PrincipalKey and ClientIDKey already do.
	KeyFunc KeyFunc

	// ErrorHandler handles a denial. The default writes the problem payload.
	ErrorHandler func(ctx router.Context, result ratelimit.Result) error

	// ProblemType overrides the problem type URI.
	ProblemType string

	// Sink receives rate-limited activity events for abuse monitoring.
	Sink gatekeeper.ActivitySink

	// Logger defaults to a silent logger.
	Logger gatekeeper.Logger
}

// New returns a middleware that gates requests through the limiter and
// decorates every response with X-RateLimit headers. Denials become a 429
// with a Retry-After header and an RFC 7807 body.
func New(config ...Config) router.MiddlewareFunc {
	cfg := getDefaultConfig(config...)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			key := cfg.Policy.Key(splitKey(cfg.KeyFunc(ctx)))
			result, err := cfg.Limiter.Check(ctx.Context(), key, cfg.Policy)
			if err != nil {
				// the limiter fails open internally; an error here is a
				// programming mistake, not an enforcement decision
				cfg.Logger.Error("rate limit check failed for %s: %v", key, err)
				return ctx.Next()
			}

			setRateHeaders(ctx, result)

			if !result.Allowed {
				recordDenial(ctx, cfg, key, result)
				return cfg.ErrorHandler(ctx, result)
			}

			return ctx.Next()
		}
	}
}

func getDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Limiter == nil {
		panic("GATE: rate limit middleware configuration: Limiter is required.")
	}

	cfg.Policy = cfg.Policy.Normalize()

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPKey
	}
	if cfg.ProblemType == "" {
		cfg.ProblemType = DefaultProblemType
	}
	if cfg.Logger == nil {
		cfg.Logger = silentLogger{}
	}
	if cfg.ErrorHandler == nil {
		problemType := cfg.ProblemType
		cfg.ErrorHandler = func(ctx router.Context, result ratelimit.Result) error {
			ctx.SetHeader("Retry-After", formatSeconds(result.RetryAfter))
			return ctx.JSON(router.StatusTooManyRequests, Problem{
				Type:     problemType,
				Title:    "Too Many Requests",
				Status:   router.StatusTooManyRequests,
				Detail:   "Request rate limit exceeded. Retry after the indicated delay.",
				Instance: "urn:uuid:" + uuid.NewString(),
				Extensions: Extensions{
					Limit:      result.Limit,
					Current:    result.Current,
					Remaining:  result.Remaining,
					ResetAt:    result.ResetAt.Unix(),
					RetryAfter: ceilSeconds(result.RetryAfter),
				},
			})
		}
	}

	return cfg
}

func setRateHeaders(ctx router.Context, result ratelimit.Result) {
	ctx.SetHeader("X-RateLimit-Limit", itoa(result.Limit))
	ctx.SetHeader("X-RateLimit-Remaining", itoa(result.Remaining))
	ctx.SetHeader("X-RateLimit-Reset", itoa64(result.ResetAt.Unix()))
}

func recordDenial(ctx router.Context, cfg Config, key string, result ratelimit.Result) {
	if cfg.Sink == nil {
		return
	}
	event := gatekeeper.NewActivityEvent(gatekeeper.ActivityEventRateLimited, map[string]any{
		"limit":       result.Limit,
		"current":     result.Current,
		"retry_after": result.RetryAfter.String(),
		"path":        ctx.Path(),
	})
	event.Key = key
	if err := cfg.Sink.Record(ctx.Context(), event); err != nil {
		cfg.Logger.Warn("activity sink rejected rate limit event: %v", err)
	}
}

// splitKey breaks a "{dimension}:{value}" key into its parts, tolerating
// values that themselves contain colons.
func splitKey(key string) (string, string) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return "key", key
	}
	return parts[0], parts[1]
}

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}
