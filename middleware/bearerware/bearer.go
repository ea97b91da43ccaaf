// Package bearerware guards routes behind bearer-token verification and
// optional scope and permission checks, storing the verified principal in
// both the router locals and the standard context.
package bearerware

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-gatekeeper"
)

// ErrMissingBearer is returned when no bearer credential is present.
var ErrMissingBearer = errors.New("missing or malformed bearer token")

// DefaultContextKey stores the principal in router locals.
const DefaultContextKey = "principal"

type Config struct {
	// Filter skips the middleware when it returns true.
	Filter func(router.Context) bool

	// Verifier is required.
	Verifier gatekeeper.TokenVerifier

	// RequiredScopes must all be present on the principal. Empty means any
	// verified principal passes.
	RequiredScopes []string

	// Permissions, when set together with ResourceID, gates the route on the
	// cached subscription grant.
	Permissions *gatekeeper.PermissionCache
	ResourceID  string
	// MinimumGrant defaults to read.
	MinimumGrant gatekeeper.Grant

	// ContextKey defaults to "principal".
	ContextKey string

	// AuthScheme defaults to "Bearer".
	AuthScheme string

	// ErrorHandler translates verification failures into a response.
	ErrorHandler func(ctx router.Context, err error) error

	// SuccessHandler runs after all checks pass. Defaults to ctx.Next().
	SuccessHandler router.HandlerFunc

	// Sink receives token-rejected activity events for abuse monitoring.
	Sink gatekeeper.ActivitySink

	// Logger defaults to a silent logger.
	Logger gatekeeper.Logger
}

// New returns a middleware that verifies the bearer token, enforces scopes
// and permissions, and propagates the principal downstream.
func New(config ...Config) router.MiddlewareFunc {
	cfg := getDefaultConfig(config...)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := extractBearer(ctx, cfg.AuthScheme)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			principal, err := cfg.Verifier.Verify(raw)
			if err != nil {
				recordRejection(ctx, cfg, "", err)
				return cfg.ErrorHandler(ctx, err)
			}

			if !principal.HasRequiredScopes(cfg.RequiredScopes) {
				err := goerrors.New(
					"token is missing required scopes",
					goerrors.CategoryAuthz,
				).WithCode(goerrors.CodeForbidden)
				recordRejection(ctx, cfg, principal.Subject, err)
				return cfg.ErrorHandler(ctx, err)
			}

			stdCtx := gatekeeper.WithPrincipal(ctx.Context(), principal)

			if cfg.Permissions != nil && cfg.ResourceID != "" {
				entry, err := cfg.Permissions.CheckPermission(stdCtx, principal.Subject, cfg.ResourceID)
				if err != nil {
					recordRejection(ctx, cfg, principal.Subject, err)
					return cfg.ErrorHandler(ctx, err)
				}
				if !entry.Grant.IsAtLeast(cfg.MinimumGrant) {
					err := goerrors.New(
						"subscription does not cover this resource",
						goerrors.CategoryAuthz,
					).WithCode(goerrors.CodeForbidden).
						WithMetadata(map[string]any{"reason": string(entry.Reason)})
					recordRejection(ctx, cfg, principal.Subject, err)
					return cfg.ErrorHandler(ctx, err)
				}
				stdCtx = gatekeeper.WithPermission(stdCtx, entry)
			}

			ctx.Locals(cfg.ContextKey, principal)
			ctx.SetContext(stdCtx)

			return cfg.SuccessHandler(ctx)
		}
	}
}

func getDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Verifier == nil {
		panic("GATE: bearer middleware configuration: Verifier is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.MinimumGrant == "" {
		cfg.MinimumGrant = gatekeeper.GrantRead
	}
	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.Logger == nil {
		cfg.Logger = silentLogger{}
	}

	return cfg
}

func recordRejection(ctx router.Context, cfg Config, subject string, err error) {
	if cfg.Sink == nil {
		return
	}

	var richErr *goerrors.Error
	textCode := ""
	if goerrors.As(err, &richErr) {
		textCode = richErr.TextCode
	}

	event := gatekeeper.NewActivityEvent(gatekeeper.ActivityEventTokenRejected, map[string]any{
		"text_code": textCode,
		"path":      ctx.Path(),
	})
	event.PrincipalID = subject
	if sinkErr := cfg.Sink.Record(ctx.Context(), event); sinkErr != nil {
		cfg.Logger.Warn("activity sink rejected token event: %v", sinkErr)
	}
}

func defaultErrorHandler(ctx router.Context, err error) error {
	if errors.Is(err, ErrMissingBearer) {
		return ctx.Status(router.StatusBadRequest).SendString(ErrMissingBearer.Error())
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code == goerrors.CodeForbidden {
		return ctx.Status(router.StatusForbidden).SendString(richErr.Message)
	}
	return ctx.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
}

// GetPrincipal extracts the verified principal from the router context.
func GetPrincipal(ctx router.Context, key string) (gatekeeper.Principal, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return gatekeeper.Principal{}, false
	}
	principal, ok := raw.(gatekeeper.Principal)
	return principal, ok
}

// ContextEnricher mirrors gatekeeper.WithPrincipal for callers composing
// their own middleware stacks.
func ContextEnricher(ctx context.Context, principal gatekeeper.Principal) context.Context {
	return gatekeeper.WithPrincipal(ctx, principal)
}

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}

func extractBearer(ctx router.Context, scheme string) (string, error) {
	auth := strings.TrimSpace(ctx.GetString(router.HeaderAuthorization, ""))
	l := len(scheme)
	if auth == "" || l == 0 {
		return "", ErrMissingBearer
	}
	if len(auth) > l+1 && strings.EqualFold(auth[:l], scheme) {
		return strings.TrimSpace(auth[l:]), nil
	}
	return "", ErrMissingBearer
}
