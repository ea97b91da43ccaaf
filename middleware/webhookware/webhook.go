// Package webhookware gates inbound partner webhooks on HMAC signature and
// timestamp freshness before they reach business handlers.
package webhookware

import (
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-gatekeeper"
)

const (
	// DefaultServiceIDHeader names the sending service.
	DefaultServiceIDHeader = "X-Service-Id"
	// DefaultSignatureHeader carries "sha256=<hex>" over the raw body.
	DefaultSignatureHeader = "X-Signature"
	// DefaultTimestampHeader carries the optional ISO-8601 send time.
	DefaultTimestampHeader = "X-Timestamp"
)

type Config struct {
	// Filter skips the middleware when it returns true.
	Filter func(c *fiber.Ctx) bool

	// Authenticator is required.
	Authenticator *gatekeeper.WebhookAuthenticator

	// Header names, defaulted to the X-Service-Id/X-Signature/X-Timestamp
	// contract.
	ServiceIDHeader string
	SignatureHeader string
	TimestampHeader string

	// ErrorHandler translates an authentication failure into a response. The
	// default renders a 401 (500 for missing sender secrets) with the
	// machine-readable reason code.
	ErrorHandler func(c *fiber.Ctx, err error) error

	// Sink receives webhook-rejected activity events for abuse monitoring.
	Sink gatekeeper.ActivitySink

	// Logger defaults to the gatekeeper package logger.
	Logger gatekeeper.Logger
}

// New returns a fiber handler that authenticates the webhook envelope and
// passes control to the next handler only when the signature and freshness
// checks succeed. The body is read exactly as received; handlers downstream
// see the same bytes that were signed.
func New(config ...Config) fiber.Handler {
	cfg := getDefaultConfig(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		senderID := c.Get(cfg.ServiceIDHeader)
		signature := c.Get(cfg.SignatureHeader)
		timestamp := c.Get(cfg.TimestampHeader)

		err := cfg.Authenticator.Authenticate(senderID, c.Body(), signature, timestamp)
		if err != nil {
			recordRejection(c, cfg, senderID, err)
			return cfg.ErrorHandler(c, err)
		}

		return c.Next()
	}
}

func getDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Authenticator == nil {
		panic("GATE: webhook middleware configuration: Authenticator is required.")
	}

	if cfg.ServiceIDHeader == "" {
		cfg.ServiceIDHeader = DefaultServiceIDHeader
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = DefaultTimestampHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = silentLogger{}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "webhook authentication failed").
			WithCode(goerrors.CodeUnauthorized)
	}

	status := fiber.StatusUnauthorized
	if gatekeeper.IsConfigError(err) {
		// missing sender secret is our misconfiguration, not the caller's
		status = fiber.StatusInternalServerError
	}

	return c.Status(status).JSON(fiber.Map{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func recordRejection(c *fiber.Ctx, cfg Config, senderID string, err error) {
	var richErr *goerrors.Error
	textCode := ""
	var metadata map[string]any
	if goerrors.As(err, &richErr) {
		textCode = richErr.TextCode
		metadata = richErr.Metadata
	}

	cfg.Logger.Info(
		"webhook rejected sender=%s text_code=%s details=%s",
		senderID,
		textCode,
		print.MaybePrettyJSON(metadata),
	)

	if cfg.Sink == nil {
		return
	}
	event := gatekeeper.NewActivityEvent(gatekeeper.ActivityEventWebhookRejected, map[string]any{
		"text_code": textCode,
		"path":      c.Path(),
	})
	event.SenderID = senderID
	if sinkErr := cfg.Sink.Record(c.UserContext(), event); sinkErr != nil {
		cfg.Logger.Warn("activity sink rejected webhook event: %v", sinkErr)
	}
}

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}
