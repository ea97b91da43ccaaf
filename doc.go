// Package gatekeeper provides the trust-boundary primitives that sit between
// the public surface of a platform and its business handlers: bearer-token
// verification, inbound webhook authentication, subscription-aware permission
// caching, and proactive client-side token rotation.
//
// Request gates:
//   - Verifier validates bearer tokens (shared HMAC secret or a remote JWK
//     set) and produces a Principal with a normalized scope set. Verification
//     is local and deterministic; it never retries.
//   - WebhookAuthenticator checks HMAC-SHA256 signatures and timestamp
//     freshness on partner webhooks. Comparison is constant-time; the check is
//     side-effect free so callers own replay deduplication.
//   - PermissionCache maps (principal, resource) to a grant with a short TTL,
//     coalescing concurrent lookups and failing closed when the subscription
//     source is unreachable. Subscription mutations invalidate eagerly, either
//     directly or through the SubscriptionMutatedMessage command handler.
//
// Background work:
//   - RotationScheduler watches a held StoredToken and refreshes it before the
//     grace period elapses, with exponential backoff on transient failures.
//     Stop guarantees no residual timers or refresh calls.
//
// Rate limiting lives in the ratelimit subpackage; HTTP wiring lives under
// middleware/bearerware, middleware/ratelimitware, and middleware/webhookware.
//
// Activity sinks:
//   - ActivitySink is a light-weight emitter used by the gates to describe
//     rejected tokens, stale webhooks, throttled principals, and rotation
//     outcomes. Sinks run best-effort (errors are logged) so you can forward
//     to a database or queue without blocking request handling.
package gatekeeper
