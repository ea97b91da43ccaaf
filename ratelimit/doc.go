// Package ratelimit implements a fixed-window request counter keyed by
// principal, IP, or client id, with the counter authority held in an external
// store so concurrent server instances share one set of windows.
//
// The algorithm is deliberately a single-active-window approximation rather
// than a true sliding window: it is simpler, cheap at the store layer, and
// allows brief bursts at window boundaries. Callers that need stronger
// guarantees should front this with a token bucket.
//
// When the counter store is unreachable the limiter fails open and logs;
// availability is prioritized over strict enforcement at this tier.
package ratelimit
