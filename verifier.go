package gatekeeper

import (
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenVerifier validates bearer tokens and extracts the principal without
// tying callers to a specific signing implementation.
type TokenVerifier interface {
	Verify(tokenString string) (Principal, error)
}

// VerifierFunc adapts a function into a TokenVerifier.
type VerifierFunc func(tokenString string) (Principal, error)

// Verify satisfies the TokenVerifier interface.
func (f VerifierFunc) Verify(tokenString string) (Principal, error) {
	if f == nil {
		return Principal{}, ErrVerifierNotConfigured
	}
	return f(tokenString)
}

// VerifierConfig holds verification options. At least one of SigningKey or
// JWKSetURLs is required; everything else has documented defaults.
type VerifierConfig struct {
	// SigningKey is the shared HMAC secret for locally issued tokens.
	SigningKey []byte
	// JWKSetURLs enables remote key-set verification for externally issued
	// tokens. Keys are refreshed in the background by keyfunc.
	JWKSetURLs []string
	// Issuer, when set, must match the token iss claim exactly.
	Issuer string
	// Audience entries, when set, must intersect the token aud claim.
	Audience []string
	// Logger defaults to the package logger.
	Logger Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Verifier validates HS256 tokens against a shared secret or any JWS
// algorithm advertised by a remote JWK set, then checks issuer, audience, and
// expiry claims. Verification is CPU-bound and deterministic for a given
// secret and clock; it never retries.
type Verifier struct {
	signingKey []byte
	keyFunc    jwt.Keyfunc
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	nowFn      func() time.Time
}

// NewVerifier validates the configuration and returns a Verifier. A missing
// secret and key set is a hard configuration error, not a per-request one.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if len(cfg.SigningKey) == 0 && len(cfg.JWKSetURLs) == 0 {
		return nil, ErrVerifierNotConfigured
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defLogger{}
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = utcNow
	}

	v := &Verifier{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		audience:   jwt.ClaimStrings(cfg.Audience),
		logger:     logger,
		nowFn:      nowFn,
	}

	if len(cfg.JWKSetURLs) > 0 {
		kf, err := jwkSetKeyfunc(cfg.JWKSetURLs, logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load JWK set")
		}
		v.keyFunc = kf
	} else {
		v.keyFunc = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				logger.Error("Verifier encountered unexpected signing method: %v", t.Header["alg"])
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return cfg.SigningKey, nil
		}
	}

	return v, nil
}

// Verify parses and validates a token string, returning the principal built
// from the sub, scope, exp, and iat claims.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	claims := &principalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return Principal{}, errors.Wrap(err, ErrTokenInvalid.Category, ErrTokenInvalid.Message).
			WithCode(ErrTokenInvalid.Code).
			WithTextCode(ErrTokenInvalid.TextCode)
	}
	if !token.Valid {
		return Principal{}, ErrTokenInvalid
	}

	if v.issuer != "" && claims.RegisteredClaims.Issuer != v.issuer {
		return Principal{}, ErrTokenInvalid
	}
	if len(v.audience) > 0 && !audienceMatches(claims.RegisteredClaims.Audience, v.audience) {
		return Principal{}, ErrTokenInvalid
	}

	// Expiry is strict: a token expiring at exactly now is still honored for
	// that instant.
	if claims.RegisteredClaims.ExpiresAt != nil {
		if v.nowFn().After(claims.RegisteredClaims.ExpiresAt.Time) {
			return Principal{}, ErrTokenExpired
		}
	}

	return claims.principal(), nil
}

// HasRequiredScopes reports whether the principal satisfies every required
// scope. An empty required list is vacuously true.
func HasRequiredScopes(p Principal, required []string) bool {
	return p.HasRequiredScopes(required)
}

func audienceMatches(tokenAud, expected jwt.ClaimStrings) bool {
	for _, want := range expected {
		for _, have := range tokenAud {
			if have == want {
				return true
			}
		}
	}
	return false
}

func jwkSetKeyfunc(urls []string, logger Logger) (jwt.Keyfunc, error) {
	opts := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("background JWK set refresh failed: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}

	if len(urls) == 1 {
		jwks, err := keyfunc.Get(urls[0], opts)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWK set from %s: %w", urls[0], err)
		}
		return jwks.Keyfunc, nil
	}

	m := make(map[string]keyfunc.Options, len(urls))
	for _, url := range urls {
		m[url] = opts
	}
	multi, err := keyfunc.GetMultiple(m, keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK set URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

var _ TokenVerifier = (*Verifier)(nil)
