package gatekeeper

// MultiVerifier tries verifiers in order until one succeeds. It treats
// invalid-token errors as "try next" and returns the last invalid error if
// all verifiers fail; expiry errors short-circuit because a later verifier
// cannot revive an expired token.
type MultiVerifier struct {
	verifiers []TokenVerifier
}

// NewMultiVerifier filters nil verifiers and returns a composite verifier.
func NewMultiVerifier(verifiers ...TokenVerifier) *MultiVerifier {
	filtered := make([]TokenVerifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiVerifier{verifiers: filtered}
}

// Verify satisfies the TokenVerifier interface.
func (m *MultiVerifier) Verify(tokenString string) (Principal, error) {
	var lastErr error
	for _, v := range m.verifiers {
		principal, err := v.Verify(tokenString)
		if err == nil {
			return principal, nil
		}
		if IsTokenInvalidError(err) {
			lastErr = err
			continue
		}
		return Principal{}, err
	}
	if lastErr != nil {
		return Principal{}, lastErr
	}
	return Principal{}, ErrTokenInvalid
}

var _ TokenVerifier = (*MultiVerifier)(nil)
