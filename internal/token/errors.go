package token

import "errors"

// Verification failures form a closed set so callers can pattern-match with
// errors.Is instead of comparing library error strings. All three are fatal to
// the request; the split exists for client UX only.
var (
	// ErrExpired indicates a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrSignature indicates a signature, algorithm, issuer or audience mismatch.
	ErrSignature = errors.New("token signature invalid")
	// ErrMalformed indicates input that does not parse as a JWT at all.
	ErrMalformed = errors.New("token malformed")
)
