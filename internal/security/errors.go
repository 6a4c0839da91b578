package security

import "errors"

var (
	// ErrMalformedCredential is returned when a refresh token does not have the
	// "{sessionId}.{secret}" shape. Decoding is syntactic only.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrKeyMaterialInvalid is returned when the configured signing key cannot be
	// parsed, is of an unsupported type, or the public key does not match the private key.
	// It is an operational fault and is never collapsed into a generic token error.
	ErrKeyMaterialInvalid = errors.New("signing key material invalid")

	// ErrInvalidToken is the single outward signal for any access token verification failure.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSignatureInvalid marks a token whose signature, algorithm or key id could not be verified.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrClaimsInvalid marks a token with a valid signature but unacceptable claims
	// (expired, wrong issuer or audience, missing subject or session).
	ErrClaimsInvalid = errors.New("token claims invalid")

	// ErrPasswordMismatch is returned by Hasher.Compare when the password does not match.
	ErrPasswordMismatch = errors.New("password does not match")
)
