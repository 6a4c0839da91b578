package security

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/oklog/ulid/v2"
)

var errUnknownKeyID = errors.New("unknown key id")

// AccessClaims holds JWT claims for the access token. sub is the user id and sid
// binds the token to a session.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenProvider issues and validates short-lived access JWTs signed by the KeyManager's key.
//
// Validation never consults the session store: a revoked session's access tokens stay
// valid until their own expiry. Callers that need to close that window check the
// store separately.
type TokenProvider struct {
	keys      *KeyManager
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenProvider returns a TokenProvider. issuer and audience are set on issued
// claims and required on validation.
func NewTokenProvider(keys *KeyManager, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		keys:      keys,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// Ready reports whether the signing key can be loaded.
func (p *TokenProvider) Ready() error {
	_, err := p.keys.Load()
	return err
}

// IssueAccess issues an access JWT for userID bound to sessionID.
// Returns the token and its lifetime in seconds.
func (p *TokenProvider) IssueAccess(userID, sessionID string) (token string, expiresIn int64, err error) {
	now := p.now().UTC().Truncate(time.Second)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTTL)),
		},
		SessionID: sessionID,
	}
	token, err = p.keys.Sign(claims)
	if err != nil {
		return "", 0, err
	}
	return token, int64(p.accessTTL / time.Second), nil
}

// ValidateAccess verifies signature, kid, algorithm, issuer, audience and expiry.
// Every failure wraps ErrInvalidToken together with ErrSignatureInvalid or ErrClaimsInvalid.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	k, err := p.keys.Load()
	if err != nil {
		log.Printf("security: access token validation unavailable: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if kid, _ := t.Header["kid"].(string); kid != k.KeyID {
			return nil, errUnknownKeyID
		}
		return k.Public, nil
	},
		jwt.WithValidMethods([]string{k.Alg}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid || claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrClaimsInvalid)
	}
	return claims, nil
}

// PublicKeySet returns the JWK set for external verifiers.
func (p *TokenProvider) PublicKeySet() (jwk.Set, error) {
	return p.keys.PublicJWKSet()
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrSignatureInvalid)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrClaimsInvalid)
	}
}
