package security

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
)

// KeySource is the configured key material: inline PEM or a file path for each half.
// PublicKey may be empty, in which case it is derived from PrivateKey.
type KeySource struct {
	PrivateKey string
	PublicKey  string
}

// SigningKey is the parsed signing key and everything derived from it. It is
// immutable once built.
type SigningKey struct {
	Signer crypto.Signer
	Public crypto.PublicKey
	// Alg is the JWS algorithm fixed for this key (RS256 or ES256).
	Alg string
	// KeyID is the RFC 7638 SHA-256 thumbprint of the public key, base64url encoded.
	KeyID string

	jwk jwk.Key
}

// KeyManager holds the service's single signing key. The key is parsed lazily on
// first use. Concurrent first callers share one in-flight parse; a parse failure is
// returned to every waiter and is not cached, so a later call retries. After a
// successful parse callers read the cached key without locking.
type KeyManager struct {
	mu     sync.Mutex
	source KeySource
	load   func(KeySource) (*SigningKey, error)
	// gen changes whenever the source is replaced. A parse only caches its result
	// if gen is unchanged when it finishes.
	gen uint64

	group singleflight.Group
	key   atomic.Pointer[SigningKey]
}

// NewKeyManager returns a KeyManager for src. Nothing is parsed until Load.
func NewKeyManager(src KeySource) *KeyManager {
	return &KeyManager{source: src, load: loadSigningKey}
}

// Load returns the parsed signing key, parsing it on first call.
// Errors wrap ErrKeyMaterialInvalid.
func (m *KeyManager) Load() (*SigningKey, error) {
	if k := m.key.Load(); k != nil {
		return k, nil
	}
	m.mu.Lock()
	src, load, gen := m.source, m.load, m.gen
	m.mu.Unlock()
	v, err, _ := m.group.Do("signing-key/"+strconv.FormatUint(gen, 10), func() (any, error) {
		if k := m.key.Load(); k != nil {
			return k, nil
		}
		k, err := load(src)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.gen == gen {
			m.key.Store(k)
		}
		m.mu.Unlock()
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SigningKey), nil
}

// Sign signs claims with the current key and sets the kid header.
func (m *KeyManager) Sign(claims jwt.Claims) (string, error) {
	k, err := m.Load()
	if err != nil {
		return "", err
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(k.Alg), claims)
	t.Header["kid"] = k.KeyID
	return t.SignedString(k.Signer)
}

// PublicJWKSet returns a JWK set holding exactly the current public key, carrying
// kid, alg and use=sig. It is all an external verifier needs.
func (m *KeyManager) PublicJWKSet() (jwk.Set, error) {
	k, err := m.Load()
	if err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(k.jwk); err != nil {
		return nil, err
	}
	return set, nil
}

func loadSigningKey(src KeySource) (*SigningKey, error) {
	signer, err := ParsePrivateKey(src.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %w", ErrKeyMaterialInvalid, err)
	}
	pub := signer.Public()
	alg := KeyAlg(pub)
	if alg == "" {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrKeyMaterialInvalid, pub)
	}
	if src.PublicKey != "" {
		configured, err := ParsePublicKey(src.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: public key: %w", ErrKeyMaterialInvalid, err)
		}
		if !samePublicKey(pub, configured) {
			return nil, fmt.Errorf("%w: public key does not match private key", ErrKeyMaterialInvalid)
		}
	}

	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: jwk: %w", ErrKeyMaterialInvalid, err)
	}
	thumb, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: thumbprint: %w", ErrKeyMaterialInvalid, err)
	}
	kid := base64.RawURLEncoding.EncodeToString(thumb)
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("%w: jwk kid: %w", ErrKeyMaterialInvalid, err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwsAlgorithm(alg)); err != nil {
		return nil, fmt.Errorf("%w: jwk alg: %w", ErrKeyMaterialInvalid, err)
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, fmt.Errorf("%w: jwk use: %w", ErrKeyMaterialInvalid, err)
	}

	return &SigningKey{Signer: signer, Public: pub, Alg: alg, KeyID: kid, jwk: key}, nil
}

func jwsAlgorithm(alg string) jwa.SignatureAlgorithm {
	if alg == "ES256" {
		return jwa.ES256()
	}
	return jwa.RS256()
}
