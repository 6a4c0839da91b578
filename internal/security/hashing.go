package security

import "errors"

// Hasher hashes and verifies passwords using Argon2id. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Params Argon2Params
}

// NewHasher returns a Hasher with the given parameters. A zero MemoryKiB selects
// PasswordParams; other zero fields are raised to safe minima.
func NewHasher(p Argon2Params) *Hasher {
	if p.MemoryKiB == 0 {
		p = PasswordParams
	}
	if p.Iterations == 0 {
		p.Iterations = 1
	}
	if p.Parallelism == 0 {
		p.Parallelism = 1
	}
	if p.SaltLength < 16 {
		p.SaltLength = 16
	}
	if p.KeyLength < minKeyLength {
		p.KeyLength = 32
	}
	return &Hasher{Params: p}
}

// Hash produces a PHC-encoded Argon2id hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	return hashArgon2id(password, h.Params)
}

// Compare verifies password against the stored hash in constant time. Returns nil
// on match, ErrPasswordMismatch on mismatch, or a decode error for a corrupt hash.
func (h *Hasher) Compare(hash string, password []byte) error {
	ok, err := verifyArgon2id(hash, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPasswordMismatch
	}
	return nil
}
