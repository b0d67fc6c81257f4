package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinKeyBytes is the minimum accepted root secret length.
	MinKeyBytes = 32

	// DefaultTokenBytes is the entropy of generated tokens (256 bits).
	DefaultTokenBytes = 32

	// PurposeShare scopes digests of quest share tokens.
	PurposeShare = "fieldquest/share-token/v1"
)

// Hasher computes purpose-bound HMAC-SHA256 digests of opaque tokens.
type Hasher struct {
	key []byte
}

// NewHasher derives a purpose key from secret with HKDF-SHA256.
func NewHasher(secret []byte, purpose string) (*Hasher, error) {
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, ErrHMACKeyMissing
	}
	if len(secret) < MinKeyBytes {
		return nil, ErrHMACKeyTooShort
	}

	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &Hasher{key: key}, nil
}

// Hash returns the hex HMAC-SHA256 of tok under the derived key.
func (h *Hasher) Hash(tok string) string {
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(tok))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// New returns a random base64url (no padding) token with nBytes of entropy.
// If nBytes <= 0, DefaultTokenBytes is used.
func New(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Normalize trims tok and rejects values that cannot be a generated token.
func Normalize(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrEmptyToken
	}
	if len(tok) > 256 {
		return "", ErrMalformedToken
	}
	return tok, nil
}
