package access

import (
	"errors"
	"strings"
	"time"

	"fieldquest/cmd/internal/validation"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the minimum HS256 secret length.
const MinSecretBytes = 32

// Identity is the verified owner identity carried by a bearer token.
type Identity struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(token string, now time.Time) (Identity, error)
}

// VerifierConfig configures JWTVerifier. Issuer and Audience are enforced
// only when set.
type VerifierConfig struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type identityClaims struct {
	Subject  string `json:"sub" validate:"required,max=128"`
	Username string `json:"username" validate:"required,max=64"`
}

// JWTVerifier verifies HS256 tokens.
type JWTVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewJWTVerifier validates cfg and returns a verifier.
func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrConfig
	}
	if cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &JWTVerifier{secret: secret, opts: opts}, nil
}

// Verify parses tok at time now.
func (v *JWTVerifier) Verify(tok string, now time.Time) (Identity, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > 4096 {
		return Identity{}, ErrInvalidToken
	}

	opts := append(v.opts[:len(v.opts):len(v.opts)], jwt.WithTimeFunc(func() time.Time { return now }))
	var c claims
	_, err := jwt.ParseWithClaims(tok, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	id := identityClaims{Subject: strings.TrimSpace(c.Subject), Username: strings.TrimSpace(c.Username)}
	if err := validation.Struct(id); err != nil {
		return Identity{}, ErrInvalidToken
	}

	out := Identity{UserID: id.Subject, Username: id.Username}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.UTC()
	}
	return out, nil
}
