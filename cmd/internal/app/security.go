package app

import (
	"errors"
	"fmt"

	"fieldquest/cmd/internal/access"
	"fieldquest/cmd/security/token"
)

// secretBytes reports whether s is long enough to key an HMAC.
func secretBytes(s string, minLen int) bool { return len(s) >= minLen }

func (c Config) validateSecrets() error {
	switch {
	case c.Auth.JWTSecret == "":
		return errors.New("auth.jwt_secret is required (FQ_AUTH_JWT_SECRET)")
	case !secretBytes(c.Auth.JWTSecret, access.MinSecretBytes):
		return fmt.Errorf("auth.jwt_secret is too short (min %d bytes)", access.MinSecretBytes)
	case c.Share.TokenKey == "":
		return errors.New("share.token_key is required (FQ_SHARE_TOKEN_KEY)")
	case !secretBytes(c.Share.TokenKey, token.MinKeyBytes):
		return fmt.Errorf("share.token_key is too short (min %d bytes)", token.MinKeyBytes)
	case c.Auth.JWTSecret == c.Share.TokenKey:
		return errors.New("auth.jwt_secret and share.token_key must differ")
	}
	return nil
}
