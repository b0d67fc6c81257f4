// Package access authenticates callers and decides who may read a quest.
//
// Two credentials exist. Owners present a bearer JWT issued elsewhere; only
// its signature, expiry and identity claims are checked here. Guests present
// a share token, which binds them to exactly one quest.
package access

import (
	"fmt"

	"fieldquest/cmd/internal/fault"
)

var (
	ErrMissingCredentials = fmt.Errorf("access: missing credentials: %w", fault.ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("access: invalid token: %w", fault.ErrUnauthenticated)
	ErrExpiredToken       = fmt.Errorf("access: token expired: %w", fault.ErrUnauthenticated)
	ErrForbidden          = fmt.Errorf("access: %w", fault.ErrForbidden)
	ErrConfig             = fmt.Errorf("access: invalid config: %w", fault.ErrValidation)
)
