package fault

import (
	"errors"
	"fmt"
	"time"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds. Msg may carry human-readable context; never secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// E builds an OpError.
func E(op string, kind error, msg string) error {
	return OpError{Op: op, Kind: kind, Msg: msg}
}

// RateLimitedError carries the retry hint for a rejected call.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	if e.RetryAfter <= 0 {
		return fmt.Sprintf("%s: %v", e.Scope, ErrRateLimited)
	}
	return fmt.Sprintf("%s: %v: retry after %s", e.Scope, ErrRateLimited, e.RetryAfter)
}

func (e RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
