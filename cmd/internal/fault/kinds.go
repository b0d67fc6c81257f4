// Package fault defines the error taxonomy shared by FieldQuest components.
//
// Components wrap these kinds (directly or through OpError) so that transport
// layers can map any error to a status code with errors.Is.
package fault

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrValidation          = errors.New("validation")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not_found")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("rate_limited")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
)
