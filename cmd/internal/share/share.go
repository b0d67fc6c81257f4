// Package share issues and resolves quest share capabilities.
//
// A guest share is an opaque, unguessable token bound to one quest; holding
// the token is the only thing needed to act as that guest on that quest. Only
// the token's HMAC digest is stored. Expired and revoked shares resolve as
// not found, while their rows (and the progress recorded under them) remain
// for history.
//
// Every quest also has at most one owner share, created lazily, so the
// owner's own marks are recorded like any other participant's.
package share

import (
	"fmt"
	"strings"
	"time"

	"fieldquest/cmd/internal/fault"
)

var (
	ErrInvalidInput = fmt.Errorf("share: invalid input: %w", fault.ErrValidation)
	ErrNotFound     = fmt.Errorf("share: %w", fault.ErrNotFound)
	ErrForbidden    = fmt.Errorf("share: not the quest owner: %w", fault.ErrForbidden)
)

// GuestFallbackName is shown for guests who did not supply a name.
const GuestFallbackName = "Guest"

// Kind distinguishes the owner's implicit share from guest shares.
type Kind string

const (
	KindOwner Kind = "owner"
	KindGuest Kind = "guest"
)

// Share is one participant identity on a quest.
type Share struct {
	ID         string     `json:"id"`
	QuestID    string     `json:"quest_id"`
	Kind       Kind       `json:"kind"`
	CreatedBy  string     `json:"created_by"`
	GuestName  *string    `json:"guest_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	AccessedAt *time.Time `json:"accessed_at,omitempty"`
}

// Active reports whether the share may still act on its quest at now.
func (s Share) Active(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	return true
}

// DisplayName is the single rule for naming a participant in every view:
// the owner share shows the owner's username, a guest share shows its trimmed
// guest name, and anything else shows "Guest".
func DisplayName(kind Kind, guestName *string, ownerName string) string {
	if kind == KindOwner {
		if n := strings.TrimSpace(ownerName); n != "" {
			return n
		}
		return GuestFallbackName
	}
	if guestName != nil {
		if n := strings.TrimSpace(*guestName); n != "" {
			return n
		}
	}
	return GuestFallbackName
}
