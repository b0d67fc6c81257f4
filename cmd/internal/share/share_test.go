package share

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		kind      Kind
		guestName *string
		owner     string
		want      string
	}{
		{"owner uses username", KindOwner, nil, "dana", "dana"},
		{"owner ignores guest name", KindOwner, strPtr("Alex"), "dana", "dana"},
		{"guest name trimmed", KindGuest, strPtr("  Alex "), "dana", "Alex"},
		{"guest without name", KindGuest, nil, "dana", "Guest"},
		{"guest blank name", KindGuest, strPtr("   "), "dana", "Guest"},
		{"unknown kind", Kind("other"), strPtr("Alex"), "dana", "Alex"},
		{"owner without username", KindOwner, nil, "", "Guest"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DisplayName(tc.kind, tc.guestName, tc.owner); got != tc.want {
				t.Fatalf("DisplayName=%q want %q", got, tc.want)
			}
		})
	}
}

func TestShareActive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		s    Share
		want bool
	}{
		{"open", Share{}, true},
		{"expires later", Share{ExpiresAt: &future}, true},
		{"expired", Share{ExpiresAt: &past}, false},
		{"expires exactly now", Share{ExpiresAt: &now}, false},
		{"revoked", Share{RevokedAt: &past}, false},
	}
	for _, tc := range cases {
		if got := tc.s.Active(now); got != tc.want {
			t.Fatalf("%s: Active=%v want %v", tc.name, got, tc.want)
		}
	}
}
