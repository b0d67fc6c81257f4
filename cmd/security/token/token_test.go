package token

import (
	"errors"
	"strings"
	"testing"
)

var testSecret = []byte(strings.Repeat("k", MinKeyBytes))

func TestNewHasher_KeyPolicy(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher(nil, PurposeShare); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if _, err := NewHasher([]byte("short"), PurposeShare); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}

func TestHasher_PurposeBound(t *testing.T) {
	t.Parallel()

	a, err := NewHasher(testSecret, PurposeShare)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	b, err := NewHasher(testSecret, "other")
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	d1 := a.Hash("tok")
	if len(d1) != 64 {
		t.Fatalf("digest length=%d want 64", len(d1))
	}
	if !Equal(d1, a.Hash("tok")) {
		t.Fatalf("hash not stable")
	}
	if Equal(d1, b.Hash("tok")) {
		t.Fatalf("digests for different purposes must differ")
	}
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()

	seen := map[string]struct{}{}
	for i := 0; i < 64; i++ {
		tok, err := New(0)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if len(tok) != 43 {
			t.Fatalf("token length=%d want 43", len(tok))
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token")
		}
		seen[tok] = struct{}{}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if _, err := Normalize("   "); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
	got, err := Normalize("  abc ")
	if err != nil || got != "abc" {
		t.Fatalf("Normalize=%q,%v", got, err)
	}
}
