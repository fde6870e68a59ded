package util

import (
	"encoding/hex"
	"errors"
	"testing"
)

func TestNormalizeWhatsApp(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{"+62 812-3456-7890", "6281234567890", false},
		{"081234567890", "081234567890", false},
		{"0062 812 3456 7890", "006281234567890", false},
		{"081234567890123", "081234567890123", false}, // 15 digits, leading zero kept
		{"(1) 415 555 2671", "14155552671", false},
		{"123456789", "", true},          // 9 digits
		{"1234567890123456", "", true},   // 16 digits
		{"abc", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeWhatsApp(c.in)
		if c.err {
			if !errors.Is(err, ErrInvalidWhatsApp) {
				t.Fatalf("%q: expected ErrInvalidWhatsApp, got %q %v", c.in, got, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("%q: expected %q, got %q %v", c.in, c.want, got, err)
		}
	}
}

func TestValidateProofURL(t *testing.T) {
	allowed := []string{"i.ibb.co", "res.cloudinary.com"}
	ok := []string{
		"https://i.ibb.co/abc/proof.png",
		"https://res.cloudinary.com/demo/image/upload/x.jpg",
		"https://cdn.i.ibb.co/x.png",
		"https://I.IBB.CO/x.png",
	}
	for _, raw := range ok {
		if _, err := ValidateProofURL(raw, allowed); err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
	}
	bad := []string{
		"https://evil.com/proof.png",
		"http://i.ibb.co/proof.png",
		"https://i.ibb.co.evil.com/proof.png",
		"https://user@i.ibb.co/proof.png",
		"javascript:alert(1)",
		"not a url",
		"",
	}
	for _, raw := range bad {
		if _, err := ValidateProofURL(raw, allowed); !errors.Is(err, ErrProofURL) {
			t.Fatalf("%q: expected ErrProofURL, got %v", raw, err)
		}
	}
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	b, _ := NewSecret()
	if a == b {
		t.Fatalf("two secrets collided")
	}
	raw, err := hex.DecodeString(a)
	if err != nil || len(raw) != SecretBytes {
		t.Fatalf("expected %d hex-encoded bytes, got %q", SecretBytes, a)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("unexpected ulid %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
