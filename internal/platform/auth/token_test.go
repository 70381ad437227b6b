package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testManager() Manager {
	m := NewManager("test-secret", time.Hour)
	m.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestSignParse_RoundTrip(t *testing.T) {
	m := testManager()
	token, err := m.Sign(42, "alice")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParse_ExpiredToken(t *testing.T) {
	m := testManager()
	token, err := m.Sign(42, "alice")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	m.Now = func() time.Time { return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC) }
	if _, err := m.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParse_TamperedSignature(t *testing.T) {
	m := testManager()
	token, err := m.Sign(42, "alice")
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	other := NewManager("other-secret", time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	parts := strings.Split(token, ".")
	forged := parts[0] + "." + parts[1] + ".AAAA"
	if _, err := m.Parse(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for forged signature, got %v", err)
	}
}

func TestParse_Garbage(t *testing.T) {
	m := testManager()
	for _, token := range []string{"", "abc", "a.b", "a.b.c.d", "!!.!!.!!"} {
		if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Parse(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc.def.ghi", "abc.def.ghi"},
		{"Basic dXNlcjpwYXNz", ""},
		{"abc.def.ghi", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := BearerToken(tc.in); got != tc.want {
			t.Fatalf("BearerToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
