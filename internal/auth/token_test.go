package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Email:            "alice@example.com",
		UserMetadata:     UserMetadata{PreferredUsername: "Alice"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	identity, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if identity.UserID != "user-1" || identity.DisplayName != "Alice" || identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); err != ErrExpiredToken {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsWrongSecretAndMissingSubject(t *testing.T) {
	issued, _ := IssueToken([]byte("one"), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, time.Hour)
	if _, err := ParseToken([]byte("two"), issued); err != ErrInvalidToken {
		t.Fatalf("ParseToken(wrong secret) error = %v, want ErrInvalidToken", err)
	}
	anon, _ := IssueToken([]byte("one"), Claims{}, time.Hour)
	if _, err := ParseToken([]byte("one"), anon); err != ErrInvalidToken {
		t.Fatalf("ParseToken(no subject) error = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseToken([]byte("one"), "not-a-jwt"); err != ErrInvalidToken {
		t.Fatalf("ParseToken(garbage) error = %v, want ErrInvalidToken", err)
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	cases := []struct {
		name   string
		claims Claims
		want   string
	}{
		{name: "preferred username", claims: Claims{PreferredUsername: "Bob", Name: "Robert"}, want: "Bob"},
		{name: "metadata full name", claims: Claims{UserMetadata: UserMetadata{FullName: "Carol C"}}, want: "Carol C"},
		{name: "email local part", claims: Claims{Email: "dave@example.com"}, want: "dave"},
		{name: "subject", claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9"}}, want: "u-9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.claims.DisplayName(); got != tc.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tc.want)
			}
		})
	}
}
