package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserMetadata mirrors the profile block identity providers attach to
// access tokens.
type UserMetadata struct {
	Name              string `json:"name,omitempty"`
	FullName          string `json:"full_name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	UserName          string `json:"user_name,omitempty"`
}

type Claims struct {
	jwt.RegisteredClaims
	Email             string       `json:"email,omitempty"`
	Name              string       `json:"name,omitempty"`
	PreferredUsername string       `json:"preferred_username,omitempty"`
	UserMetadata      UserMetadata `json:"user_metadata,omitempty"`
}

// Identity is who a connection or request acts as.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs claims with HS256. The identity provider issues real
// credentials; this is used by tooling and tests.
func IssueToken(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 bearer credential and returns the identity
// it carries. Other signing methods are rejected.
func ParseToken(secret []byte, token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName(),
		Email:       claims.Email,
	}, nil
}

// DisplayName picks the first non-blank name the token carries, falling
// back to the local part of the email address.
func (c Claims) DisplayName() string {
	for _, candidate := range []string{
		c.PreferredUsername,
		c.UserMetadata.PreferredUsername,
		c.UserMetadata.UserName,
		c.Name,
		c.UserMetadata.Name,
		c.UserMetadata.FullName,
	} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	if at := strings.IndexByte(c.Email, '@'); at > 0 {
		return c.Email[:at]
	}
	return c.Subject
}
