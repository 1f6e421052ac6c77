// Package auth issues and validates the bearer tokens that guard the
// management API. Tokens are HS256 JWTs signed with a shared secret;
// there is no user database, a valid signature is the authorization.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors for token operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("auth secret must be at least 32 characters")
)

// Issuer is the iss claim on every minted token.
const Issuer = "tilevault"

// MinSecretLength is the shortest accepted HMAC signing key.
const MinSecretLength = 32

// Claims carried by a management API token.
type Claims struct {
	jwt.RegisteredClaims
}

// Service mints and validates management API tokens.
type Service struct {
	secret     []byte
	defaultTTL time.Duration
}

// NewService creates a token service. defaultTTL applies when Mint is
// called with a zero ttl; a zero defaultTTL falls back to 24 hours.
func NewService(secret string, defaultTTL time.Duration) (*Service, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrInvalidSecretLength
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), defaultTTL: defaultTTL}, nil
}

// Mint creates a signed token. subject names the holder (shown in logs,
// not verified against anything). Returns the token and its expiry.
func (s *Service) Mint(subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, ErrTokenSigningFailed
	}
	return signed, expiresAt, nil
}

// Validate checks a token's signature and expiry and returns its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DefaultTTL returns the lifetime applied to tokens minted without an
// explicit ttl.
func (s *Service) DefaultTTL() time.Duration {
	return s.defaultTTL
}
