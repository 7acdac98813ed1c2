// Package token implements the bearer-token service: minting, verifying,
// refreshing, and invalidating HS256-signed tokens. Verification is
// stateless (signature + expiry) except for a Redis denylist of revoked
// token IDs, which is how logout and refresh supersession take effect
// before a token's natural expiry.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidToken is returned for malformed, tampered, or
	// wrong-audience tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's exp claim has passed.
	ErrExpiredToken = errors.New("expired token")
	// ErrRevokedToken is returned when the token was invalidated by
	// logout or superseded by a refresh.
	ErrRevokedToken = errors.New("revoked token")
)

const denyKeyPrefix = "token:denied:"

// Service issues and verifies bearer tokens for user identities.
type Service struct {
	secret []byte
	ttl    time.Duration
	rdb    *redis.Client
}

func NewService(secret string, ttl time.Duration, rdb *redis.Client) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		rdb:    rdb,
	}
}

// Issue mints a new token for the given user. Every token carries a
// unique ID so it can be revoked independently of any other token
// issued to the same user.
func (s *Service) Issue(userID int) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the token's signature, expiry, and denylist status and
// returns the user ID it was issued to.
func (s *Service) Verify(ctx context.Context, tokenString string) (int, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return 0, err
	}

	denied, err := s.rdb.Exists(ctx, denyKeyPrefix+claims.ID).Result()
	if err != nil {
		return 0, fmt.Errorf("denylist lookup: %w", err)
	}
	if denied > 0 {
		return 0, ErrRevokedToken
	}

	return subjectID(claims)
}

// Refresh exchanges a valid token for a new one with a fresh expiry.
// The old token is denylisted for its remaining lifetime, so it is no
// longer accepted once the new one exists.
func (s *Service) Refresh(ctx context.Context, tokenString string) (string, error) {
	userID, err := s.Verify(ctx, tokenString)
	if err != nil {
		return "", err
	}

	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}

	if err := s.deny(ctx, claims); err != nil {
		return "", err
	}
	return s.Issue(userID)
}

// Invalidate denylists the token until its natural expiry. Used on logout.
func (s *Service) Invalidate(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}
	return s.deny(ctx, claims)
}

func (s *Service) deny(ctx context.Context, claims *jwt.RegisteredClaims) error {
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		// Expired tokens fail verification on their own.
		return nil
	}
	if err := s.rdb.Set(ctx, denyKeyPrefix+claims.ID, 1, remaining).Err(); err != nil {
		return fmt.Errorf("denylist set: %w", err)
	}
	return nil
}

func (s *Service) parse(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func subjectID(claims *jwt.RegisteredClaims) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || id < 1 {
		return 0, ErrInvalidToken
	}
	return id, nil
}
