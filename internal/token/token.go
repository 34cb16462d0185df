// Package token issues and validates the bearer tokens that gate the HTTP and realtime surfaces.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
)

const issuer = "lingochat"

// UserLookup resolves the token subject. store.UserRepository satisfies it.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (store.User, error)
}

type Claims struct {
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

func NewService(secret string, ttl time.Duration, users UserLookup) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// Issue signs a token for userID with {sub, iat, exp}.
func (s *Service) Issue(userID string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate returns the subject user id. Bad signatures, expired tokens and
// subjects that no longer resolve to a user all fail with Unauthorized.
func (s *Service) Validate(ctx context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperr.Unauthorized("missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Wrap(apperr.KindUnauthorized, "token expired", err)
		}
		return "", apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", apperr.Unauthorized("invalid token")
	}

	if s.users != nil {
		if _, err := s.users.GetByID(ctx, claims.Subject); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return "", apperr.Unauthorized("unknown user")
			}
			return "", err
		}
	}
	return claims.Subject, nil
}
