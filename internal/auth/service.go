// Package auth drives register/login through an OTP challenge to an issued token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lingochat/internal/apperr"
	"lingochat/internal/logging"
	"lingochat/internal/otp"
	"lingochat/internal/store"
	"lingochat/internal/token"
	"lingochat/internal/translation"
)

const (
	defaultName     = "User"
	defaultLanguage = "en"
)

// Challenge is returned by register and login. Otp is only set in development.
type Challenge struct {
	Message string `json:"message"`
	Mobile  string `json:"mobile"`
	Otp     string `json:"otp,omitempty"`
}

type LoginResult struct {
	AccessToken string     `json:"accessToken"`
	User        store.User `json:"user"`
}

type Service struct {
	users      store.UserRepository
	otps       *otp.Service
	tokens     *token.Service
	log        *slog.Logger
	revealCode bool
	now        func() time.Time
}

func NewService(users store.UserRepository, otps *otp.Service, tokens *token.Service, log *slog.Logger, revealCode bool) *Service {
	return &Service{
		users:      users,
		otps:       otps,
		tokens:     tokens,
		log:        log,
		revealCode: revealCode,
		now:        time.Now,
	}
}

func normalizeMobile(mobile string) (string, error) {
	mobile = strings.ReplaceAll(strings.TrimSpace(mobile), " ", "")
	if mobile == "" {
		return "", apperr.BadRequest("mobile is required")
	}
	return mobile, nil
}

func (s *Service) Register(ctx context.Context, mobile, name, preferredLanguage string) (Challenge, error) {
	mobile, err := normalizeMobile(mobile)
	if err != nil {
		return Challenge{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Challenge{}, apperr.BadRequest("name is required")
	}
	lang := defaultLanguage
	if preferredLanguage != "" {
		if lang, err = translation.NormalizeLanguage(preferredLanguage); err != nil {
			return Challenge{}, err
		}
	}

	_, err = s.users.GetByMobile(ctx, mobile)
	switch {
	case err == nil:
		return Challenge{}, apperr.Conflict("User with this mobile number already exists. Please login instead.")
	case !errors.Is(err, apperr.ErrNotFound):
		return Challenge{}, fmt.Errorf("lookup user: %w", err)
	}

	return s.challenge(ctx, mobile, "OTP sent for registration", &store.RegistrationData{Name: name, PreferredLanguage: lang})
}

func (s *Service) Login(ctx context.Context, mobile string) (Challenge, error) {
	mobile, err := normalizeMobile(mobile)
	if err != nil {
		return Challenge{}, err
	}
	if _, err := s.users.GetByMobile(ctx, mobile); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Challenge{}, apperr.NotFound("User not found. Please register first.")
		}
		return Challenge{}, fmt.Errorf("lookup user: %w", err)
	}
	return s.challenge(ctx, mobile, "OTP sent for login", nil)
}

// challenge resets the mobile's OTP history and issues a fresh code.
func (s *Service) challenge(ctx context.Context, mobile, message string, reg *store.RegistrationData) (Challenge, error) {
	if err := s.otps.Clear(ctx, mobile); err != nil {
		return Challenge{}, err
	}
	o, err := s.otps.Generate(ctx, mobile, reg)
	if err != nil {
		return Challenge{}, err
	}

	c := Challenge{Message: message, Mobile: mobile}
	if s.revealCode {
		c.Otp = o.Code
	}
	return c, nil
}

// VerifyOtp consumes the code, creates the user on first verification and issues a token.
func (s *Service) VerifyOtp(ctx context.Context, mobile, code string) (LoginResult, error) {
	mobile, err := normalizeMobile(mobile)
	if err != nil {
		return LoginResult{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return LoginResult{}, apperr.BadRequest("otp is required")
	}

	res, err := s.otps.Verify(ctx, mobile, code)
	if err != nil {
		return LoginResult{}, err
	}
	if !res.Valid {
		return LoginResult{}, apperr.Unauthorized("Invalid or expired OTP")
	}

	u, err := s.upsertUser(ctx, mobile, res.RegistrationData)
	if err != nil {
		return LoginResult{}, err
	}

	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return LoginResult{}, err
	}
	s.log.Info("user signed in", "user_id", u.ID, "mobile", logging.MaskMobile(mobile))
	return LoginResult{AccessToken: tok, User: u}, nil
}

func (s *Service) upsertUser(ctx context.Context, mobile string, reg *store.RegistrationData) (store.User, error) {
	now := s.now()

	existing, err := s.users.GetByMobile(ctx, mobile)
	if err == nil {
		return s.users.RecordLogin(ctx, existing.ID, now)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	u := store.User{
		Mobile:            mobile,
		Name:              defaultName,
		PreferredLanguage: defaultLanguage,
		IsVerified:        true,
		CreatedAt:         now,
		LastLoginAt:       &now,
	}
	if reg != nil {
		if reg.Name != "" {
			u.Name = reg.Name
		}
		if reg.PreferredLanguage != "" {
			u.PreferredLanguage = reg.PreferredLanguage
		}
	}
	if err := s.users.Create(ctx, &u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// Lost a race with a concurrent verification for the same mobile.
			existing, err := s.users.GetByMobile(ctx, mobile)
			if err != nil {
				return store.User{}, err
			}
			return s.users.RecordLogin(ctx, existing.ID, now)
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user created", "user_id", u.ID, "language", u.PreferredLanguage)
	return u, nil
}
