// Package otp implements the one-time-code lifecycle for mobile sign-in.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"lingochat/internal/apperr"
	"lingochat/internal/logging"
	"lingochat/internal/metrics"
	"lingochat/internal/store"
)

const (
	codeLength = 6
	codeTTL    = 5 * time.Minute
)

// Events emitted on the mobile-scoped room.
const (
	EventGenerated          = "otpGenerated"
	EventVerified           = "otpVerified"
	EventVerificationFailed = "otpVerificationFailed"
)

// Notifier delivers OTP lifecycle events to clients watching a mobile number.
type Notifier interface {
	NotifyMobile(mobile, event string, payload any)
}

type GeneratedEvent struct {
	Mobile    string    `json:"mobile"`
	ExpiresAt time.Time `json:"expiresAt"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
}

type VerifiedEvent struct {
	Mobile  string `json:"mobile"`
	Message string `json:"message"`
}

type VerifyResult struct {
	Valid            bool
	RegistrationData *store.RegistrationData
}

type Status struct {
	Exists    bool       `json:"exists"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Attempts  *int       `json:"attempts,omitempty"`
	// TimeRemaining is in milliseconds.
	TimeRemaining *int64 `json:"timeRemaining,omitempty"`
}

type Service struct {
	otps       store.OtpRepository
	notifier   Notifier
	log        *slog.Logger
	revealCode bool
	now        func() time.Time
	newCode    func() (string, error)
}

// NewService builds the OTP service. revealCode includes the code in
// otpGenerated emissions and is only set in development.
func NewService(otps store.OtpRepository, log *slog.Logger, revealCode bool) *Service {
	return &Service{
		otps:       otps,
		log:        log,
		revealCode: revealCode,
		now:        time.Now,
		newCode:    randomCode,
	}
}

// SetNotifier attaches the realtime gateway once it exists.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}

// Generate invalidates prior unused codes for mobile and stores a fresh one.
func (s *Service) Generate(ctx context.Context, mobile string, reg *store.RegistrationData) (store.Otp, error) {
	if mobile == "" {
		return store.Otp{}, apperr.BadRequest("mobile is required")
	}
	code, err := s.newCode()
	if err != nil {
		return store.Otp{}, err
	}

	now := s.now()
	o := store.Otp{
		Mobile:           mobile,
		Code:             code,
		ExpiresAt:        now.Add(codeTTL),
		RegistrationData: reg,
		CreatedAt:        now,
	}
	if err := s.otps.Replace(ctx, &o); err != nil {
		return store.Otp{}, fmt.Errorf("store otp: %w", err)
	}
	metrics.OTPEventsTotal.WithLabelValues("generated").Inc()

	ev := GeneratedEvent{Mobile: mobile, ExpiresAt: o.ExpiresAt, Message: "New OTP generated"}
	if s.revealCode {
		ev.Code = code
		s.log.Info("otp generated", "mobile", mobile, "code", code, "expires_at", o.ExpiresAt)
	} else {
		s.log.Info("otp generated", "mobile", logging.MaskMobile(mobile), "expires_at", o.ExpiresAt)
	}
	s.notify(mobile, EventGenerated, ev)

	return o, nil
}

// Verify consumes a matching live code. A miss bumps the attempt counter on the
// newest unused code and reports Valid=false with no error.
func (s *Service) Verify(ctx context.Context, mobile, code string) (VerifyResult, error) {
	o, err := s.otps.Consume(ctx, mobile, code, s.now())
	if errors.Is(err, apperr.ErrNotFound) {
		if err := s.otps.IncrementAttempts(ctx, mobile); err != nil {
			s.log.Warn("failed to record otp attempt", "mobile", logging.MaskMobile(mobile), "error", err)
		}
		metrics.OTPEventsTotal.WithLabelValues("failed").Inc()
		s.log.Info("otp verification failed", "mobile", logging.MaskMobile(mobile))
		s.notify(mobile, EventVerificationFailed, VerifiedEvent{Mobile: mobile, Message: "Invalid or expired OTP"})
		return VerifyResult{Valid: false}, nil
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify otp: %w", err)
	}

	metrics.OTPEventsTotal.WithLabelValues("verified").Inc()
	s.log.Info("otp verified", "mobile", logging.MaskMobile(mobile))
	s.notify(mobile, EventVerified, VerifiedEvent{Mobile: mobile, Message: "OTP verified successfully"})
	return VerifyResult{Valid: true, RegistrationData: o.RegistrationData}, nil
}

// Clear deletes every OTP for mobile, resetting its attempt history.
func (s *Service) Clear(ctx context.Context, mobile string) error {
	if err := s.otps.DeleteByMobile(ctx, mobile); err != nil {
		return fmt.Errorf("clear otps: %w", err)
	}
	s.log.Debug("otps cleared", "mobile", logging.MaskMobile(mobile))
	return nil
}

func (s *Service) Status(ctx context.Context, mobile string) (Status, error) {
	now := s.now()
	o, err := s.otps.Latest(ctx, mobile, now)
	if errors.Is(err, apperr.ErrNotFound) {
		return Status{Exists: false}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("otp status: %w", err)
	}

	remaining := max(o.ExpiresAt.Sub(now).Milliseconds(), 0)
	return Status{
		Exists:        true,
		ExpiresAt:     &o.ExpiresAt,
		Attempts:      &o.Attempts,
		TimeRemaining: &remaining,
	}, nil
}

func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.otps.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired otps: %w", err)
	}
	if n > 0 {
		metrics.OTPEventsTotal.WithLabelValues("expired").Add(float64(n))
		s.log.Debug("expired otps removed", "count", n)
	}
	return n, nil
}

// RunSweeper calls CleanupExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("otp sweep failed", "error", err)
			}
		}
	}
}

func (s *Service) notify(mobile, event string, payload any) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyMobile(mobile, event, payload)
}
