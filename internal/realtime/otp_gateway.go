package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lingochat/internal/apperr"
	"lingochat/internal/otp"
)

// Client -> server commands on /ws/otp.
const (
	cmdJoinMobile   = "joinMobile"
	cmdGenerateOtp  = "generateOtp"
	cmdVerifyOtp    = "verifyOtp"
	cmdGetOtpStatus = "getOtpStatus"
)

// Server -> client replies on /ws/otp. The lifecycle events themselves come
// from the otp package.
const (
	EventOtpStatus              = "otpStatus"
	EventOtpGenerationSuccess   = "otpGenerationSuccess"
	EventOtpVerificationSuccess = "otpVerificationSuccess"
)

var otpErrorEvents = map[string]string{
	cmdGenerateOtp:  "otpGenerationError",
	cmdVerifyOtp:    "otpVerificationError",
	cmdGetOtpStatus: "otpStatusError",
}

type mobileCmd struct {
	Mobile string `json:"mobile"`
	Code   string `json:"code,omitempty"`
}

type otpReply struct {
	Mobile  string `json:"mobile"`
	Message string `json:"message"`
	Valid   *bool  `json:"valid,omitempty"`
}

// OTPGateway serves the unauthenticated OTP namespace. Sessions watch one
// mobile number at a time and receive its lifecycle events.
type OTPGateway struct {
	registry *Registry
	broker   Broker
	otps     *otp.Service
	log      *slog.Logger
}

func NewOTPGateway(registry *Registry, broker Broker, otps *otp.Service, log *slog.Logger) *OTPGateway {
	return &OTPGateway{registry: registry, broker: broker, otps: otps, log: log}
}

// NewOTPRegistry returns a registry for sessions that carry no user.
func NewOTPRegistry() *Registry {
	return newAnonymousRegistry()
}

// NotifyMobile implements otp.Notifier.
func (g *OTPGateway) NotifyMobile(mobile, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		g.log.Error("encode otp event failed", "event", event, "error", err)
		return
	}
	if err := g.broker.Publish(context.Background(), Envelope{Room: MobileRoom(mobile), Payload: frame}); err != nil {
		g.log.Error("publish otp event failed", "event", event, "error", err)
	}
}

func (g *OTPGateway) Connect(s *Session) {
	g.registry.Attach(s)
}

func (g *OTPGateway) Disconnect(s *Session) {
	s.Close()
	g.registry.Detach(s.ID)
}

func (g *OTPGateway) Handle(s *Session, f Frame) {
	ctx := s.Context()
	var in mobileCmd
	err := decodeData(f, &in)
	if err != nil {
		err = apperr.BadRequest("malformed " + f.Event + " payload")
	} else {
		in.Mobile = strings.TrimSpace(in.Mobile)
		if in.Mobile == "" {
			err = apperr.BadRequest("mobile is required")
		}
	}
	if err == nil {
		switch f.Event {
		case cmdJoinMobile:
			g.watch(s, in.Mobile)
			err = g.status(ctx, s, in.Mobile)
		case cmdGenerateOtp:
			err = g.generate(ctx, s, in.Mobile)
		case cmdVerifyOtp:
			err = g.verify(ctx, s, in)
		case cmdGetOtpStatus:
			err = g.status(ctx, s, in.Mobile)
		default:
			err = apperr.BadRequest(fmt.Sprintf("unknown event %q", f.Event))
		}
	}
	if err == nil {
		return
	}
	if event, ok := otpErrorEvents[f.Event]; ok {
		if apperr.HTTPStatus(err) >= 500 {
			g.log.Error("otp command failed", "event", f.Event, "error", err)
		}
		s.Emit(event, otpReply{Mobile: in.Mobile, Message: apperr.Message(err)})
		return
	}
	replyError(g.log, s, f.Event, err)
}

// watch moves the session to the room of mobile.
func (g *OTPGateway) watch(s *Session, mobile string) {
	if s.mobile == mobile {
		return
	}
	if s.mobile != "" {
		g.registry.LeaveRoom(s.ID, MobileRoom(s.mobile))
	}
	g.registry.JoinRoom(s.ID, MobileRoom(mobile))
	s.mobile = mobile
}

func (g *OTPGateway) generate(ctx context.Context, s *Session, mobile string) error {
	g.watch(s, mobile)
	if _, err := g.otps.Generate(ctx, mobile, nil); err != nil {
		return err
	}
	s.Emit(EventOtpGenerationSuccess, otpReply{Mobile: mobile, Message: "OTP generated successfully"})
	return nil
}

func (g *OTPGateway) verify(ctx context.Context, s *Session, in mobileCmd) error {
	g.watch(s, in.Mobile)
	if in.Code == "" {
		return apperr.BadRequest("code is required")
	}
	res, err := g.otps.Verify(ctx, in.Mobile, in.Code)
	if err != nil {
		return err
	}
	if !res.Valid {
		s.Emit(otp.EventVerificationFailed, otp.VerifiedEvent{Mobile: in.Mobile, Message: "Invalid or expired OTP"})
		return nil
	}
	s.Emit(EventOtpVerificationSuccess, otpReply{Mobile: in.Mobile, Message: "OTP verified successfully", Valid: &res.Valid})
	return nil
}

func (g *OTPGateway) status(ctx context.Context, s *Session, mobile string) error {
	st, err := g.otps.Status(ctx, mobile)
	if err != nil {
		return err
	}
	s.Emit(EventOtpStatus, st)
	return nil
}
