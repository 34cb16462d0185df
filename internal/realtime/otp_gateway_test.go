package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat/internal/otp"
	"lingochat/internal/store/memory"
)

func newOTPGateway(t *testing.T) *OTPGateway {
	t.Helper()
	s := memory.New()
	log := discardLogger()
	reg := NewOTPRegistry()
	svc := otp.NewService(s.Otps, log, true)
	gw := NewOTPGateway(reg, NewLocalBroker(reg), svc, log)
	svc.SetNotifier(gw)
	return gw
}

func TestOTPGatewayGenerateAndVerify(t *testing.T) {
	gw := newOTPGateway(t)
	watcher := NewSession("")
	actor := NewSession("")
	gw.Connect(watcher)
	gw.Connect(actor)
	defer gw.Disconnect(watcher)

	gw.Handle(watcher, command(t, cmdJoinMobile, mobileCmd{Mobile: "+3001"}))
	joined := payload[otp.Status](t, waitFor(t, watcher, EventOtpStatus))
	assert.False(t, joined.Exists, "joining replies with the current status")

	gw.Handle(actor, command(t, cmdGenerateOtp, mobileCmd{Mobile: "+3001"}))
	generated := payload[otp.GeneratedEvent](t, waitFor(t, watcher, otp.EventGenerated))
	require.Len(t, generated.Code, 6)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), generated.ExpiresAt, 5*time.Second)
	waitFor(t, actor, otp.EventGenerated)
	waitFor(t, actor, EventOtpGenerationSuccess)

	gw.Handle(actor, command(t, cmdVerifyOtp, mobileCmd{Mobile: "+3001", Code: "000000x"}))
	failed := payload[otp.VerifiedEvent](t, waitFor(t, watcher, otp.EventVerificationFailed))
	assert.Equal(t, "+3001", failed.Mobile)
	rejected := payload[otp.VerifiedEvent](t, waitFor(t, actor, otp.EventVerificationFailed))
	assert.Equal(t, "+3001", rejected.Mobile)
	assert.Equal(t, "Invalid or expired OTP", rejected.Message)
	assert.NotContains(t, events(drain(actor)), EventOtpVerificationSuccess, "a wrong code is never reported as success")

	gw.Handle(actor, command(t, cmdGetOtpStatus, mobileCmd{Mobile: "+3001"}))
	st := payload[otp.Status](t, waitFor(t, actor, EventOtpStatus))
	assert.True(t, st.Exists)
	require.NotNil(t, st.Attempts)
	assert.Equal(t, 1, *st.Attempts)

	gw.Handle(actor, command(t, cmdVerifyOtp, mobileCmd{Mobile: "+3001", Code: generated.Code}))
	waitFor(t, watcher, otp.EventVerified)
	reply := payload[otpReply](t, waitFor(t, actor, EventOtpVerificationSuccess))
	require.NotNil(t, reply.Valid)
	assert.True(t, *reply.Valid)
}

func TestOTPGatewayWatchesOneMobile(t *testing.T) {
	gw := newOTPGateway(t)
	s := NewSession("")
	gw.Connect(s)

	gw.Handle(s, command(t, cmdJoinMobile, mobileCmd{Mobile: "+1"}))
	gw.Handle(s, command(t, cmdJoinMobile, mobileCmd{Mobile: "+2"}))
	drain(s)

	gw.NotifyMobile("+1", otp.EventGenerated, otp.GeneratedEvent{Mobile: "+1"})
	assert.Empty(t, drain(s))
	gw.NotifyMobile("+2", otp.EventGenerated, otp.GeneratedEvent{Mobile: "+2"})
	assert.Len(t, drain(s), 1)
}

func TestOTPGatewayErrors(t *testing.T) {
	gw := newOTPGateway(t)
	s := NewSession("")
	gw.Connect(s)

	gw.Handle(s, command(t, cmdGenerateOtp, mobileCmd{}))
	reply := payload[otpReply](t, waitFor(t, s, "otpGenerationError"))
	assert.Equal(t, "mobile is required", reply.Message)

	gw.Handle(s, command(t, cmdVerifyOtp, mobileCmd{Mobile: "+1"}))
	waitFor(t, s, "otpVerificationError")

	gw.Handle(s, command(t, "noSuchThing", mobileCmd{Mobile: "+1"}))
	errEv := payload[ErrorEvent](t, waitFor(t, s, EventError))
	assert.Equal(t, "noSuchThing", errEv.Event)
}
