package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat/internal/apperr"
	"lingochat/internal/otp"
	"lingochat/internal/store"
	"lingochat/internal/store/memory"
	"lingochat/internal/token"
)

type fixture struct {
	store  *store.Store
	tokens *token.Service
	auth   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()
	tokens := token.NewService("test-secret", 7*24*time.Hour, s.Users)
	otps := otp.NewService(s.Otps, log, true)
	return &fixture{store: s, tokens: tokens, auth: NewService(s.Users, otps, tokens, log, true)}
}

func TestRegistrationAndFirstLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.auth.Register(ctx, "+11111", "Ada", "en")
	require.NoError(t, err)
	assert.Equal(t, "+11111", ch.Mobile)
	assert.Len(t, ch.Otp, 6)
	assert.NotEmpty(t, ch.Message)

	res, err := f.auth.VerifyOtp(ctx, "+11111", ch.Otp)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "+11111", res.User.Mobile)
	assert.Equal(t, "Ada", res.User.Name)
	assert.Equal(t, "en", res.User.PreferredLanguage)
	assert.True(t, res.User.IsVerified)
	assert.NotNil(t, res.User.LastLoginAt)

	userID, err := f.tokens.Validate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, userID)

	_, err = f.auth.VerifyOtp(ctx, "+11111", ch.Otp)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRegisterExistingMobile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.auth.Register(ctx, "+12222", "Ada", "hi")
	require.NoError(t, err)
	_, err = f.auth.VerifyOtp(ctx, "+12222", ch.Otp)
	require.NoError(t, err)

	_, err = f.auth.Register(ctx, "+12222", "Ada", "hi")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRegisterValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.Register(ctx, "", "Ada", "en")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	_, err = f.auth.Register(ctx, "+1", "", "en")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	_, err = f.auth.Register(ctx, "+1", "Ada", "not a language")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.Login(ctx, "+13333")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ch, err := f.auth.Register(ctx, "+13333", "Grace", "fr")
	require.NoError(t, err)
	first, err := f.auth.VerifyOtp(ctx, "+13333", ch.Otp)
	require.NoError(t, err)

	ch, err = f.auth.Login(ctx, "+13333")
	require.NoError(t, err)
	res, err := f.auth.VerifyOtp(ctx, "+13333", ch.Otp)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, res.User.ID)
	assert.Equal(t, "fr", res.User.PreferredLanguage, "login keeps the registered profile")
}

func TestVerifyWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.auth.Register(ctx, "+14444", "Ada", "en")
	require.NoError(t, err)

	wrong := "000000"
	if ch.Otp == wrong {
		wrong = "111111"
	}
	_, err = f.auth.VerifyOtp(ctx, "+14444", wrong)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.store.Users.GetByMobile(ctx, "+14444")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no user until a successful verification")
}

func TestHandlerFlow(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/auth", NewHandler(f.auth, nil).Routes)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	post := func(path string, body any) (*http.Response, map[string]any) {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}

	resp, body := post("/auth/register", registerRequest{Mobile: "+15555", Name: "Ada", PreferredLanguage: "en"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code, _ := body["otp"].(string)
	require.Len(t, code, 6)

	resp, body = post("/auth/verify-otp", verifyRequest{Mobile: "+15555", Otp: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["accessToken"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", user["name"])

	resp, body = post("/auth/verify-otp", verifyRequest{Mobile: "+15555", Otp: code})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired OTP", body["error"])

	resp, _ = post("/auth/register", registerRequest{Mobile: "+15555", Name: "Ada"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = post("/auth/login", loginRequest{Mobile: "+19999"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
