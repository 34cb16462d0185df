package otp

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat/internal/store"
	"lingochat/internal/store/memory"
)

type recordedEvent struct {
	mobile  string
	event   string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) NotifyMobile(mobile, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{mobile, event, payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.event)
	}
	return out
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, reveal bool) (*Service, *recordingNotifier, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(memory.New().Otps, slog.New(slog.NewTextHandler(io.Discard, nil)), reveal)
	svc.now = clock.Now
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, n, clock
}

func TestRandomCode(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestGenerateVerifyOnce(t *testing.T) {
	svc, n, _ := newTestService(t, true)
	ctx := context.Background()

	reg := &store.RegistrationData{Name: "Ada", PreferredLanguage: "en"}
	o, err := svc.Generate(ctx, "+11111", reg)
	require.NoError(t, err)
	assert.Len(t, o.Code, 6)

	res, err := svc.Verify(ctx, "+11111", o.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.NotNil(t, res.RegistrationData)
	assert.Equal(t, "Ada", res.RegistrationData.Name)

	res, err = svc.Verify(ctx, "+11111", o.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid, "a code verifies at most once")

	assert.Equal(t, []string{EventGenerated, EventVerified, EventVerificationFailed}, n.names())
	gen := n.events[0].payload.(GeneratedEvent)
	assert.Equal(t, o.Code, gen.Code)
}

func TestGenerateHidesCodeOutsideDevelopment(t *testing.T) {
	svc, n, _ := newTestService(t, false)
	_, err := svc.Generate(context.Background(), "+12222", nil)
	require.NoError(t, err)
	gen := n.events[0].payload.(GeneratedEvent)
	assert.Empty(t, gen.Code)
}

func TestGenerateInvalidatesPrevious(t *testing.T) {
	svc, _, clock := newTestService(t, false)
	ctx := context.Background()

	codes := []string{"111111", "222222"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	_, err := svc.Generate(ctx, "+13333", nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Generate(ctx, "+13333", nil)
	require.NoError(t, err)

	res, err := svc.Verify(ctx, "+13333", "111111")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	st, err := svc.Status(ctx, "+13333")
	require.NoError(t, err)
	require.True(t, st.Exists)
	assert.Equal(t, 1, *st.Attempts, "the miss is counted on the live code")

	res, err = svc.Verify(ctx, "+13333", "222222")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestExpiry(t *testing.T) {
	svc, _, clock := newTestService(t, false)
	ctx := context.Background()

	o, err := svc.Generate(ctx, "+11111", nil)
	require.NoError(t, err)

	st, err := svc.Status(ctx, "+11111")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, int64(5*60*1000), *st.TimeRemaining)

	clock.Advance(5*time.Minute + time.Second)

	res, err := svc.Verify(ctx, "+11111", o.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	st, err = svc.Status(ctx, "+11111")
	require.NoError(t, err)
	assert.Equal(t, Status{Exists: false}, st)

	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClear(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	o, err := svc.Generate(ctx, "+14444", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, "+14444"))

	res, err := svc.Verify(ctx, "+14444", o.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestConcurrentGenerateLeavesOneLive(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(ctx, "+15555", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := svc.Status(ctx, "+15555")
	require.NoError(t, err)
	assert.True(t, st.Exists)
}
