package translation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, text, source, target string) (string, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Translate(ctx context.Context, text, source, target string) (string, error) {
	p.calls.Add(1)
	return p.fn(ctx, text, source, target)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, providers ...Provider) *Service {
	t.Helper()
	svc, err := NewService(Config{CacheSize: 16, FlightTimeout: time.Second, MaxRetries: 2, RetryBase: time.Millisecond}, discardLogger(), providers...)
	require.NoError(t, err)
	return svc
}

func TestTranslateIdentity(t *testing.T) {
	p := &stubProvider{name: "p", fn: func(context.Context, string, string, string) (string, error) {
		return "nope", nil
	}}
	svc := newTestService(t, p)

	assert.Equal(t, "hello", svc.Translate(context.Background(), "hello", "en", "en"))
	assert.Equal(t, "hello", svc.Translate(context.Background(), "hello", "en-US", "EN"))
	assert.Equal(t, "", svc.Translate(context.Background(), "", "en", "hi"))
	assert.Zero(t, p.calls.Load())
}

func TestTranslateCaches(t *testing.T) {
	p := &stubProvider{name: "p", fn: func(_ context.Context, text, _, target string) (string, error) {
		return target + ":" + text, nil
	}}
	svc := newTestService(t, p)

	assert.Equal(t, "hi:hello", svc.Translate(context.Background(), "hello", "en", "hi"))
	assert.Equal(t, "hi:hello", svc.Translate(context.Background(), "hello", "en", "hi"))
	assert.Equal(t, int32(1), p.calls.Load())

	assert.Equal(t, "es:hello", svc.Translate(context.Background(), "hello", "en", "es"))
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestTranslateWaterfall(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: func(context.Context, string, string, string) (string, error) {
		return "", &StatusError{Provider: "primary", StatusCode: 503}
	}}
	secondary := &stubProvider{name: "secondary", fn: func(context.Context, string, string, string) (string, error) {
		return "hola", nil
	}}
	svc := newTestService(t, primary, secondary)

	assert.Equal(t, "hola", svc.Translate(context.Background(), "hello", "en", "es"))
	assert.Equal(t, int32(3), primary.calls.Load(), "transient errors are retried")
	assert.Equal(t, int32(1), secondary.calls.Load())
}

func TestTranslateNonRetryable(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: func(context.Context, string, string, string) (string, error) {
		return "", &StatusError{Provider: "primary", StatusCode: 403}
	}}
	svc := newTestService(t, primary)

	assert.Equal(t, "hello", svc.Translate(context.Background(), "hello", "en", "es"))
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestTranslateFailSoftNotCached(t *testing.T) {
	fail := true
	var mu sync.Mutex
	p := &stubProvider{name: "p", fn: func(context.Context, string, string, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return "", errors.New("boom")
		}
		return "bonjour", nil
	}}
	svc := newTestService(t, p)

	assert.Equal(t, "hello", svc.Translate(context.Background(), "hello", "en", "fr"))

	mu.Lock()
	fail = false
	mu.Unlock()
	assert.Equal(t, "bonjour", svc.Translate(context.Background(), "hello", "en", "fr"))
}

func TestTranslateDeadlineFallsBack(t *testing.T) {
	release := make(chan struct{})
	p := &stubProvider{name: "slow", fn: func(ctx context.Context, _, _, _ string) (string, error) {
		select {
		case <-release:
			return "नमस्ते", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	svc := newTestService(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, "hello", svc.Translate(ctx, "hello", "en", "hi"))

	// The flight keeps running past the inline deadline; a later caller joins it.
	close(release)
	assert.Equal(t, "नमस्ते", svc.Translate(context.Background(), "hello", "en", "hi"))
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTranslateCollapsesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	p := &stubProvider{name: "p", fn: func(context.Context, string, string, string) (string, error) {
		<-release
		return "hallo", nil
	}}
	svc := newTestService(t, p)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Translate(context.Background(), "hello", "en", "de")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "hallo", r)
	}
	assert.LessOrEqual(t, p.calls.Load(), int32(2))
}

func TestDictionary(t *testing.T) {
	ctx := context.Background()

	d := NewDictionary(true)
	out, err := d.Translate(ctx, "Hello", "en", "hi")
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते", out)

	out, err = d.Translate(ctx, "see you", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "[FR] see you", out)

	_, err = NewDictionary(false).Translate(ctx, "see you", "en", "fr")
	assert.ErrorIs(t, err, ErrNoTranslation)
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		"en-US": "en",
		"HI":    "hi",
		"mr":    "mr",
		"zh-CN": "zh",
	}
	for in, want := range cases {
		got, err := NormalizeLanguage(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "not a language", "und", "UND", "und-US"} {
		_, err := NormalizeLanguage(bad)
		assert.Error(t, err, bad)
	}
}
