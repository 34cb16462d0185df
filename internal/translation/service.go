// Package translation is the fail-soft translation adapter: identity
// short-circuit, LRU cache, and a provider waterfall with per-provider retry.
package translation

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"lingochat/internal/metrics"
)

type Config struct {
	CacheSize int
	// FlightTimeout bounds one provider waterfall, independent of the caller's deadline.
	FlightTimeout time.Duration
	MaxRetries    uint64
	RetryBase     time.Duration
}

type Service struct {
	providers []Provider
	cache     *lru.Cache[string, string]
	flights   singleflight.Group
	cfg       Config
	log       *slog.Logger
}

func NewService(cfg Config, log *slog.Logger, providers ...Provider) (*Service, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.FlightTimeout <= 0 {
		cfg.FlightTimeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{providers: providers, cache: cache, cfg: cfg, log: log}, nil
}

// Translate returns text rendered in target. It never fails: on any provider
// failure, or when ctx ends first, the input text is returned unchanged.
func (s *Service) Translate(ctx context.Context, text, source, target string) string {
	source, target = canonical(source), canonical(target)
	if text == "" || source == target {
		return text
	}

	key := source + "\x00" + target + "\x00" + text
	if out, ok := s.cache.Get(key); ok {
		metrics.TranslationCacheTotal.WithLabelValues("hit").Inc()
		return out
	}
	metrics.TranslationCacheTotal.WithLabelValues("miss").Inc()

	// The flight outlives any single caller so a short inline deadline does
	// not abort work a later caller can join.
	ch := s.flights.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FlightTimeout)
		defer cancel()
		out, err := s.waterfall(fctx, text, source, target)
		if err == nil {
			s.cache.Add(key, out)
		}
		return out, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return text
		}
		return res.Val.(string)
	case <-ctx.Done():
		return text
	}
}

func (s *Service) waterfall(ctx context.Context, text, source, target string) (string, error) {
	var lastErr error = ErrNoTranslation
	for _, p := range s.providers {
		out, err := s.call(ctx, p, text, source, target)
		if err == nil {
			metrics.TranslationRequestsTotal.WithLabelValues(p.Name(), "ok").Inc()
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrNoTranslation) {
			metrics.TranslationRequestsTotal.WithLabelValues(p.Name(), "empty").Inc()
			continue
		}
		metrics.TranslationRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
		s.log.Warn("translation provider failed",
			"provider", p.Name(), "source", source, "target", target, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (s *Service) call(ctx context.Context, p Provider, text, source, target string) (string, error) {
	var out string
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := p.Translate(ctx, text, source, target)
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
