package backend

import (
	"context"
	"errors"
	"time"

	"github.com/council-engine/council/pkg/deliberr"
)

// RetryConfig controls the Backend port's retry policy: limited and local,
// only for transport errors, never for schema or 4xx-equivalents.
type RetryConfig struct {
	MaxRetries     int           // default 1
	BackoffBase    time.Duration // default 2s
}

// DefaultRetryConfig matches the global model config's built-in defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 1, BackoffBase: 2 * time.Second}
}

// WithRetry wraps a Backend so that Complete retries transport errors with
// exponential backoff. Stream is not retried mid-flight — a streaming
// failure after any chunks have been delivered cannot be safely replayed,
// so only the initial connection attempt is retried.
func WithRetry(b Backend, cfg RetryConfig) Backend {
	return &retryingBackend{inner: b, cfg: cfg}
}

type retryingBackend struct {
	inner Backend
	cfg   RetryConfig
}

func (r *retryingBackend) ID() string { return r.inner.ID() }

func (r *retryingBackend) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return CompleteResult{}, ctx.Err()
			}
		}
		res, err := r.inner.Complete(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, deliberr.ErrBackendTransport) {
			return CompleteResult{}, err
		}
	}
	return CompleteResult{}, lastErr
}

func (r *retryingBackend) Stream(ctx context.Context, req CompleteRequest) (<-chan Chunk, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch, err := r.inner.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !errors.Is(err, deliberr.ErrBackendTransport) {
			return nil, err
		}
	}
	return nil, lastErr
}
