package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/logging"
)

var log = logging.GetLogger("embedder")

// Resilient wraps an Embedder with a circuit breaker (so a flapping
// model backend fails fast instead of piling up latency) and a bounded
// exponential-backoff retry for transient failures while the circuit
// is closed.
type Resilient struct {
	inner   Embedder
	breaker *gobreaker.CircuitBreaker[[]float32]
	retries uint64
}

// ResilientConfig tunes the circuit breaker. Zero values fall back to
// the defaults below.
type ResilientConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
	MaxRetries  uint64
}

const (
	defaultMaxFailures uint32 = 5
	defaultCBTimeout          = 30 * time.Second
	defaultCBInterval         = 60 * time.Second
	defaultMaxRetries  uint64 = 3
)

// NewResilient wraps inner with circuit-breaker and retry protection.
func NewResilient(inner Embedder, cfg ResilientConfig) *Resilient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}

	cb := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        "embedder:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("embedder circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Resilient{inner: inner, breaker: cb, retries: retries}
}

func (r *Resilient) Name() string   { return r.inner.Name() }
func (r *Resilient) Dimension() int { return r.inner.Dimension() }

// Embed retries transient failures with exponential backoff inside a
// single circuit-breaker execution; an open breaker fails fast with
// EmbedderUnavailable, and a dimension mismatch from inner surfaces as
// EmbedderIncompatible rather than retrying (it will never succeed).
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.breaker.Execute(func() ([]float32, error) {
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.retries), ctx)

		var vec []float32
		opErr := backoff.Retry(func() error {
			v, embedErr := r.inner.Embed(ctx, text)
			if embedErr != nil {
				return embedErr
			}
			vec = v
			return nil
		}, bo)
		return vec, opErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backend.Wrap(backend.KindEmbedderUnavailable, "embedder circuit open", err)
		}
		return nil, backend.Wrap(backend.KindEmbedderUnavailable, "embedder request failed", err)
	}
	if r.inner.Dimension() > 0 && len(vec) != r.inner.Dimension() {
		return nil, backend.New(backend.KindEmbedderIncompatible, "embedder returned unexpected vector dimension")
	}
	return vec, nil
}
