package datasource

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"oracle-service/internal/metrics"
	"oracle-service/internal/models"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type ResilienceConfig struct {
	Timeout            time.Duration
	MaxRetries         int
	BaseBackoff        time.Duration
	RequestsPerSecond  float64
	Burst              int
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:            5 * time.Second,
		MaxRetries:         2,
		BaseBackoff:        200 * time.Millisecond,
		RequestsPerSecond:  10,
		Burst:              5,
		BreakerFailures:    5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

// Resilient wraps an adapter with a per-call timeout, bounded jittered
// retries, a circuit breaker and a rate limiter. Invalid queries are never
// retried and do not count against the breaker.
type Resilient struct {
	inner   Adapter
	cfg     ResilienceConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilient fills unset timeouts and breaker thresholds from
// DefaultResilienceConfig. MaxRetries 0 means a single attempt.
func NewResilient(inner Adapter, cfg ResilienceConfig, m *metrics.Metrics) *Resilient {
	defaults := DefaultResilienceConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = defaults.BreakerOpenTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	st := gobreaker.Settings{Name: inner.Name()}
	st.Timeout = cfg.BreakerOpenTimeout
	st.Interval = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.BreakerFailures
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, models.ErrInvalidQuery)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("data source circuit breaker changed state",
			"source", name, "from", from.String(), "to", to.String())
		m.SetBreakerState(name, float64(to))
	}

	return &Resilient{
		inner:   inner,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		sleep:   sleepContext,
	}
}

func (r *Resilient) Name() string                        { return r.inner.Name() }
func (r *Resilient) ConditionType() models.ConditionType { return r.inner.ConditionType() }

func (r *Resilient) Fetch(ctx context.Context, q models.Query) (models.Reading, error) {
	start := time.Now()
	reading, err := r.fetchWithRetry(ctx, q)
	r.metrics.ObserveAdapter(r.Name(), outcomeLabel(reading, err), time.Since(start))
	return reading, err
}

func (r *Resilient) fetchWithRetry(ctx context.Context, q models.Query) (models.Reading, error) {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := jitter(r.cfg.BaseBackoff << (attempt - 1))
			slog.Info("Retrying data source fetch",
				"source", r.Name(),
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds(),
				"last_error", lastErr)
			if err := r.sleep(ctx, backoff); err != nil {
				return models.Reading{}, models.NewAdapterError(models.ErrTimeout, r.Name(), err)
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return models.Reading{}, models.NewAdapterError(models.ErrTimeout, r.Name(), err)
		}

		reading, err := r.callOnce(ctx, q)
		if err == nil {
			return reading, nil
		}
		if errors.Is(err, models.ErrInvalidQuery) {
			return models.Reading{}, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.Reading{}, models.NewAdapterError(models.ErrUnavailable, r.Name(), err)
		}
		if ctx.Err() != nil {
			return models.Reading{}, models.NewAdapterError(models.ErrTimeout, r.Name(), ctx.Err())
		}

		lastErr = err
		slog.Warn("Data source fetch failed",
			"source", r.Name(),
			"attempt", attempt,
			"error", err)
	}

	return models.Reading{}, models.NewAdapterError(models.ErrUnavailable, r.Name(), lastErr)
}

func (r *Resilient) callOnce(ctx context.Context, q models.Query) (models.Reading, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	res, err := r.breaker.Execute(func() (any, error) {
		return r.inner.Fetch(callCtx, q)
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, models.ErrTimeout) {
			return models.Reading{}, models.NewAdapterError(models.ErrTimeout, r.Name(), err)
		}
		return models.Reading{}, err
	}
	return res.(models.Reading), nil
}

// jitter returns a duration in [d/2, d).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outcomeLabel(reading models.Reading, err error) string {
	switch {
	case err == nil && reading.Partial:
		return "partial"
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}
