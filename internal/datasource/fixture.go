package datasource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"oracle-service/internal/models"
)

// FixtureAdapter serves canned readings. It backs local development and
// tests so evaluation never depends on random or live data.
type FixtureAdapter struct {
	name  string
	ct    models.ConditionType
	calls atomic.Int64

	mu       sync.RWMutex
	reading  models.Reading
	err      error
	byPolicy map[string]models.Reading
	delay    time.Duration
}

func NewFixtureAdapter(name string, ct models.ConditionType, reading models.Reading) *FixtureAdapter {
	reading.ConditionType = ct
	if reading.Source == "" {
		reading.Source = name
	}
	return &FixtureAdapter{name: name, ct: ct, reading: reading, byPolicy: map[string]models.Reading{}}
}

func (f *FixtureAdapter) Name() string                        { return f.name }
func (f *FixtureAdapter) ConditionType() models.ConditionType { return f.ct }

// WithError makes every fetch fail with err.
func (f *FixtureAdapter) WithError(err error) *FixtureAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// WithDelay makes every fetch block for d or until the context ends.
func (f *FixtureAdapter) WithDelay(d time.Duration) *FixtureAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// SetForPolicy overrides the reading for one policy id.
func (f *FixtureAdapter) SetForPolicy(policyID string, reading models.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reading.ConditionType = f.ct
	if reading.Source == "" {
		reading.Source = f.name
	}
	f.byPolicy[policyID] = reading
}

func (f *FixtureAdapter) Calls() int64 { return f.calls.Load() }

func (f *FixtureAdapter) Fetch(ctx context.Context, q models.Query) (models.Reading, error) {
	f.calls.Add(1)

	f.mu.RLock()
	delay, err := f.delay, f.err
	reading, ok := f.byPolicy[q.PolicyID]
	if !ok {
		reading = f.reading
	}
	f.mu.RUnlock()

	if delay > 0 {
		if err := sleepContext(ctx, delay); err != nil {
			return models.Reading{}, models.NewAdapterError(models.ErrTimeout, f.name, err)
		}
	}
	if err != nil {
		return models.Reading{}, err
	}
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = time.Now().UTC()
	}
	return reading, nil
}
