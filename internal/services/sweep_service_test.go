package services

import (
	"context"
	"testing"
	"time"

	"oracle-service/internal/lock"
	"oracle-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) setEndDate(id uuid.UUID, end time.Time) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	p := e.store.policies[id]
	p.StartDate = end.Add(-72 * time.Hour)
	p.EndDate = end
	e.store.policies[id] = p
}

func (e *testEnv) policyStatus(t *testing.T, id uuid.UUID) models.PolicyStatus {
	t.Helper()
	p, err := e.store.GetPolicy(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func newSweep(env *testEnv) *SweepService {
	return NewSweepService(env.store, env.orchestrator, env.locker, nil, nil, SweepSettings{
		Window:     24 * time.Hour,
		NumWorkers: 2,
		LockTTL:    time.Minute,
	})
}

func TestSweepExpiringPolicies(t *testing.T) {
	flight := flightFixture("flightstats", models.FlightOnTime, 0)
	env := newTestEnv(t, flight)
	now := time.Now()

	cancelled := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
	env.setEndDate(cancelled.ID, now.Add(-time.Hour))
	flight.SetForPolicy(cancelled.ID.String(), models.Reading{Status: models.FlightCancelled, Confidence: 0.95})

	onTime := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
	env.setEndDate(onTime.ID, now.Add(-time.Hour))

	endingSoon := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
	env.setEndDate(endingSoon.ID, now.Add(2*time.Hour))

	health := env.seedPolicy(t, models.PolicyHealth, healthCondition())
	env.setEndDate(health.ID, now.Add(-time.Hour))

	farOut := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
	env.setEndDate(farOut.ID, now.Add(10*24*time.Hour))

	report, err := newSweep(env).SweepExpiringPolicies(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Scanned)
	assert.Equal(t, int64(3), report.Evaluated)
	assert.Equal(t, int64(1), report.Approved)
	assert.Equal(t, int64(2), report.Expired)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Cancelled)

	assert.Equal(t, models.PolicyClaimed, env.policyStatus(t, cancelled.ID))
	assert.Equal(t, models.PolicyExpired, env.policyStatus(t, onTime.ID))
	assert.Equal(t, models.PolicyActive, env.policyStatus(t, endingSoon.ID))
	assert.Equal(t, models.PolicyExpired, env.policyStatus(t, health.ID))
	assert.Equal(t, models.PolicyActive, env.policyStatus(t, farOut.ID))
	assert.Equal(t, 1, env.transfer.Calls())

	// A second run has nothing new to decide and must not pay again.
	report, err = newSweep(env).SweepExpiringPolicies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Scanned)
	assert.Zero(t, report.Evaluated)
	assert.Equal(t, 1, env.transfer.Calls())
}

func TestSweepExpiringPolicies_SkipsLockedPolicy(t *testing.T) {
	env := newTestEnv(t, flightFixture("flightstats", models.FlightOnTime, 0))
	policy := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
	env.setEndDate(policy.ID, time.Now().Add(-time.Hour))

	release, err := env.locker.Acquire(context.Background(), lock.PolicyKey(policy.ID), time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	report, err := newSweep(env).SweepExpiringPolicies(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, models.PolicyActive, env.policyStatus(t, policy.ID))
}

func TestSweepExpiringPolicies_CancelledStartsNothing(t *testing.T) {
	flight := flightFixture("flightstats", models.FlightCancelled, 0)
	env := newTestEnv(t, flight)
	for range 5 {
		p := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
		env.setEndDate(p.ID, time.Now().Add(-time.Hour))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := newSweep(env).SweepExpiringPolicies(ctx)

	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Evaluated)
	assert.Zero(t, flight.Calls())
	assert.Zero(t, env.transfer.Calls())
}

func TestSweepExpiringPolicies_InFlightWorkFinishesAfterCancel(t *testing.T) {
	flight := flightFixture("flightstats", models.FlightCancelled, 0).WithDelay(50 * time.Millisecond)
	env := newTestEnv(t, flight)
	policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
	env.setEndDate(policy.ID, time.Now().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Cancel while the only policy is mid-fetch.
		for flight.Calls() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	report, err := newSweep(env).SweepExpiringPolicies(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Evaluated)
	assert.Equal(t, models.PolicyClaimed, env.policyStatus(t, policy.ID))
	assert.Equal(t, 1, env.transfer.Calls())
}
