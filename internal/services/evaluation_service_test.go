package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"oracle-service/internal/datasource"
	"oracle-service/internal/identity"
	"oracle-service/internal/lock"
	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHolder = "holder-1"

type testEnv struct {
	store        *memStore
	locker       *lock.MemoryLocker
	transfer     *fakeTransfer
	archiver     *fakeArchiver
	dispatcher   *PayoutDispatcher
	orchestrator *EvaluationOrchestrator
	claims       *ClaimService
	policies     *PolicyService
}

func newTestEnv(t *testing.T, adapters ...datasource.Adapter) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newMemStore(),
		locker:   lock.NewMemoryLocker(),
		transfer: &fakeTransfer{},
		archiver: &fakeArchiver{},
	}
	env.dispatcher = NewPayoutDispatcher(env.store, env.locker, env.transfer, nil, nil, PayoutSettings{
		LockTTL:          time.Minute,
		MaxAttempts:      3,
		RetryBaseBackoff: time.Minute,
	})
	env.orchestrator = NewEvaluationOrchestrator(env.store, datasource.NewRegistry(adapters...), env.locker,
		env.archiver, env.dispatcher, nil, nil, EvaluationSettings{
			ConfidenceFloor: 0.5,
			LockTTL:         time.Minute,
			LockWait:        time.Second,
		})
	verifier := identity.StaticVerifier{Verified: map[string]bool{testHolder: true}}
	env.claims = NewClaimService(env.store, verifier, env.archiver, env.locker, env.dispatcher, nil, time.Minute, time.Second)
	env.policies = NewPolicyService(env.store, env.locker, time.Minute)
	return env
}

func (e *testEnv) seedPolicy(t *testing.T, policyType models.PolicyType, conditions ...models.OracleCondition) *models.Policy {
	t.Helper()
	now := time.Now()
	policy := &models.Policy{
		PolicyNumber:   utils.GeneratePolicyNumber(now),
		HolderID:       testHolder,
		PolicyType:     policyType,
		PremiumAmount:  decimal.NewFromInt(50),
		CoverageAmount: decimal.NewFromInt(1000),
		Currency:       "USD",
		Status:         models.PolicyActive,
		StartDate:      now.Add(-48 * time.Hour),
		EndDate:        now.Add(48 * time.Hour),
		Location:       models.NewGeoJSONPoint(106.7, 10.8),
		PayoutAddress:  "wallet-abc",
		Conditions:     conditions,
	}
	require.NoError(t, e.store.CreatePolicy(context.Background(), policy))
	return policy
}

func (e *testEnv) seedClaim(t *testing.T, policy *models.Policy, status models.ClaimStatus) *models.Claim {
	t.Helper()
	claim := &models.Claim{
		ClaimNumber:     utils.GenerateClaimNumber(time.Now()),
		PolicyID:        policy.ID,
		HolderID:        policy.HolderID,
		ClaimType:       policy.Conditions[0].ConditionType,
		RequestedAmount: policy.CoverageAmount,
		Status:          status,
	}
	require.NoError(t, e.store.CreateClaim(context.Background(), claim))
	return claim
}

func flightCondition(pct int) models.OracleCondition {
	return models.OracleCondition{
		ConditionType: models.ConditionFlight,
		TriggerParams: utils.JSONMap{
			models.ParamFlightNumber: "VN123",
			models.ParamFlightDate:   "2026-10-14",
		},
		PayoutPercentage: pct,
		IsActive:         true,
	}
}

func weatherCondition(pct int) models.OracleCondition {
	return models.OracleCondition{
		ConditionType: models.ConditionWeather,
		TriggerParams: utils.JSONMap{
			models.ParamPrecipitationThreshold: 10.0,
			models.ParamMaxWindSpeed:           50.0,
		},
		PayoutPercentage: pct,
		IsActive:         true,
	}
}

func healthCondition() models.OracleCondition {
	return models.OracleCondition{
		ConditionType:    models.ConditionHealth,
		TriggerParams:    utils.JSONMap{},
		PayoutPercentage: 100,
		IsActive:         true,
	}
}

func flightFixture(name, status string, delay float64) *datasource.FixtureAdapter {
	return datasource.NewFixtureAdapter(name, models.ConditionFlight, models.Reading{
		Status:     status,
		Confidence: 0.95,
		Values:     map[string]float64{models.ValueDelayMinutes: delay},
	})
}

func weatherFixture(name string, precipitation, wind float64) *datasource.FixtureAdapter {
	return datasource.NewFixtureAdapter(name, models.ConditionWeather, models.Reading{
		Confidence: 0.9,
		Values: map[string]float64{
			models.ValuePrecipitation: precipitation,
			models.ValueWindSpeed:     wind,
		},
	})
}

func TestEvaluateClaim_FlightCancellationIsPaidOnce(t *testing.T) {
	flight := flightFixture("flightstats", models.FlightCancelled, 0)
	env := newTestEnv(t, flight)
	policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
	claim := env.seedClaim(t, policy, models.ClaimPending)

	result, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

	require.NoError(t, err)
	assert.True(t, result.Decision.Approved)
	assert.Equal(t, 100, result.Decision.PayoutPercentage)
	assert.Equal(t, models.ClaimPaid, result.Claim.Status)
	require.NotNil(t, result.Payout)
	assert.True(t, result.Payout.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.PayoutCompleted, result.Payout.Status)
	assert.Equal(t, 1, env.store.payoutCount())
	assert.Equal(t, 1, env.transfer.Calls())
	assert.Equal(t, "wallet-abc", env.transfer.requests[0].ToAddress)

	stored, _ := env.store.GetPolicy(context.Background(), policy.ID)
	assert.Equal(t, models.PolicyClaimed, stored.Status)

	evals, _ := env.store.ListEvaluations(context.Background(), claim.ID)
	require.Len(t, evals, 1)
	assert.Equal(t, models.ClaimApproved, evals[0].ResultStatus)
	assert.NotNil(t, evals[0].ArchiveKey)
}

func TestEvaluateClaim_SettledClaimReturnsStoredDecision(t *testing.T) {
	flight := flightFixture("flightstats", models.FlightCancelled, 0)
	env := newTestEnv(t, flight)
	policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
	claim := env.seedClaim(t, policy, models.ClaimPending)

	first, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	callsAfterFirst := flight.Calls()

	second, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, callsAfterFirst, flight.Calls())
	assert.Equal(t, first.Decision.EvaluatedAt, second.Decision.EvaluatedAt)
	assert.Equal(t, first.Decision.PayoutPercentage, second.Decision.PayoutPercentage)
	assert.Equal(t, 1, env.transfer.Calls())

	evals, _ := env.store.ListEvaluations(context.Background(), claim.ID)
	assert.Len(t, evals, 1)
}

func TestEvaluateClaim_WeatherThresholdsAreOred(t *testing.T) {
	cases := []struct {
		name          string
		precipitation float64
		wind          float64
		want          models.ClaimStatus
	}{
		{"rain over threshold, calm wind", 12, 5, models.ClaimPaid},
		{"both under threshold", 5, 10, models.ClaimRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t,
				weatherFixture("openweather", tc.precipitation, tc.wind),
				weatherFixture("meteo", tc.precipitation, tc.wind))
			policy := env.seedPolicy(t, models.PolicyWeather, weatherCondition(60))
			claim := env.seedClaim(t, policy, models.ClaimPending)

			result, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Claim.Status)
			assert.InDelta(t, 0.9, result.Decision.Confidence, 1e-9)
			if tc.want == models.ClaimPaid {
				assert.True(t, result.Payout.Amount.Equal(decimal.NewFromInt(600)))
			} else {
				assert.Nil(t, result.Payout)
				evals, _ := env.store.ListEvaluations(context.Background(), claim.ID)
				assert.Len(t, evals, 1)
			}
		})
	}
}

func TestEvaluateClaim_PaysMaximumNotSum(t *testing.T) {
	env := newTestEnv(t,
		weatherFixture("openweather", 20, 0),
		weatherFixture("meteo", 20, 0),
		flightFixture("flightstats", models.FlightDelayed, 300))
	policy := env.seedPolicy(t, models.PolicyTravel, weatherCondition(50), flightCondition(100))
	claim := env.seedClaim(t, policy, models.ClaimPending)

	result, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

	require.NoError(t, err)
	assert.Equal(t, 75, result.Decision.PayoutPercentage)
	assert.True(t, result.Payout.Amount.Equal(decimal.NewFromInt(750)))
	require.Len(t, result.Decision.Results, 2)
}

func TestEvaluateClaim_HealthAlwaysNeedsReview(t *testing.T) {
	env := newTestEnv(t)
	policy := env.seedPolicy(t, models.PolicyHealth, healthCondition())
	claim := env.seedClaim(t, policy, models.ClaimPending)

	result, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

	require.NoError(t, err)
	assert.Equal(t, models.ClaimInvestigating, result.Claim.Status)
	assert.False(t, result.Decision.Approved)
	assert.True(t, result.Decision.RequiresManualReview)
	assert.Zero(t, env.transfer.Calls())
}

func TestEvaluateClaim_HealthConditionOnlyHoldsHealthClaims(t *testing.T) {
	env := newTestEnv(t, flightFixture("flightstats", models.FlightCancelled, 0))
	policy := env.seedPolicy(t, models.PolicyTravel, flightCondition(100), healthCondition())
	flightClaim := env.seedClaim(t, policy, models.ClaimPending)
	require.Equal(t, models.ConditionFlight, flightClaim.ClaimType)

	result, err := env.orchestrator.EvaluateClaim(context.Background(), flightClaim.ID)

	require.NoError(t, err)
	assert.True(t, result.Decision.Approved)
	assert.False(t, result.Decision.RequiresManualReview)
	assert.Equal(t, models.ClaimPaid, result.Claim.Status)
	assert.Len(t, result.Decision.Results, 1)
	require.NotNil(t, result.Payout)
	assert.True(t, result.Payout.Amount.Equal(decimal.NewFromInt(1000)))

	other := env.seedPolicy(t, models.PolicyTravel, flightCondition(100), healthCondition())
	healthClaim := &models.Claim{
		ClaimNumber:     utils.GenerateClaimNumber(time.Now()),
		PolicyID:        other.ID,
		HolderID:        other.HolderID,
		ClaimType:       models.ParseConditionType("medical_emergency"),
		RequestedAmount: other.CoverageAmount,
		Status:          models.ClaimPending,
	}
	require.NoError(t, env.store.CreateClaim(context.Background(), healthClaim))

	result, err = env.orchestrator.EvaluateClaim(context.Background(), healthClaim.ID)

	require.NoError(t, err)
	assert.Equal(t, models.ClaimInvestigating, result.Claim.Status)
	assert.True(t, result.Decision.RequiresManualReview)
	assert.Equal(t, 1, env.transfer.Calls())
}

func TestEvaluateClaim_LowConfidenceGoesToInvestigation(t *testing.T) {
	// A single weather source caps confidence at 0.45.
	env := newTestEnv(t, weatherFixture("openweather", 30, 0))
	policy := env.seedPolicy(t, models.PolicyWeather, weatherCondition(100))
	claim := env.seedClaim(t, policy, models.ClaimPending)

	result, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

	require.NoError(t, err)
	assert.Equal(t, models.ClaimInvestigating, result.Claim.Status)
	assert.InDelta(t, 0.45, result.Decision.Confidence, 1e-9)
	assert.Zero(t, env.transfer.Calls())
}

func TestEvaluateClaim_FlightProblemsGoToInvestigation(t *testing.T) {
	cases := []struct {
		name     string
		adapters []datasource.Adapter
	}{
		{"source down", []datasource.Adapter{
			flightFixture("flightstats", models.FlightCancelled, 0).
				WithError(models.NewAdapterError(models.ErrUnavailable, "flightstats", nil)),
		}},
		{"sources disagree", []datasource.Adapter{
			flightFixture("flightstats", models.FlightCancelled, 0),
			flightFixture("aviationstack", models.FlightOnTime, 0),
		}},
		{"no source configured", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.adapters...)
			policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
			claim := env.seedClaim(t, policy, models.ClaimPending)

			result, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

			require.NoError(t, err)
			assert.Equal(t, models.ClaimInvestigating, result.Claim.Status)
			require.Len(t, result.Decision.Results, 1)
			assert.NotEmpty(t, result.Decision.Results[0].Error)
			assert.Zero(t, env.transfer.Calls())
		})
	}
}

func TestEvaluateClaim_OneFetchPerConditionType(t *testing.T) {
	a := weatherFixture("openweather", 0, 0)
	b := weatherFixture("meteo", 0, 0)
	env := newTestEnv(t, a, b)
	second := weatherCondition(30)
	second.TriggerParams = utils.JSONMap{models.ParamMinTemperature: -5.0}
	policy := env.seedPolicy(t, models.PolicyWeather, weatherCondition(60), second)
	claim := env.seedClaim(t, policy, models.ClaimPending)

	_, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Calls())
	assert.Equal(t, int64(1), b.Calls())
}

func TestEvaluateClaim_InvalidState(t *testing.T) {
	t.Run("claim under investigation", func(t *testing.T) {
		env := newTestEnv(t, flightFixture("flightstats", models.FlightCancelled, 0))
		policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
		claim := env.seedClaim(t, policy, models.ClaimInvestigating)

		_, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("policy cancelled", func(t *testing.T) {
		env := newTestEnv(t, flightFixture("flightstats", models.FlightCancelled, 0))
		policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
		claim := env.seedClaim(t, policy, models.ClaimPending)
		require.NoError(t, env.store.UpdatePolicyStatus(context.Background(), policy.ID, models.PolicyActive, models.PolicyCancelled))

		_, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("no active conditions", func(t *testing.T) {
		env := newTestEnv(t)
		cond := flightCondition(100)
		cond.IsActive = false
		policy := env.seedPolicy(t, models.PolicyFlightCancellation, cond)
		claim := env.seedClaim(t, policy, models.ClaimPending)

		_, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)

		assert.ErrorIs(t, err, models.ErrNoActiveConditions)
	})

	t.Run("unknown claim", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.orchestrator.EvaluateClaim(context.Background(), uuid.New())

		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestEvaluateClaim_ConcurrentCallsEvaluateOnce(t *testing.T) {
	flight := flightFixture("flightstats", models.FlightCancelled, 0).WithDelay(20 * time.Millisecond)
	env := newTestEnv(t, flight)
	policy := env.seedPolicy(t, models.PolicyFlightCancellation, flightCondition(100))
	claim := env.seedClaim(t, policy, models.ClaimPending)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.orchestrator.EvaluateClaim(context.Background(), claim.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), flight.Calls())
	assert.Equal(t, 1, env.store.payoutCount())
	assert.Equal(t, 1, env.transfer.Calls())
	evals, _ := env.store.ListEvaluations(context.Background(), claim.ID)
	assert.Len(t, evals, 1)
}

func TestEvaluatePolicy_FilesAutomaticClaimOnce(t *testing.T) {
	env := newTestEnv(t, flightFixture("flightstats", models.FlightOnTime, 0))
	policy := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))

	result, err := env.orchestrator.EvaluatePolicy(context.Background(), policy.ID)

	require.NoError(t, err)
	assert.True(t, result.Claim.AutoGenerated)
	assert.Equal(t, models.ClaimRejected, result.Claim.Status)

	_, err = env.orchestrator.EvaluatePolicy(context.Background(), policy.ID)
	assert.ErrorIs(t, err, ErrNoClaimToEvaluate)

	claims, _ := env.store.ListClaims(context.Background(), models.ClaimFilter{PolicyID: policy.ID})
	assert.Len(t, claims, 1)
}

func TestEvaluatePolicy_HealthOnlyPolicyIsLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	policy := env.seedPolicy(t, models.PolicyHealth, healthCondition())

	_, err := env.orchestrator.EvaluatePolicy(context.Background(), policy.ID)

	assert.ErrorIs(t, err, ErrNoClaimToEvaluate)
}
