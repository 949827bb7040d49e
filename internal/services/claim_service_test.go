package services

import (
	"context"
	"testing"
	"time"

	"oracle-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitRequest(policy *models.Policy, ct models.ConditionType) models.SubmitClaimRequest {
	return models.SubmitClaimRequest{
		PolicyID:        policy.ID.String(),
		ClaimType:       ct,
		RequestedAmount: decimal.NewFromInt(500),
		Evidence:        map[string]any{"boarding_pass": "VN123-12A"},
	}
}

func TestSubmitClaim(t *testing.T) {
	env := newTestEnv(t)
	policy := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))

	claim, err := env.claims.SubmitClaim(context.Background(), testHolder, submitRequest(policy, models.ConditionFlight))

	require.NoError(t, err)
	assert.Equal(t, models.ClaimPending, claim.Status)
	assert.Equal(t, policy.ID, claim.PolicyID)
	assert.False(t, claim.AutoGenerated)
	assert.Regexp(t, `^CLM-\d{8}-`, claim.ClaimNumber)
}

func TestSubmitClaim_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		holder  string
		mutate  func(env *testEnv, policy *models.Policy, req *models.SubmitClaimRequest)
		wantErr error
	}{
		{
			name:    "holder without kyc",
			holder:  "stranger",
			wantErr: models.ErrIdentityNotVerified,
		},
		{
			name:   "claim type the policy does not cover",
			holder: testHolder,
			mutate: func(_ *testEnv, _ *models.Policy, req *models.SubmitClaimRequest) {
				req.ClaimType = models.ConditionBaggage
			},
			wantErr: models.ErrValidation,
		},
		{
			name:   "requested more than coverage",
			holder: testHolder,
			mutate: func(_ *testEnv, _ *models.Policy, req *models.SubmitClaimRequest) {
				req.RequestedAmount = decimal.NewFromInt(5000)
			},
			wantErr: models.ErrValidation,
		},
		{
			name:   "open claim already exists",
			holder: testHolder,
			mutate: func(env *testEnv, policy *models.Policy, _ *models.SubmitClaimRequest) {
				env.seedClaim(t, policy, models.ClaimInvestigating)
			},
			wantErr: models.ErrInvalidState,
		},
		{
			name:   "policy no longer active",
			holder: testHolder,
			mutate: func(env *testEnv, policy *models.Policy, _ *models.SubmitClaimRequest) {
				_ = env.store.UpdatePolicyStatus(context.Background(), policy.ID, models.PolicyActive, models.PolicyExpired)
			},
			wantErr: models.ErrInvalidState,
		},
		{
			name:    "bad policy id",
			holder:  testHolder,
			mutate:  func(_ *testEnv, _ *models.Policy, req *models.SubmitClaimRequest) { req.PolicyID = "nope" },
			wantErr: models.ErrValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			policy := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
			req := submitRequest(policy, models.ConditionFlight)
			if tc.mutate != nil {
				tc.mutate(env, policy, &req)
			}

			_, err := env.claims.SubmitClaim(context.Background(), tc.holder, req)

			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSubmitClaim_OtherHoldersPolicyLooksMissing(t *testing.T) {
	env := newTestEnv(t)
	policy := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
	env.claims.identity = allowAll{}

	_, err := env.claims.SubmitClaim(context.Background(), "someone-else", submitRequest(policy, models.ConditionFlight))

	assert.ErrorIs(t, err, models.ErrNotFound)
}

type allowAll struct{}

func (allowAll) IsVerified(context.Context, string) (bool, error) { return true, nil }

func TestUpdateClaimStatus_ManualApprovalPays(t *testing.T) {
	env := newTestEnv(t)
	policy := env.seedPolicy(t, models.PolicyHealth, healthCondition())
	claim := env.seedClaim(t, policy, models.ClaimPending)

	evaluated, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	require.Equal(t, models.ClaimInvestigating, evaluated.Claim.Status)

	pct := 40
	result, err := env.claims.UpdateClaimStatus(context.Background(), claim.ID, models.UpdateClaimStatusRequest{
		Status:           models.ClaimApproved,
		Notes:            "hospital invoice checked",
		PayoutPercentage: &pct,
	}, "reviewer-7")

	require.NoError(t, err)
	assert.Equal(t, models.ClaimPaid, result.Claim.Status)
	require.NotNil(t, result.Payout)
	assert.True(t, result.Payout.Amount.Equal(decimal.NewFromInt(400)))
	require.NotNil(t, result.Claim.ReviewedBy)
	assert.Equal(t, "reviewer-7", *result.Claim.ReviewedBy)

	evals, _ := env.store.ListEvaluations(context.Background(), claim.ID)
	assert.Len(t, evals, 2)
}

func TestUpdateClaimStatus_ApprovalNeedsPercentage(t *testing.T) {
	env := newTestEnv(t)
	policy := env.seedPolicy(t, models.PolicyHealth, healthCondition())
	claim := env.seedClaim(t, policy, models.ClaimInvestigating)

	_, err := env.claims.UpdateClaimStatus(context.Background(), claim.ID,
		models.UpdateClaimStatusRequest{Status: models.ClaimApproved}, "reviewer-7")

	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, env.transfer.Calls())
}

func TestUpdateClaimStatus_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from models.ClaimStatus
		to   models.ClaimStatus
	}{
		{models.ClaimRejected, models.ClaimApproved},
		{models.ClaimInvestigating, models.ClaimPending},
		{models.ClaimApproved, models.ClaimRejected},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			env := newTestEnv(t)
			policy := env.seedPolicy(t, models.PolicyHealth, healthCondition())
			claim := env.seedClaim(t, policy, tc.from)

			_, err := env.claims.UpdateClaimStatus(context.Background(), claim.ID,
				models.UpdateClaimStatusRequest{Status: tc.to}, "reviewer-7")

			assert.ErrorIs(t, err, models.ErrInvalidState)
		})
	}
}

func TestUpdateClaimStatus_CannotMarkPaid(t *testing.T) {
	env := newTestEnv(t)
	_, claim := env.seedApproved(t, 100)

	_, err := env.claims.UpdateClaimStatus(context.Background(), claim.ID,
		models.UpdateClaimStatusRequest{Status: models.ClaimPaid}, "reviewer-7")

	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestPolicyService_CreateAndCancel(t *testing.T) {
	env := newTestEnv(t)
	start := time.Now().Add(time.Hour)
	req := models.CreatePolicyRequest{
		PolicyType:     models.PolicyFlightDelay,
		PremiumAmount:  decimal.NewFromInt(20),
		CoverageAmount: decimal.NewFromInt(400),
		Currency:       "usd",
		StartDate:      start,
		EndDate:        start.Add(72 * time.Hour),
		PayoutAddress:  "wallet-xyz",
		Conditions: []models.ConditionRequest{{
			ConditionType:    models.ConditionFlight,
			TriggerParams:    map[string]any{models.ParamFlightNumber: "VN321"},
			PayoutPercentage: 100,
		}},
	}

	policy, err := env.policies.CreatePolicy(context.Background(), testHolder, req)
	require.NoError(t, err)
	assert.Equal(t, "USD", policy.Currency)
	assert.Equal(t, models.PolicyActive, policy.Status)
	require.Len(t, policy.Conditions, 1)
	assert.True(t, policy.Conditions[0].IsActive)

	cancelled, err := env.policies.CancelPolicy(context.Background(), policy.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyCancelled, cancelled.Status)

	_, err = env.policies.CancelPolicy(context.Background(), policy.ID, "admin-1")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestPolicyService_CreateRejectsBadConditions(t *testing.T) {
	env := newTestEnv(t)
	start := time.Now()
	req := models.CreatePolicyRequest{
		PolicyType:     models.PolicyFlightDelay,
		PremiumAmount:  decimal.NewFromInt(20),
		CoverageAmount: decimal.NewFromInt(400),
		Currency:       "USD",
		StartDate:      start,
		EndDate:        start.Add(time.Hour),
		PayoutAddress:  "wallet-xyz",
		Conditions: []models.ConditionRequest{{
			ConditionType:    models.ConditionWeather,
			TriggerParams:    map[string]any{models.ParamPrecipitationThreshold: 10},
			PayoutPercentage: 50,
		}},
	}

	_, err := env.policies.CreatePolicy(context.Background(), testHolder, req)

	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestListPolicyTypes(t *testing.T) {
	env := newTestEnv(t)

	types := env.policies.ListPolicyTypes()

	require.Len(t, types, len(models.PolicyTypes))
	assert.Equal(t, []models.ConditionType{models.ConditionFlight, models.ConditionBaggage, models.ConditionWeather, models.ConditionHealth},
		typesFor(types, models.PolicyTravel))
}

func typesFor(list []PolicyTypeInfo, pt models.PolicyType) []models.ConditionType {
	for _, info := range list {
		if info.PolicyType == pt {
			return info.ConditionTypes
		}
	}
	return nil
}

func TestGetEvaluationSnapshot_ReadsArchive(t *testing.T) {
	env := newTestEnv(t, flightFixture("flightstats", models.FlightOnTime, 0))
	policy := env.seedPolicy(t, models.PolicyFlightDelay, flightCondition(100))
	claim := env.seedClaim(t, policy, models.ClaimPending)
	_, err := env.orchestrator.EvaluateClaim(context.Background(), claim.ID)
	require.NoError(t, err)

	evals, err := env.claims.ListEvaluations(context.Background(), claim.ID)
	require.NoError(t, err)
	require.Len(t, evals, 1)

	rec, err := env.claims.GetEvaluationSnapshot(context.Background(), claim.ID, evals[0].ID)

	require.NoError(t, err)
	require.NotNil(t, rec.ArchiveKey)
	assert.Equal(t, env.archiver.keys[0], *rec.ArchiveKey)
	assert.Equal(t, models.ClaimRejected, rec.ResultStatus)

	_, err = env.claims.GetEvaluationSnapshot(context.Background(), claim.ID, claim.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
