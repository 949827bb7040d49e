package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"oracle-service/internal/datasource"
	"oracle-service/internal/evaluator"
	"oracle-service/internal/event"
	"oracle-service/internal/lock"
	"oracle-service/internal/metrics"
	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNoClaimToEvaluate is returned by EvaluatePolicy when the policy has
// nothing left for the oracle to decide.
var ErrNoClaimToEvaluate = errors.New("no claim to evaluate")

type EvaluationSettings struct {
	ConfidenceFloor float64
	LockTTL         time.Duration
	LockWait        time.Duration
}

// EvaluationResult is what EvaluateClaim hands back to callers. Payout is set
// when the evaluation approved the claim and dispatch got as far as creating
// a payout record.
type EvaluationResult struct {
	Claim      *models.Claim        `json:"claim"`
	Decision   *models.Decision     `json:"decision"`
	Payout     *models.PayoutRecord `json:"payout,omitempty"`
	Idempotent bool                 `json:"idempotent"`
}

type EvaluationOrchestrator struct {
	store      Store
	registry   *datasource.Registry
	evaluator  *evaluator.Evaluator
	locker     lock.Locker
	archiver   Archiver
	dispatcher *PayoutDispatcher
	publisher  event.Publisher
	metrics    *metrics.Metrics
	settings   EvaluationSettings
	now        func() time.Time
}

func NewEvaluationOrchestrator(
	store Store,
	registry *datasource.Registry,
	locker lock.Locker,
	archiver Archiver,
	dispatcher *PayoutDispatcher,
	publisher event.Publisher,
	m *metrics.Metrics,
	settings EvaluationSettings,
) *EvaluationOrchestrator {
	if settings.ConfidenceFloor <= 0 {
		settings.ConfidenceFloor = 0.5
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = time.Minute
	}
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	return &EvaluationOrchestrator{
		store:      store,
		registry:   registry,
		evaluator:  evaluator.New(),
		locker:     locker,
		archiver:   archiver,
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    m,
		settings:   settings,
		now:        time.Now,
	}
}

// EvaluateClaim runs the oracle for one claim. A claim that was already
// decided returns its stored decision without touching any data source.
func (o *EvaluationOrchestrator) EvaluateClaim(ctx context.Context, claimID uuid.UUID) (*EvaluationResult, error) {
	claim, err := o.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if isDecided(claim.Status) {
		return o.storedResult(ctx, claim), nil
	}

	result, err := o.evaluateLocked(ctx, claim.PolicyID, claimID)
	if err != nil {
		return nil, err
	}
	if result.Idempotent || result.Claim.Status != models.ClaimApproved || o.dispatcher == nil {
		return result, nil
	}

	payout, err := o.dispatcher.DispatchPayout(ctx, claimID)
	if err != nil {
		slog.Warn("payout dispatch after approval did not complete", "claim_id", claimID, "error", err)
	}
	result.Payout = payout

	if fresh, err := o.store.GetClaim(ctx, claimID); err == nil {
		result.Claim = fresh
	}
	return result, nil
}

// evaluateLocked holds the policy lock for the read-evaluate-write cycle and
// releases it before any payout is dispatched.
func (o *EvaluationOrchestrator) evaluateLocked(ctx context.Context, policyID, claimID uuid.UUID) (*EvaluationResult, error) {
	waitCtx := ctx
	if o.settings.LockWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.settings.LockWait)
		defer cancel()
	}
	release, err := lock.AcquireWait(waitCtx, o.locker, lock.PolicyKey(policyID), o.settings.LockTTL, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, models.ErrLockNotAcquired) {
			o.metrics.ObserveLockContention("policy")
		}
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release policy lock", "policy_id", policyID, "error", err)
		}
	}()

	// Re-read under the lock; another evaluation may have finished first.
	claim, err := o.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if isDecided(claim.Status) {
		return o.storedResult(ctx, claim), nil
	}
	if claim.Status != models.ClaimPending {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "claim %s is %s", claim.ID, claim.Status)
	}

	policy, err := o.store.GetPolicy(ctx, claim.PolicyID)
	if err != nil {
		return nil, err
	}
	if policy.Status != models.PolicyActive {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s is %s", policy.ID, policy.Status)
	}
	conditions := conditionsForClaim(claim.ClaimType, policy.ActiveConditions())
	if len(conditions) == 0 {
		return nil, models.NewEvaluationError(models.ErrNoActiveConditions, "policy %s", policy.ID)
	}

	started := o.now()
	decision := o.decide(ctx, policy, claim, conditions)

	if !models.CanTransitionClaim(claim.Status, decision.Status) {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "claim %s cannot move %s to %s", claim.ID, claim.Status, decision.Status)
	}

	previous := *claim
	claim.Status = decision.Status
	claim.Decision = decision
	if decision.Approved {
		claim.ApprovedAmount = decimal.NewNullDecimal(decision.PayoutAmount)
	}
	if decision.Status != models.ClaimInvestigating {
		claim.ProcessedAt = &decision.EvaluatedAt
	}

	rec := models.NewEvaluationRecord(decision)
	if err := o.store.RecordDecision(ctx, claim, rec); err != nil {
		*claim = previous
		return nil, fmt.Errorf("failed to record evaluation: %w", err)
	}

	o.archive(ctx, rec)
	o.metrics.ObserveEvaluation(string(decision.Status), o.now().Sub(started))

	slog.Info("Claim evaluated",
		"claim_id", claim.ID,
		"policy_id", policy.ID,
		"status", decision.Status,
		"payout_percentage", decision.PayoutPercentage,
		"confidence", decision.Confidence,
		"reason", decision.Reason)

	evt := event.ClaimEvent{
		Type:       event.EventClaimDecided,
		ClaimID:    claim.ID,
		PolicyID:   policy.ID,
		HolderID:   claim.HolderID,
		Status:     string(decision.Status),
		Amount:     decision.PayoutAmount,
		Currency:   policy.Currency,
		Reference:  claim.ClaimNumber,
		Reason:     decision.Reason,
		OccurredAt: decision.EvaluatedAt,
	}
	if err := o.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("failed to publish claim decision", "claim_id", claim.ID, "error", err)
	}

	return &EvaluationResult{Claim: claim, Decision: decision}, nil
}

// decide fetches every needed reading and turns the condition verdicts into a
// decision. It has no side effects beyond the adapter calls.
func (o *EvaluationOrchestrator) decide(ctx context.Context, policy *models.Policy, claim *models.Claim, conditions []models.OracleCondition) *models.Decision {
	fetched := o.fetchAll(ctx, policy, claim, conditions)

	decision := &models.Decision{
		ClaimID:     claim.ID,
		PolicyID:    policy.ID,
		EvaluatedAt: o.now().UTC(),
	}

	results := make([]models.ConditionResult, 0, len(conditions))
	for _, cond := range conditions {
		f := fetched[cond.ConditionType]
		var readings []models.Reading
		if f != nil {
			readings = f.readings
		}

		res, err := o.evaluator.Evaluate(cond, readings)
		if err == nil && cond.ConditionType == models.ConditionFlight && f != nil && len(f.errs) > 0 {
			// Flight status needs every configured source; a partial answer is
			// not authoritative.
			err = f.errs[0]
		}
		if err != nil {
			res.Error = err.Error()
			res.Met = false
			res.PayoutPercentage = 0
		}
		results = append(results, res)
	}

	outcome := evaluator.Aggregate(results, o.settings.ConfidenceFloor)

	decision.Approved = outcome.Approved
	decision.PayoutPercentage = outcome.PayoutPercentage
	decision.Confidence = outcome.Confidence
	decision.RequiresManualReview = outcome.RequiresManualReview
	decision.Status = outcome.Status
	decision.Reason = outcome.Reason
	decision.Results = results
	if outcome.Approved {
		decision.PayoutAmount = policy.PayoutAmount(outcome.PayoutPercentage)
	}

	types := make([]models.ConditionType, 0, len(fetched))
	for ct := range fetched {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, ct := range types {
		decision.Readings = append(decision.Readings, fetched[ct].readings...)
		for _, err := range fetched[ct].errs {
			decision.Errors = append(decision.Errors, err.Error())
		}
	}
	return decision
}

type fetchResult struct {
	readings []models.Reading
	errs     []error
}

// fetchAll issues one query per distinct condition type, fanned out to every
// adapter registered for that type, all concurrently.
func (o *EvaluationOrchestrator) fetchAll(ctx context.Context, policy *models.Policy, claim *models.Claim, conditions []models.OracleCondition) map[models.ConditionType]*fetchResult {
	queries := make(map[models.ConditionType]models.Query)
	for _, cond := range conditions {
		if _, seen := queries[cond.ConditionType]; seen {
			continue
		}
		if cond.ConditionType == models.ConditionHealth {
			continue
		}
		queries[cond.ConditionType] = buildQuery(policy, claim, cond)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[models.ConditionType]*fetchResult, len(queries))
	)

	for ct, q := range queries {
		out[ct] = &fetchResult{}
		for _, adapter := range o.registry.For(ct) {
			wg.Add(1)
			go func(ct models.ConditionType, a datasource.Adapter, q models.Query) {
				defer wg.Done()
				reading, err := a.Fetch(ctx, q)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					slog.Warn("data source fetch failed", "source", a.Name(), "condition_type", ct, "policy_id", q.PolicyID, "error", err)
					out[ct].errs = append(out[ct].errs, err)
					return
				}
				out[ct].readings = append(out[ct].readings, reading)
			}(ct, adapter, q)
		}
	}
	wg.Wait()

	// Goroutines finish in any order; keep evidence stable.
	for _, f := range out {
		sort.SliceStable(f.readings, func(i, j int) bool { return f.readings[i].Source < f.readings[j].Source })
	}
	return out
}

func buildQuery(policy *models.Policy, claim *models.Claim, cond models.OracleCondition) models.Query {
	q := models.Query{
		ConditionType: cond.ConditionType,
		PolicyID:      policy.ID.String(),
		FlightNumber:  cond.TriggerParams.String(models.ParamFlightNumber),
		BaggageTag:    cond.TriggerParams.String(models.ParamBaggageTag),
		VenueID:       cond.TriggerParams.String(models.ParamVenueID),
		Date:          eventDate(policy, claim, cond),
	}
	if policy.Location != nil {
		q.HasLocation = true
		q.Latitude = policy.Location.Lat()
		q.Longitude = policy.Location.Lon()
	}
	return q
}

// eventDate prefers a date pinned on the condition, then the claim
// submission clamped into the coverage window.
func eventDate(policy *models.Policy, claim *models.Claim, cond models.OracleCondition) time.Time {
	for _, key := range []string{models.ParamFlightDate, models.ParamEventDate} {
		if raw := cond.TriggerParams.String(key); raw != "" {
			if t, err := time.Parse("2006-01-02", raw); err == nil {
				return t
			}
		}
	}

	t := claim.SubmittedAt
	if t.IsZero() {
		t = time.Now()
	}
	if t.Before(policy.StartDate) {
		return policy.StartDate
	}
	if t.After(policy.EndDate) {
		return policy.EndDate
	}
	return t
}

func (o *EvaluationOrchestrator) archive(ctx context.Context, rec *models.EvaluationRecord) {
	if o.archiver == nil {
		return
	}
	key, err := o.archiver.ArchiveEvaluation(ctx, rec)
	if err != nil {
		slog.Warn("failed to archive evaluation snapshot", "evaluation_id", rec.ID, "error", err)
		return
	}
	if err := o.store.SetEvaluationArchiveKey(ctx, rec.ID, key); err != nil {
		slog.Warn("failed to store evaluation archive key", "evaluation_id", rec.ID, "error", err)
		return
	}
	rec.ArchiveKey = &key
}

func (o *EvaluationOrchestrator) storedResult(ctx context.Context, claim *models.Claim) *EvaluationResult {
	result := &EvaluationResult{Claim: claim, Decision: claim.Decision, Idempotent: true}
	if claim.Status == models.ClaimApproved || claim.Status == models.ClaimPaid {
		if payout, err := o.store.GetPayoutByClaim(ctx, claim.ID); err == nil {
			result.Payout = payout
		}
	}
	return result
}

// EvaluatePolicy evaluates the policy's oldest pending claim, or files an
// automatic claim when the oracle has never looked at the policy. Used by
// the expiry sweep.
func (o *EvaluationOrchestrator) EvaluatePolicy(ctx context.Context, policyID uuid.UUID) (*EvaluationResult, error) {
	claimID, err := o.claimForPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return o.EvaluateClaim(ctx, claimID)
}

func (o *EvaluationOrchestrator) claimForPolicy(ctx context.Context, policyID uuid.UUID) (uuid.UUID, error) {
	release, err := o.locker.Acquire(ctx, lock.PolicyKey(policyID), o.settings.LockTTL)
	if err != nil {
		if errors.Is(err, models.ErrLockNotAcquired) {
			o.metrics.ObserveLockContention("policy")
		}
		return uuid.Nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release policy lock", "policy_id", policyID, "error", err)
		}
	}()

	policy, err := o.store.GetPolicy(ctx, policyID)
	if err != nil {
		return uuid.Nil, err
	}
	if policy.Status != models.PolicyActive {
		return uuid.Nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s is %s", policy.ID, policy.Status)
	}

	open, err := o.store.ListOpenClaimsByPolicy(ctx, policyID)
	if err != nil {
		return uuid.Nil, err
	}
	var pending *models.Claim
	for i := range open {
		if open[i].Status != models.ClaimPending {
			continue
		}
		if pending == nil || open[i].SubmittedAt.Before(pending.SubmittedAt) {
			pending = &open[i]
		}
	}
	if pending != nil {
		return pending.ID, nil
	}
	if len(open) > 0 {
		return uuid.Nil, fmt.Errorf("%w: policy %s has a claim under investigation", ErrNoClaimToEvaluate, policyID)
	}

	claimType, ok := autoClaimType(policy.ActiveConditions())
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: policy %s has no automatically checkable condition", ErrNoClaimToEvaluate, policyID)
	}

	existing, err := o.store.ListClaims(ctx, models.ClaimFilter{PolicyID: policyID, Limit: 100})
	if err != nil {
		return uuid.Nil, err
	}
	for _, c := range existing {
		if c.AutoGenerated {
			return uuid.Nil, fmt.Errorf("%w: policy %s was already checked", ErrNoClaimToEvaluate, policyID)
		}
	}

	now := o.now()
	claim := &models.Claim{
		ClaimNumber:     utils.GenerateClaimNumber(now),
		PolicyID:        policy.ID,
		HolderID:        policy.HolderID,
		ClaimType:       claimType,
		RequestedAmount: policy.CoverageAmount,
		Status:          models.ClaimPending,
		AutoGenerated:   true,
		SubmittedAt:     now,
	}
	if err := o.store.CreateClaim(ctx, claim); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create automatic claim: %w", err)
	}
	slog.Info("Automatic claim filed", "claim_id", claim.ID, "policy_id", policy.ID, "claim_type", claimType)
	return claim.ID, nil
}

// autoClaimType picks the first condition the oracle can decide without a
// human. Health-only policies never get automatic claims.
func autoClaimType(conditions []models.OracleCondition) (models.ConditionType, bool) {
	for _, c := range conditions {
		if c.ConditionType != models.ConditionHealth {
			return c.ConditionType, true
		}
	}
	return "", false
}

// conditionsForClaim drops health conditions from non-health claims; a health
// condition only ever asks for manual review of a health claim.
func conditionsForClaim(claimType models.ConditionType, conditions []models.OracleCondition) []models.OracleCondition {
	out := make([]models.OracleCondition, 0, len(conditions))
	for _, c := range conditions {
		if c.ConditionType == models.ConditionHealth && claimType != models.ConditionHealth {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isDecided(s models.ClaimStatus) bool {
	return s == models.ClaimApproved || s.IsTerminal()
}
