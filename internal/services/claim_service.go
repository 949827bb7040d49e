package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"oracle-service/internal/event"
	"oracle-service/internal/lock"
	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ClaimService struct {
	store      Store
	identity   IdentityVerifier
	archive    ArchiveReader
	locker     lock.Locker
	dispatcher *PayoutDispatcher
	publisher  event.Publisher
	lockTTL    time.Duration
	lockWait   time.Duration
	now        func() time.Time
}

func NewClaimService(
	store Store,
	identity IdentityVerifier,
	archive ArchiveReader,
	locker lock.Locker,
	dispatcher *PayoutDispatcher,
	publisher event.Publisher,
	lockTTL, lockWait time.Duration,
) *ClaimService {
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &ClaimService{
		store:      store,
		identity:   identity,
		archive:    archive,
		locker:     locker,
		dispatcher: dispatcher,
		publisher:  publisher,
		lockTTL:    lockTTL,
		lockWait:   lockWait,
		now:        time.Now,
	}
}

// SubmitClaim files a claim for the holder against one of their active
// policies. Holders must have passed KYC and may have one open claim per
// policy.
func (s *ClaimService) SubmitClaim(ctx context.Context, holderID string, req models.SubmitClaimRequest) (*models.Claim, error) {
	if strings.TrimSpace(holderID) == "" {
		return nil, fmt.Errorf("%w: missing holder id", models.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	verified, err := s.identity.IsVerified(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check identity verification: %w", err)
	}
	if !verified {
		return nil, models.ErrIdentityNotVerified
	}

	policyID := uuid.MustParse(req.PolicyID)
	policy, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.HolderID != holderID {
		// Someone else's policy looks the same as a missing one.
		return nil, fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
	}
	if policy.Status != models.PolicyActive {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s is %s", policy.ID, policy.Status)
	}
	now := s.now()
	if now.Before(policy.StartDate) {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s coverage starts %s", policy.ID, policy.StartDate.Format(time.RFC3339))
	}

	covered := false
	for _, c := range policy.ActiveConditions() {
		if c.ConditionType == req.ClaimType {
			covered = true
			break
		}
	}
	if !covered {
		return nil, fmt.Errorf("%w: policy %s has no active %s condition", models.ErrValidation, policy.ID, req.ClaimType)
	}
	if req.RequestedAmount.GreaterThan(policy.CoverageAmount) {
		return nil, fmt.Errorf("%w: requested_amount exceeds coverage %s", models.ErrValidation, policy.CoverageAmount)
	}

	open, err := s.store.ListOpenClaimsByPolicy(ctx, policy.ID)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s already has open claim %s", policy.ID, open[0].ClaimNumber)
	}

	claim := &models.Claim{
		ClaimNumber:     utils.GenerateClaimNumber(now),
		PolicyID:        policy.ID,
		HolderID:        holderID,
		ClaimType:       req.ClaimType,
		RequestedAmount: req.RequestedAmount,
		Status:          models.ClaimPending,
		Evidence:        utils.JSONMap(req.Evidence),
		SubmittedAt:     now,
	}
	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return nil, fmt.Errorf("failed to create claim: %w", err)
	}

	slog.Info("Claim submitted", "claim_id", claim.ID, "claim_number", claim.ClaimNumber, "policy_id", policy.ID, "holder_id", holderID)
	return claim, nil
}

func (s *ClaimService) GetClaim(ctx context.Context, id uuid.UUID) (*models.Claim, error) {
	return s.store.GetClaim(ctx, id)
}

func (s *ClaimService) ListClaims(ctx context.Context, filter models.ClaimFilter) ([]models.Claim, error) {
	if filter.Status != "" && !models.IsValidClaimStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, filter.Status)
	}
	return s.store.ListClaims(ctx, filter)
}

// ListEvaluations returns the audit trail for a claim, newest first.
func (s *ClaimService) ListEvaluations(ctx context.Context, claimID uuid.UUID) ([]models.EvaluationRecord, error) {
	if _, err := s.store.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}
	return s.store.ListEvaluations(ctx, claimID)
}

// GetEvaluationSnapshot returns one audit record, preferring the archived
// copy when the row points at one.
func (s *ClaimService) GetEvaluationSnapshot(ctx context.Context, claimID, evaluationID uuid.UUID) (*models.EvaluationRecord, error) {
	records, err := s.ListEvaluations(ctx, claimID)
	if err != nil {
		return nil, err
	}

	for i := range records {
		rec := &records[i]
		if rec.ID != evaluationID {
			continue
		}
		if rec.ArchiveKey == nil || s.archive == nil {
			return rec, nil
		}
		archived, err := s.archive.GetEvaluation(ctx, *rec.ArchiveKey)
		if err != nil {
			slog.Warn("failed to read archived evaluation, serving stored row", "evaluation_id", rec.ID, "key", *rec.ArchiveKey, "error", err)
			return rec, nil
		}
		archived.ArchiveKey = rec.ArchiveKey
		return archived, nil
	}
	return nil, fmt.Errorf("%w: evaluation %s on claim %s", models.ErrNotFound, evaluationID, claimID)
}

// UpdateClaimStatus applies a reviewer's decision. Approving pays out through
// the dispatcher once the policy lock is released.
func (s *ClaimService) UpdateClaimStatus(ctx context.Context, claimID uuid.UUID, req models.UpdateClaimStatusRequest, actor string) (*EvaluationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	result, err := s.review(ctx, claim.PolicyID, claimID, req, actor)
	if err != nil {
		return nil, err
	}
	if result.Claim.Status != models.ClaimApproved || s.dispatcher == nil {
		return result, nil
	}

	payout, err := s.dispatcher.DispatchPayout(ctx, claimID)
	if err != nil {
		slog.Warn("payout dispatch after manual approval did not complete", "claim_id", claimID, "error", err)
	}
	result.Payout = payout
	if fresh, err := s.store.GetClaim(ctx, claimID); err == nil {
		result.Claim = fresh
	}
	return result, nil
}

func (s *ClaimService) review(ctx context.Context, policyID, claimID uuid.UUID, req models.UpdateClaimStatusRequest, actor string) (*EvaluationResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := lock.AcquireWait(waitCtx, s.locker, lock.PolicyKey(policyID), s.lockTTL, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release policy lock", "policy_id", policyID, "error", err)
		}
	}()

	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionClaim(claim.Status, req.Status) {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "claim %s cannot move %s to %s", claim.ID, claim.Status, req.Status)
	}

	policy, err := s.store.GetPolicy(ctx, claim.PolicyID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	decision := &models.Decision{
		ClaimID:     claim.ID,
		PolicyID:    policy.ID,
		Status:      req.Status,
		Reason:      fmt.Sprintf("manual review by %s", actor),
		Evidence:    map[string]any{"reviewed_by": actor},
		EvaluatedAt: now,
	}
	if claim.Decision != nil {
		decision.Confidence = claim.Decision.Confidence
		decision.Results = claim.Decision.Results
		decision.PayoutPercentage = claim.Decision.PayoutPercentage
		decision.Evidence["oracle_status"] = string(claim.Decision.Status)
	}
	if req.Notes != "" {
		decision.Evidence["notes"] = req.Notes
	}

	if req.Status == models.ClaimApproved {
		if policy.Status != models.PolicyActive {
			return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s is %s", policy.ID, policy.Status)
		}
		if req.PayoutPercentage != nil {
			decision.PayoutPercentage = *req.PayoutPercentage
		}
		if decision.PayoutPercentage <= 0 {
			return nil, fmt.Errorf("%w: payout_percentage is required to approve a claim the oracle did not trigger", models.ErrValidation)
		}
		decision.Approved = true
		decision.PayoutAmount = policy.PayoutAmount(decision.PayoutPercentage)
	}

	previous := *claim
	claim.Status = req.Status
	claim.Decision = decision
	claim.ReviewedBy = &actor
	if req.Notes != "" {
		notes := req.Notes
		claim.ReviewNotes = &notes
	}
	if decision.Approved {
		claim.ApprovedAmount = decimal.NewNullDecimal(decision.PayoutAmount)
	}
	if req.Status != models.ClaimInvestigating {
		claim.ProcessedAt = &now
	}

	if err := s.store.RecordDecision(ctx, claim, models.NewEvaluationRecord(decision)); err != nil {
		*claim = previous
		return nil, fmt.Errorf("failed to record review: %w", err)
	}

	slog.Info("Claim reviewed", "claim_id", claim.ID, "from", previous.Status, "to", claim.Status, "actor", actor)

	evt := event.ClaimEvent{
		Type:       event.EventClaimDecided,
		ClaimID:    claim.ID,
		PolicyID:   policy.ID,
		HolderID:   claim.HolderID,
		Status:     string(claim.Status),
		Amount:     decision.PayoutAmount,
		Currency:   policy.Currency,
		Reference:  claim.ClaimNumber,
		Reason:     decision.Reason,
		OccurredAt: now,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("failed to publish claim review", "claim_id", claim.ID, "error", err)
	}

	return &EvaluationResult{Claim: claim, Decision: decision}, nil
}
