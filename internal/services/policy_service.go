package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"oracle-service/internal/lock"
	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/google/uuid"
)

// PolicyTypeInfo describes an underwritable product and the conditions it
// accepts.
type PolicyTypeInfo struct {
	PolicyType     models.PolicyType      `json:"policy_type"`
	ConditionTypes []models.ConditionType `json:"condition_types"`
}

type PolicyService struct {
	store   Store
	locker  lock.Locker
	lockTTL time.Duration
	now     func() time.Time
}

func NewPolicyService(store Store, locker lock.Locker, lockTTL time.Duration) *PolicyService {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &PolicyService{
		store:   store,
		locker:  locker,
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

func (s *PolicyService) ListPolicyTypes() []PolicyTypeInfo {
	out := make([]PolicyTypeInfo, 0, len(models.PolicyTypes))
	for _, pt := range models.PolicyTypes {
		out = append(out, PolicyTypeInfo{PolicyType: pt, ConditionTypes: models.ConditionTypesFor(pt)})
	}
	return out
}

func (s *PolicyService) CreatePolicy(ctx context.Context, holderID string, req models.CreatePolicyRequest) (*models.Policy, error) {
	if strings.TrimSpace(holderID) == "" {
		return nil, fmt.Errorf("%w: missing holder id", models.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	now := s.now()
	policy := &models.Policy{
		PolicyNumber:   utils.GeneratePolicyNumber(now),
		HolderID:       holderID,
		PolicyType:     req.PolicyType,
		PremiumAmount:  req.PremiumAmount,
		CoverageAmount: req.CoverageAmount,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		Status:         models.PolicyActive,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Location:       req.Location,
		PayoutAddress:  strings.TrimSpace(req.PayoutAddress),
	}
	for _, c := range req.Conditions {
		policy.Conditions = append(policy.Conditions, models.OracleCondition{
			ConditionType:    c.ConditionType,
			TriggerParams:    utils.JSONMap(c.TriggerParams),
			PayoutPercentage: c.PayoutPercentage,
			IsActive:         true,
		})
	}

	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	slog.Info("Policy created", "policy_id", policy.ID, "policy_number", policy.PolicyNumber, "holder_id", holderID, "conditions", len(policy.Conditions))
	return policy, nil
}

func (s *PolicyService) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	return s.store.GetPolicy(ctx, id)
}

func (s *PolicyService) ListPolicies(ctx context.Context, filter models.PolicyFilter) ([]models.Policy, error) {
	if filter.PolicyType != "" && !models.IsValidPolicyType(filter.PolicyType) {
		return nil, fmt.Errorf("%w: unknown policy type %q", models.ErrValidation, filter.PolicyType)
	}
	return s.store.ListPolicies(ctx, filter)
}

// CancelPolicy moves an active policy to cancelled. Policies with an open
// claim must have it decided first.
func (s *PolicyService) CancelPolicy(ctx context.Context, id uuid.UUID, actor string) (*models.Policy, error) {
	release, err := s.locker.Acquire(ctx, lock.PolicyKey(id), s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release policy lock", "policy_id", id, "error", err)
		}
	}()

	policy, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionPolicy(policy.Status, models.PolicyCancelled) {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s is %s", policy.ID, policy.Status)
	}
	open, err := s.store.ListOpenClaimsByPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, models.NewEvaluationError(models.ErrInvalidState, "policy %s has open claim %s", policy.ID, open[0].ClaimNumber)
	}

	if err := s.store.UpdatePolicyStatus(ctx, id, policy.Status, models.PolicyCancelled); err != nil {
		return nil, err
	}
	policy.Status = models.PolicyCancelled

	slog.Info("Policy cancelled", "policy_id", id, "actor", actor)
	return policy, nil
}
