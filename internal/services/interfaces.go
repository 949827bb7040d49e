package services

import (
	"context"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/transfer"

	"github.com/google/uuid"
)

// Store is the persistence the services rely on. repository.Store is the
// Postgres implementation.
type Store interface {
	CreatePolicy(ctx context.Context, policy *models.Policy) error
	GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	ListPolicies(ctx context.Context, filter models.PolicyFilter) ([]models.Policy, error)
	ListExpiringPolicies(ctx context.Context, before time.Time, limit int) ([]models.Policy, error)
	UpdatePolicyStatus(ctx context.Context, id uuid.UUID, from, to models.PolicyStatus) error

	CreateClaim(ctx context.Context, claim *models.Claim) error
	GetClaim(ctx context.Context, id uuid.UUID) (*models.Claim, error)
	ListClaims(ctx context.Context, filter models.ClaimFilter) ([]models.Claim, error)
	ListOpenClaimsByPolicy(ctx context.Context, policyID uuid.UUID) ([]models.Claim, error)
	UpdateClaim(ctx context.Context, claim *models.Claim) error
	RecordDecision(ctx context.Context, claim *models.Claim, rec *models.EvaluationRecord) error
	ListEvaluations(ctx context.Context, claimID uuid.UUID) ([]models.EvaluationRecord, error)
	SetEvaluationArchiveKey(ctx context.Context, id uuid.UUID, key string) error

	CreatePayout(ctx context.Context, payout *models.PayoutRecord) error
	GetPayoutByClaim(ctx context.Context, claimID uuid.UUID) (*models.PayoutRecord, error)
	UpdatePayout(ctx context.Context, payout *models.PayoutRecord) error
	ListDuePayouts(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error)
	ListPayoutsByStatus(ctx context.Context, status models.PayoutStatus) ([]models.PayoutRecord, error)
	ListStuckPayouts(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error)
	SettlePayout(ctx context.Context, payout *models.PayoutRecord, claim *models.Claim) error
}

// Archiver keeps full evaluation snapshots in object storage.
type Archiver interface {
	ArchiveEvaluation(ctx context.Context, rec *models.EvaluationRecord) (string, error)
}

// ArchiveReader reads snapshots back from object storage.
type ArchiveReader interface {
	GetEvaluation(ctx context.Context, key string) (*models.EvaluationRecord, error)
}

// Transferer moves money to a holder's payout address.
type Transferer interface {
	Transfer(ctx context.Context, req transfer.Request) (string, error)
}

// IdentityVerifier reports whether a holder passed KYC.
type IdentityVerifier interface {
	IsVerified(ctx context.Context, userID string) (bool, error)
}
