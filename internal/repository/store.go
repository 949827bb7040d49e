package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oracle-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store groups the repositories and owns the writes that must land in one
// transaction.
type Store struct {
	db          *sqlx.DB
	Policies    *PolicyRepository
	Claims      *ClaimRepository
	Payouts     *PayoutRepository
	Evaluations *EvaluationRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:          db,
		Policies:    NewPolicyRepository(db),
		Claims:      NewClaimRepository(db),
		Payouts:     NewPayoutRepository(db),
		Evaluations: NewEvaluationRepository(db),
	}
}

func (s *Store) BeginTransaction(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, nil)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.Policies.CreateTx(ctx, tx, policy)
	})
}

func (s *Store) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	return s.Policies.GetByID(ctx, id)
}

func (s *Store) ListPolicies(ctx context.Context, filter models.PolicyFilter) ([]models.Policy, error) {
	return s.Policies.List(ctx, filter)
}

func (s *Store) ListExpiringPolicies(ctx context.Context, before time.Time, limit int) ([]models.Policy, error) {
	return s.Policies.ListExpiring(ctx, before, limit)
}

func (s *Store) UpdatePolicyStatus(ctx context.Context, id uuid.UUID, from, to models.PolicyStatus) error {
	return s.Policies.UpdateStatus(ctx, id, from, to)
}

func (s *Store) CreateClaim(ctx context.Context, claim *models.Claim) error {
	return s.Claims.Create(ctx, claim)
}

func (s *Store) GetClaim(ctx context.Context, id uuid.UUID) (*models.Claim, error) {
	return s.Claims.GetByID(ctx, id)
}

func (s *Store) ListClaims(ctx context.Context, filter models.ClaimFilter) ([]models.Claim, error) {
	return s.Claims.List(ctx, filter)
}

func (s *Store) ListOpenClaimsByPolicy(ctx context.Context, policyID uuid.UUID) ([]models.Claim, error) {
	return s.Claims.ListOpenByPolicy(ctx, policyID)
}

func (s *Store) UpdateClaim(ctx context.Context, claim *models.Claim) error {
	return s.Claims.Update(ctx, claim)
}

// RecordDecision writes the audit record and the claim's new state together.
func (s *Store) RecordDecision(ctx context.Context, claim *models.Claim, rec *models.EvaluationRecord) error {
	version := claim.Version
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.Evaluations.InsertTx(ctx, tx, rec); err != nil {
			return err
		}
		return s.Claims.UpdateTx(ctx, tx, claim)
	})
	if err != nil && claim.Version != version {
		// Commit failed after the in-memory bump.
		claim.Version = version
	}
	return err
}

func (s *Store) ListEvaluations(ctx context.Context, claimID uuid.UUID) ([]models.EvaluationRecord, error) {
	return s.Evaluations.ListByClaim(ctx, claimID)
}

func (s *Store) SetEvaluationArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	return s.Evaluations.SetArchiveKey(ctx, id, key)
}

func (s *Store) CreatePayout(ctx context.Context, payout *models.PayoutRecord) error {
	return s.Payouts.Create(ctx, payout)
}

func (s *Store) GetPayoutByClaim(ctx context.Context, claimID uuid.UUID) (*models.PayoutRecord, error) {
	return s.Payouts.GetByClaimID(ctx, claimID)
}

func (s *Store) UpdatePayout(ctx context.Context, payout *models.PayoutRecord) error {
	return s.Payouts.Update(ctx, payout)
}

func (s *Store) ListDuePayouts(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error) {
	return s.Payouts.ListDueRetries(ctx, now, maxAttempts, limit)
}

func (s *Store) ListStuckPayouts(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error) {
	return s.Payouts.ListStuck(ctx, staleBefore, maxAttempts, limit)
}

func (s *Store) ListPayoutsByStatus(ctx context.Context, status models.PayoutStatus) ([]models.PayoutRecord, error) {
	return s.Payouts.ListByStatus(ctx, status)
}

// SettlePayout marks the payout completed, the claim paid and, when it is
// still active, the policy claimed.
func (s *Store) SettlePayout(ctx context.Context, payout *models.PayoutRecord, claim *models.Claim) error {
	version := claim.Version
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.Payouts.UpdateTx(ctx, tx, payout); err != nil {
			return err
		}
		if err := s.Claims.UpdateTx(ctx, tx, claim); err != nil {
			return err
		}

		err := s.Policies.UpdateStatusTx(ctx, tx, claim.PolicyID, models.PolicyActive, models.PolicyClaimed)
		if errors.Is(err, models.ErrInvalidState) {
			slog.Info("policy not active at settlement, leaving status unchanged",
				"policy_id", claim.PolicyID, "claim_id", claim.ID)
			return nil
		}
		return err
	})
	if err != nil && claim.Version != version {
		claim.Version = version
	}
	return err
}
