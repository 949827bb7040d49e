package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const payoutColumns = `
	id, claim_id, policy_id, holder_id, to_address, amount, currency, status,
	transaction_ref, attempts, last_error, next_attempt_at, created_at, updated_at, completed_at`

const pqUniqueViolation = "23505"

type PayoutRepository struct {
	db *sqlx.DB
}

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Create inserts the payout row. The UNIQUE(claim_id) constraint is the last
// line against double payment: a duplicate surfaces as models.ErrAlreadyPaid.
func (r *PayoutRepository) Create(ctx context.Context, payout *models.PayoutRecord) error {
	now := time.Now()
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	payout.CreatedAt = now
	payout.UpdatedAt = now

	query := `
		INSERT INTO payout (
			id, claim_id, policy_id, holder_id, to_address, amount, currency, status,
			transaction_ref, attempts, last_error, next_attempt_at, created_at, updated_at, completed_at
		) VALUES (
			:id, :claim_id, :policy_id, :holder_id, :to_address, :amount, :currency, :status,
			:transaction_ref, :attempts, :last_error, :next_attempt_at, :created_at, :updated_at, :completed_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, payout); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return models.NewDispatchError(models.ErrAlreadyPaid, payout.ClaimID, nil)
		}
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

func (r *PayoutRepository) GetByClaimID(ctx context.Context, claimID uuid.UUID) (*models.PayoutRecord, error) {
	var payout models.PayoutRecord
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE claim_id = $1`

	if err := r.db.GetContext(ctx, &payout, query, claimID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payout for claim %s: %w", claimID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payout by claim id: %w", err)
	}
	return &payout, nil
}

func (r *PayoutRepository) UpdateTx(ctx context.Context, db sqlx.ExecerContext, payout *models.PayoutRecord) error {
	payout.UpdatedAt = time.Now()
	query := `
		UPDATE payout SET
			status = $1,
			transaction_ref = $2,
			attempts = $3,
			last_error = $4,
			next_attempt_at = $5,
			completed_at = $6,
			updated_at = $7
		WHERE id = $8`

	err := utils.ExecWithCheck(ctx, db, query, utils.ExecUpdate,
		payout.Status, payout.TransactionRef, payout.Attempts, payout.LastError,
		payout.NextAttemptAt, payout.CompletedAt, payout.UpdatedAt, payout.ID)
	if errors.Is(err, utils.ErrNoRowsAffected) {
		return fmt.Errorf("payout %s: %w", payout.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	return nil
}

func (r *PayoutRepository) Update(ctx context.Context, payout *models.PayoutRecord) error {
	return r.UpdateTx(ctx, r.db, payout)
}

// ListDueRetries returns failed payouts whose backoff has elapsed and that
// still have attempts left.
func (r *PayoutRepository) ListDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error) {
	query := `SELECT ` + payoutColumns + `
		FROM payout
		WHERE status = $1 AND next_attempt_at <= $2 AND attempts < $3
		ORDER BY next_attempt_at
		LIMIT $4`

	var payouts []models.PayoutRecord
	if err := r.db.SelectContext(ctx, &payouts, query, models.PayoutFailed, now, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("failed to list due payouts: %w", err)
	}
	return payouts, nil
}

// ListStuck returns payouts no retry will ever pick up again: processing rows
// untouched since staleBefore, and failed rows that used every attempt.
func (r *PayoutRepository) ListStuck(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error) {
	query := `SELECT ` + payoutColumns + `
		FROM payout
		WHERE (status = $1 AND updated_at < $2)
		   OR (status = $3 AND attempts >= $4)
		ORDER BY updated_at
		LIMIT $5`

	var payouts []models.PayoutRecord
	if err := r.db.SelectContext(ctx, &payouts, query,
		models.PayoutProcessing, staleBefore, models.PayoutFailed, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("failed to list stuck payouts: %w", err)
	}
	return payouts, nil
}

func (r *PayoutRepository) ListByStatus(ctx context.Context, status models.PayoutStatus) ([]models.PayoutRecord, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout WHERE status = $1 ORDER BY created_at`

	var payouts []models.PayoutRecord
	if err := r.db.SelectContext(ctx, &payouts, query, status); err != nil {
		return nil, fmt.Errorf("failed to list payouts by status: %w", err)
	}
	return payouts, nil
}
