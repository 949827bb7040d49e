package repository

import (
	"context"
	"fmt"

	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type EvaluationRepository struct {
	db *sqlx.DB
}

func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

func (r *EvaluationRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, rec *models.EvaluationRecord) error {
	query := `
		INSERT INTO evaluation_record (
			id, claim_id, policy_id, approved, payout_percentage, confidence,
			requires_manual_review, result_status, snapshot, archive_key, created_at
		) VALUES (
			:id, :claim_id, :policy_id, :approved, :payout_percentage, :confidence,
			:requires_manual_review, :result_status, :snapshot, :archive_key, :created_at
		)`

	if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert evaluation record: %w", err)
	}
	return nil
}

// ListByClaim returns the claim's evaluation history, newest first.
func (r *EvaluationRepository) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]models.EvaluationRecord, error) {
	query := `
		SELECT id, claim_id, policy_id, approved, payout_percentage, confidence,
		       requires_manual_review, result_status, snapshot, archive_key, created_at
		FROM evaluation_record
		WHERE claim_id = $1
		ORDER BY created_at DESC`

	var records []models.EvaluationRecord
	if err := r.db.SelectContext(ctx, &records, query, claimID); err != nil {
		return nil, fmt.Errorf("failed to list evaluation records: %w", err)
	}
	return records, nil
}

func (r *EvaluationRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	query := `UPDATE evaluation_record SET archive_key = $1 WHERE id = $2`

	if err := utils.ExecWithCheck(ctx, r.db, query, utils.ExecUpdate, key, id); err != nil {
		return fmt.Errorf("failed to set archive key: %w", err)
	}
	return nil
}
