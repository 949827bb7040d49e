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
)

const claimColumns = `
	id, claim_number, policy_id, holder_id, claim_type, requested_amount, approved_amount,
	status, auto_generated, evidence, decision, review_notes, reviewed_by,
	submitted_at, processed_at, version, created_at, updated_at`

type ClaimRepository struct {
	db *sqlx.DB
}

func NewClaimRepository(db *sqlx.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) Create(ctx context.Context, claim *models.Claim) error {
	now := time.Now()
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}
	if claim.SubmittedAt.IsZero() {
		claim.SubmittedAt = now
	}
	if claim.Version == 0 {
		claim.Version = 1
	}
	claim.CreatedAt = now
	claim.UpdatedAt = now

	query := `
		INSERT INTO claim (
			id, claim_number, policy_id, holder_id, claim_type, requested_amount, approved_amount,
			status, auto_generated, evidence, decision, review_notes, reviewed_by,
			submitted_at, processed_at, version, created_at, updated_at
		) VALUES (
			:id, :claim_number, :policy_id, :holder_id, :claim_type, :requested_amount, :approved_amount,
			:status, :auto_generated, :evidence, :decision, :review_notes, :reviewed_by,
			:submitted_at, :processed_at, :version, :created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, claim); err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

// GetByID retrieves a claim by its ID
func (r *ClaimRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Claim, error) {
	var claim models.Claim
	query := `SELECT ` + claimColumns + ` FROM claim WHERE id = $1`

	if err := r.db.GetContext(ctx, &claim, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("claim %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get claim by id: %w", err)
	}
	return &claim, nil
}

func (r *ClaimRepository) List(ctx context.Context, filter models.ClaimFilter) ([]models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claim WHERE 1=1`
	args := []any{}
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}
	if filter.HolderID != "" {
		query += fmt.Sprintf(" AND holder_id = $%d", argCount)
		args = append(args, filter.HolderID)
		argCount++
	}
	if filter.PolicyID != uuid.Nil {
		query += fmt.Sprintf(" AND policy_id = $%d", argCount)
		args = append(args, filter.PolicyID)
		argCount++
	}

	query += " ORDER BY submitted_at DESC"
	query += paginate(filter.Limit, filter.Offset, &args, &argCount)

	var claims []models.Claim
	if err := r.db.SelectContext(ctx, &claims, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}

// ListOpenByPolicy returns the policy's pending and investigating claims,
// oldest first.
func (r *ClaimRepository) ListOpenByPolicy(ctx context.Context, policyID uuid.UUID) ([]models.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM claim
		WHERE policy_id = $1 AND status IN ($2, $3)
		ORDER BY submitted_at`

	var claims []models.Claim
	if err := r.db.SelectContext(ctx, &claims, query, policyID, models.ClaimPending, models.ClaimInvestigating); err != nil {
		return nil, fmt.Errorf("failed to list open claims: %w", err)
	}
	return claims, nil
}

// UpdateTx writes the mutable claim fields guarded by the version the caller
// read. On success claim.Version is advanced; a lost race returns
// models.ErrInvalidState.
func (r *ClaimRepository) UpdateTx(ctx context.Context, db sqlx.ExecerContext, claim *models.Claim) error {
	now := time.Now()
	query := `
		UPDATE claim SET
			status = $1,
			approved_amount = $2,
			decision = $3,
			review_notes = $4,
			reviewed_by = $5,
			processed_at = $6,
			version = version + 1,
			updated_at = $7
		WHERE id = $8 AND version = $9`

	err := utils.ExecWithCheck(ctx, db, query, utils.ExecUpdate,
		claim.Status, claim.ApprovedAmount, claim.Decision, claim.ReviewNotes, claim.ReviewedBy,
		claim.ProcessedAt, now, claim.ID, claim.Version)
	if errors.Is(err, utils.ErrNoRowsAffected) {
		return models.NewEvaluationError(models.ErrInvalidState, "claim %s was modified concurrently", claim.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}

	claim.Version++
	claim.UpdatedAt = now
	return nil
}

func (r *ClaimRepository) Update(ctx context.Context, claim *models.Claim) error {
	return r.UpdateTx(ctx, r.db, claim)
}
