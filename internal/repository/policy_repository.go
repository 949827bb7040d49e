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

const policyColumns = `
	id, policy_number, holder_id, policy_type, premium_amount, coverage_amount,
	currency, status, start_date, end_date, ST_AsEWKB(location::geometry) AS location,
	payout_address, version, created_at, updated_at`

const conditionColumns = `
	id, policy_id, condition_type, trigger_params, payout_percentage, is_active, created_at`

type PolicyRepository struct {
	db *sqlx.DB
}

func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// CreateTx inserts the policy and its conditions. IDs and timestamps are
// filled in when missing.
func (r *PolicyRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, policy *models.Policy) error {
	now := time.Now()
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	if policy.Version == 0 {
		policy.Version = 1
	}

	query := `
		INSERT INTO policy (
			id, policy_number, holder_id, policy_type, premium_amount, coverage_amount,
			currency, status, start_date, end_date, location, payout_address,
			version, created_at, updated_at
		) VALUES (
			:id, :policy_number, :holder_id, :policy_type, :premium_amount, :coverage_amount,
			:currency, :status, :start_date, :end_date, ST_GeogFromText(:location), :payout_address,
			:version, :created_at, :updated_at
		)`

	if _, err := tx.NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("failed to create policy in transaction: %w", err)
	}

	for i := range policy.Conditions {
		cond := &policy.Conditions[i]
		if cond.ID == uuid.Nil {
			cond.ID = uuid.New()
		}
		cond.PolicyID = policy.ID
		if cond.CreatedAt.IsZero() {
			cond.CreatedAt = now
		}

		condQuery := `
			INSERT INTO oracle_condition (
				id, policy_id, condition_type, trigger_params, payout_percentage, is_active, created_at
			) VALUES (
				:id, :policy_id, :condition_type, :trigger_params, :payout_percentage, :is_active, :created_at
			)`
		if _, err := tx.NamedExecContext(ctx, condQuery, cond); err != nil {
			return fmt.Errorf("failed to create oracle condition in transaction: %w", err)
		}
	}

	return nil
}

// GetByID loads a policy together with all of its conditions.
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	var policy models.Policy
	query := `SELECT ` + policyColumns + ` FROM policy WHERE id = $1`

	if err := r.db.GetContext(ctx, &policy, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy by id: %w", err)
	}

	conditions, err := r.getConditions(ctx, id)
	if err != nil {
		return nil, err
	}
	policy.Conditions = conditions

	return &policy, nil
}

func (r *PolicyRepository) getConditions(ctx context.Context, policyID uuid.UUID) ([]models.OracleCondition, error) {
	var conditions []models.OracleCondition
	query := `SELECT ` + conditionColumns + ` FROM oracle_condition WHERE policy_id = $1 ORDER BY created_at, id`

	if err := r.db.SelectContext(ctx, &conditions, query, policyID); err != nil {
		return nil, fmt.Errorf("failed to get oracle conditions: %w", err)
	}
	return conditions, nil
}

// List returns policies without their conditions.
func (r *PolicyRepository) List(ctx context.Context, filter models.PolicyFilter) ([]models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policy WHERE 1=1`
	args := []any{}
	argCount := 1

	if filter.HolderID != "" {
		query += fmt.Sprintf(" AND holder_id = $%d", argCount)
		args = append(args, filter.HolderID)
		argCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}
	if filter.PolicyType != "" {
		query += fmt.Sprintf(" AND policy_type = $%d", argCount)
		args = append(args, filter.PolicyType)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += paginate(filter.Limit, filter.Offset, &args, &argCount)

	var policies []models.Policy
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

// ListExpiring returns active policies whose end date is at or before the cutoff.
func (r *PolicyRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]models.Policy, error) {
	query := `SELECT ` + policyColumns + `
		FROM policy
		WHERE status = $1 AND end_date <= $2
		ORDER BY end_date
		LIMIT $3`

	var policies []models.Policy
	if err := r.db.SelectContext(ctx, &policies, query, models.PolicyActive, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list expiring policies: %w", err)
	}
	return policies, nil
}

// UpdateStatusTx moves a policy from one status to another. It fails with
// models.ErrInvalidState when the policy is no longer in the from status.
func (r *PolicyRepository) UpdateStatusTx(ctx context.Context, db sqlx.ExecerContext, id uuid.UUID, from, to models.PolicyStatus) error {
	query := `
		UPDATE policy
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND status = $4`

	err := utils.ExecWithCheck(ctx, db, query, utils.ExecUpdate, to, time.Now(), id, from)
	if errors.Is(err, utils.ErrNoRowsAffected) {
		return models.NewEvaluationError(models.ErrInvalidState, "policy %s is not %s", id, from)
	}
	if err != nil {
		return fmt.Errorf("failed to update policy status: %w", err)
	}
	return nil
}

func (r *PolicyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.PolicyStatus) error {
	return r.UpdateStatusTx(ctx, r.db, id, from, to)
}

func paginate(limit, offset int, args *[]any, argCount *int) string {
	if limit <= 0 {
		limit = 50
	}
	clause := fmt.Sprintf(" LIMIT $%d", *argCount)
	*args = append(*args, limit)
	*argCount++

	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET $%d", *argCount)
		*args = append(*args, offset)
		*argCount++
	}
	return clause
}
