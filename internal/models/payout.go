package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutRecord exists at most once per claim (UNIQUE claim_id).
type PayoutRecord struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ClaimID        uuid.UUID       `json:"claim_id" db:"claim_id"`
	PolicyID       uuid.UUID       `json:"policy_id" db:"policy_id"`
	HolderID       string          `json:"holder_id" db:"holder_id"`
	ToAddress      string          `json:"to_address" db:"to_address"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	Status         PayoutStatus    `json:"status" db:"status"`
	TransactionRef *string         `json:"transaction_ref,omitempty" db:"transaction_ref"`
	Attempts       int             `json:"attempts" db:"attempts"`
	LastError      *string         `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// EvaluationRecord is the append-only audit row written for every evaluation,
// including ones that did not trigger.
type EvaluationRecord struct {
	ID                   uuid.UUID   `json:"id" db:"id"`
	ClaimID              uuid.UUID   `json:"claim_id" db:"claim_id"`
	PolicyID             uuid.UUID   `json:"policy_id" db:"policy_id"`
	Approved             bool        `json:"approved" db:"approved"`
	PayoutPercentage     int         `json:"payout_percentage" db:"payout_percentage"`
	Confidence           float64     `json:"confidence" db:"confidence"`
	RequiresManualReview bool        `json:"requires_manual_review" db:"requires_manual_review"`
	ResultStatus         ClaimStatus `json:"result_status" db:"result_status"`
	Snapshot             *Decision   `json:"snapshot" db:"snapshot"`
	ArchiveKey           *string     `json:"archive_key,omitempty" db:"archive_key"`
	CreatedAt            time.Time   `json:"created_at" db:"created_at"`
}

func NewEvaluationRecord(d *Decision) *EvaluationRecord {
	return &EvaluationRecord{
		ID:                   uuid.New(),
		ClaimID:              d.ClaimID,
		PolicyID:             d.PolicyID,
		Approved:             d.Approved,
		PayoutPercentage:     d.PayoutPercentage,
		Confidence:           d.Confidence,
		RequiresManualReview: d.RequiresManualReview,
		ResultStatus:         d.Status,
		Snapshot:             d,
		CreatedAt:            d.EvaluatedAt,
	}
}
