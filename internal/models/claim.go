package models

import (
	"time"

	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Claim struct {
	ID              uuid.UUID           `json:"id" db:"id"`
	ClaimNumber     string              `json:"claim_number" db:"claim_number"`
	PolicyID        uuid.UUID           `json:"policy_id" db:"policy_id"`
	HolderID        string              `json:"holder_id" db:"holder_id"`
	ClaimType       ConditionType       `json:"claim_type" db:"claim_type"`
	RequestedAmount decimal.Decimal     `json:"requested_amount" db:"requested_amount"`
	ApprovedAmount  decimal.NullDecimal `json:"approved_amount" db:"approved_amount"`
	Status          ClaimStatus         `json:"status" db:"status"`
	AutoGenerated   bool                `json:"auto_generated" db:"auto_generated"`
	Evidence        utils.JSONMap       `json:"evidence,omitempty" db:"evidence"`
	Decision        *Decision           `json:"decision,omitempty" db:"decision"`
	ReviewNotes     *string             `json:"review_notes,omitempty" db:"review_notes"`
	ReviewedBy      *string             `json:"reviewed_by,omitempty" db:"reviewed_by"`
	SubmittedAt     time.Time           `json:"submitted_at" db:"submitted_at"`
	ProcessedAt     *time.Time          `json:"processed_at,omitempty" db:"processed_at"`
	Version         int                 `json:"version" db:"version"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

// ClaimFilter narrows claim list queries. Zero values are ignored.
type ClaimFilter struct {
	Status   ClaimStatus
	HolderID string
	PolicyID uuid.UUID
	Limit    int
	Offset   int
}
