package models

import (
	"database/sql/driver"
	"time"

	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConditionResult is the evaluator's verdict on a single condition.
type ConditionResult struct {
	ConditionID          uuid.UUID      `json:"condition_id"`
	ConditionType        ConditionType  `json:"condition_type"`
	Met                  bool           `json:"met"`
	Confidence           float64        `json:"confidence"`
	PayoutPercentage     int            `json:"payout_percentage"`
	RequiresManualReview bool           `json:"requires_manual_review"`
	Evidence             map[string]any `json:"evidence,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// Decision is the aggregated outcome of one evaluation. It is stored on the
// claim and returned unchanged on re-evaluation of a settled claim.
type Decision struct {
	ClaimID              uuid.UUID         `json:"claim_id"`
	PolicyID             uuid.UUID         `json:"policy_id"`
	Approved             bool              `json:"approved"`
	PayoutPercentage     int               `json:"payout_percentage"`
	PayoutAmount         decimal.Decimal   `json:"payout_amount"`
	Confidence           float64           `json:"confidence"`
	RequiresManualReview bool              `json:"requires_manual_review"`
	Status               ClaimStatus       `json:"status"`
	Reason               string            `json:"reason,omitempty"`
	Results              []ConditionResult `json:"results"`
	Readings             []Reading         `json:"readings,omitempty"`
	Errors               []string          `json:"errors,omitempty"`
	Evidence             map[string]any    `json:"evidence,omitempty"`
	EvaluatedAt          time.Time         `json:"evaluated_at"`
}

func (d *Decision) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return utils.JSONValue(d)
}

func (d *Decision) Scan(value any) error {
	return utils.JSONScan(value, d)
}
