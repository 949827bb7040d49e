package models

import (
	"time"

	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Policy struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PolicyNumber   string          `json:"policy_number" db:"policy_number"`
	HolderID       string          `json:"holder_id" db:"holder_id"`
	PolicyType     PolicyType      `json:"policy_type" db:"policy_type"`
	PremiumAmount  decimal.Decimal `json:"premium_amount" db:"premium_amount"`
	CoverageAmount decimal.Decimal `json:"coverage_amount" db:"coverage_amount"`
	Currency       string          `json:"currency" db:"currency"`
	Status         PolicyStatus    `json:"status" db:"status"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	Location       *GeoJSONPoint   `json:"location,omitempty" db:"location"`
	PayoutAddress  string          `json:"payout_address" db:"payout_address"`
	Version        int             `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`

	Conditions []OracleCondition `json:"conditions,omitempty" db:"-"`
}

// OracleCondition is one parametric trigger attached to a policy.
type OracleCondition struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	PolicyID         uuid.UUID     `json:"policy_id" db:"policy_id"`
	ConditionType    ConditionType `json:"condition_type" db:"condition_type"`
	TriggerParams    utils.JSONMap `json:"trigger_params" db:"trigger_params"`
	PayoutPercentage int           `json:"payout_percentage" db:"payout_percentage"`
	IsActive         bool          `json:"is_active" db:"is_active"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}

// Trigger parameter keys.
const (
	ParamPrecipitationThreshold = "precipitation_threshold"
	ParamMaxWindSpeed           = "max_wind_speed"
	ParamMinTemperature         = "min_temperature"
	ParamMinDelayMinutes        = "min_delay_minutes"
	ParamMaxDelayMinutes        = "max_delay_minutes"
	ParamDelayHoursThreshold    = "delay_hours_threshold"
	ParamFlightNumber           = "flight_number"
	ParamFlightDate             = "flight_date"
	ParamBaggageTag             = "baggage_tag"
	ParamVenueID                = "venue_id"
	ParamEventDate              = "event_date"
)

// ActiveConditions returns the conditions that still participate in evaluation.
func (p *Policy) ActiveConditions() []OracleCondition {
	active := make([]OracleCondition, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		if c.IsActive {
			active = append(active, c)
		}
	}
	return active
}

// PayoutAmount is coverage × pct / 100, rounded to cents.
func (p *Policy) PayoutAmount(pct int) decimal.Decimal {
	return p.CoverageAmount.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
}

// IsInForce is true if the policy window contains t.
func (p *Policy) IsInForce(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// PolicyFilter narrows policy list queries. Zero values are ignored.
type PolicyFilter struct {
	HolderID   string
	Status     PolicyStatus
	PolicyType PolicyType
	Limit      int
	Offset     int
}
