package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"oracle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func trimAndValidateString(str string, fieldName string, minLen, maxLen int) error {
	trimmed := strings.TrimSpace(str)
	if len(trimmed) < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if len(trimmed) > maxLen {
		return fmt.Errorf("%s must be %d characters or less", fieldName, maxLen)
	}
	return nil
}

type EvaluateClaimRequest struct {
	ClaimID string `json:"claim_id"`
}

func (r EvaluateClaimRequest) Parse() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.ClaimID))
	if err != nil {
		return uuid.Nil, errors.New("claim_id must be a valid UUID")
	}
	return id, nil
}

type ConditionRequest struct {
	ConditionType    ConditionType  `json:"condition_type"`
	TriggerParams    map[string]any `json:"trigger_params"`
	PayoutPercentage int            `json:"payout_percentage"`
}

func (r ConditionRequest) Validate() error {
	if !IsValidConditionType(r.ConditionType) {
		return fmt.Errorf("condition_type %q is not supported", r.ConditionType)
	}
	if r.PayoutPercentage < 0 || r.PayoutPercentage > 100 {
		return errors.New("payout_percentage must be between 0 and 100")
	}

	params := utils.JSONMap(r.TriggerParams)
	switch r.ConditionType {
	case ConditionWeather:
		_, hasPrecip := params.Float(ParamPrecipitationThreshold)
		_, hasWind := params.Float(ParamMaxWindSpeed)
		_, hasTemp := params.Float(ParamMinTemperature)
		if !hasPrecip && !hasWind && !hasTemp {
			return errors.New("weather condition needs at least one of precipitation_threshold, max_wind_speed, min_temperature")
		}
	case ConditionFlight:
		if params.String(ParamFlightNumber) == "" {
			return errors.New("flight condition needs flight_number")
		}
	case ConditionBaggage:
		if params.String(ParamBaggageTag) == "" {
			return errors.New("baggage condition needs baggage_tag")
		}
	case ConditionVenue:
		if params.String(ParamVenueID) == "" {
			return errors.New("venue condition needs venue_id")
		}
	}
	return nil
}

type CreatePolicyRequest struct {
	PolicyType     PolicyType         `json:"policy_type"`
	PremiumAmount  decimal.Decimal    `json:"premium_amount"`
	CoverageAmount decimal.Decimal    `json:"coverage_amount"`
	Currency       string             `json:"currency"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	Location       *GeoJSONPoint      `json:"location,omitempty"`
	PayoutAddress  string             `json:"payout_address"`
	Conditions     []ConditionRequest `json:"conditions"`
}

func (r CreatePolicyRequest) Validate() error {
	if !IsValidPolicyType(r.PolicyType) {
		return fmt.Errorf("policy_type %q is not supported", r.PolicyType)
	}
	if !r.PremiumAmount.IsPositive() {
		return errors.New("premium_amount must be greater than 0")
	}
	if !r.CoverageAmount.IsPositive() {
		return errors.New("coverage_amount must be greater than 0")
	}
	if r.CoverageAmount.LessThan(r.PremiumAmount) {
		return errors.New("coverage_amount must not be less than premium_amount")
	}
	if err := trimAndValidateString(r.Currency, "currency", 3, 10); err != nil {
		return err
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	if !r.EndDate.After(r.StartDate) {
		return errors.New("end_date must be after start_date")
	}
	if err := trimAndValidateString(r.PayoutAddress, "payout_address", 4, 128); err != nil {
		return err
	}
	if r.Location != nil {
		if err := r.Location.Validate(); err != nil {
			return err
		}
	}
	if len(r.Conditions) == 0 {
		return errors.New("at least one oracle condition is required")
	}

	allowed := ConditionTypesFor(r.PolicyType)
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		if !containsConditionType(allowed, c.ConditionType) {
			return fmt.Errorf("conditions[%d]: %s conditions are not allowed on %s policies", i, c.ConditionType, r.PolicyType)
		}
		if c.ConditionType == ConditionWeather && r.Location == nil {
			return fmt.Errorf("conditions[%d]: weather conditions need a policy location", i)
		}
	}
	return nil
}

type SubmitClaimRequest struct {
	PolicyID        string          `json:"policy_id"`
	ClaimType       ConditionType   `json:"claim_type"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Evidence        map[string]any  `json:"evidence,omitempty"`
}

func (r SubmitClaimRequest) Validate() error {
	if _, err := uuid.Parse(r.PolicyID); err != nil {
		return errors.New("policy_id must be a valid UUID")
	}
	if !IsValidConditionType(r.ClaimType) {
		return fmt.Errorf("claim_type %q is not supported", r.ClaimType)
	}
	if r.RequestedAmount.IsNegative() {
		return errors.New("requested_amount must not be negative")
	}
	return nil
}

// UpdateClaimStatusRequest is the admin override. PayoutPercentage is only
// read when approving a claim whose stored decision did not trigger.
type UpdateClaimStatusRequest struct {
	Status           ClaimStatus `json:"status"`
	Notes            string      `json:"notes"`
	PayoutPercentage *int        `json:"payout_percentage,omitempty"`
}

func (r UpdateClaimStatusRequest) Validate() error {
	if !IsValidClaimStatus(r.Status) {
		return fmt.Errorf("status %q is not a claim status", r.Status)
	}
	if r.Status == ClaimPaid {
		return errors.New("claims can only be marked paid by the payout dispatcher")
	}
	if r.PayoutPercentage != nil && (*r.PayoutPercentage <= 0 || *r.PayoutPercentage > 100) {
		return errors.New("payout_percentage must be between 1 and 100")
	}
	if len(r.Notes) > 1000 {
		return errors.New("notes must be 1000 characters or less")
	}
	return nil
}

// ReconcilePayoutRequest settles a payout whose transfer outcome was unknown.
// Exactly one of TransactionRef (the transfer did happen) or Failed (it did not) is set.
type ReconcilePayoutRequest struct {
	TransactionRef string `json:"transaction_ref"`
	Failed         bool   `json:"failed"`
	Notes          string `json:"notes"`
}

func (r ReconcilePayoutRequest) Validate() error {
	hasRef := strings.TrimSpace(r.TransactionRef) != ""
	if hasRef == r.Failed {
		return errors.New("exactly one of transaction_ref or failed must be provided")
	}
	return nil
}

func containsConditionType(list []ConditionType, t ConditionType) bool {
	for _, c := range list {
		if c == t {
			return true
		}
	}
	return false
}
