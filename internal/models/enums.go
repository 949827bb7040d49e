package models

import (
	"encoding/json"
	"strings"
)

type PolicyType string

const (
	PolicyFlightDelay        PolicyType = "flight_delay"
	PolicyFlightCancellation PolicyType = "flight_cancellation"
	PolicyWeather            PolicyType = "weather"
	PolicyBaggage            PolicyType = "baggage"
	PolicyHealth             PolicyType = "health"
	PolicyVenue              PolicyType = "venue"
	PolicyTravel             PolicyType = "travel"
	PolicyBirthdayEvent      PolicyType = "birthday_event"
)

// PolicyTypes lists every product the service can underwrite, in display order.
var PolicyTypes = []PolicyType{
	PolicyFlightDelay,
	PolicyFlightCancellation,
	PolicyWeather,
	PolicyBaggage,
	PolicyHealth,
	PolicyVenue,
	PolicyTravel,
	PolicyBirthdayEvent,
}

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyExpired   PolicyStatus = "expired"
	PolicyClaimed   PolicyStatus = "claimed"
	PolicyCancelled PolicyStatus = "cancelled"
)

type ConditionType string

const (
	ConditionWeather ConditionType = "weather"
	ConditionFlight  ConditionType = "flight"
	ConditionBaggage ConditionType = "baggage"
	ConditionVenue   ConditionType = "venue"
	ConditionHealth  ConditionType = "health"
)

type ClaimStatus string

const (
	ClaimPending       ClaimStatus = "pending"
	ClaimInvestigating ClaimStatus = "investigating"
	ClaimApproved      ClaimStatus = "approved"
	ClaimRejected      ClaimStatus = "rejected"
	ClaimPaid          ClaimStatus = "paid"
)

type PayoutStatus string

const (
	PayoutProcessing        PayoutStatus = "processing"
	PayoutCompleted         PayoutStatus = "completed"
	PayoutFailed            PayoutStatus = "failed"
	PayoutReconcileRequired PayoutStatus = "reconcile_required"
)

// Flight and baggage statuses as reported by the providers.
const (
	FlightOnTime    = "on_time"
	FlightDelayed   = "delayed"
	FlightCancelled = "cancelled"

	BaggageDelivered = "delivered"
	BaggageDelayed   = "delayed"
	BaggageLost      = "lost"

	VenueOpen      = "open"
	VenueClosed    = "closed"
	VenueCancelled = "cancelled"
	StatusUnknown  = "unknown"
)

func IsValidPolicyType(t PolicyType) bool {
	for _, pt := range PolicyTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// Alternate names clients send for a condition or claim type.
var conditionTypeAliases = map[string]ConditionType{
	"medical_emergency": ConditionHealth,
	"medical":           ConditionHealth,
}

// ParseConditionType normalizes case and resolves aliases. Unknown values
// pass through so validation can report them.
func ParseConditionType(raw string) ConditionType {
	s := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := conditionTypeAliases[s]; ok {
		return alias
	}
	return ConditionType(s)
}

func (t *ConditionType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = ParseConditionType(raw)
	return nil
}

func IsValidConditionType(t ConditionType) bool {
	switch t {
	case ConditionWeather, ConditionFlight, ConditionBaggage, ConditionVenue, ConditionHealth:
		return true
	default:
		return false
	}
}

func IsValidClaimStatus(s ClaimStatus) bool {
	switch s {
	case ClaimPending, ClaimInvestigating, ClaimApproved, ClaimRejected, ClaimPaid:
		return true
	default:
		return false
	}
}

// ConditionTypesFor returns the condition types a claim against the given
// policy type is allowed to reference.
func ConditionTypesFor(pt PolicyType) []ConditionType {
	switch pt {
	case PolicyFlightDelay, PolicyFlightCancellation:
		return []ConditionType{ConditionFlight}
	case PolicyWeather:
		return []ConditionType{ConditionWeather}
	case PolicyBaggage:
		return []ConditionType{ConditionBaggage}
	case PolicyHealth:
		return []ConditionType{ConditionHealth}
	case PolicyVenue, PolicyBirthdayEvent:
		return []ConditionType{ConditionVenue, ConditionWeather}
	case PolicyTravel:
		return []ConditionType{ConditionFlight, ConditionBaggage, ConditionWeather, ConditionHealth}
	default:
		return nil
	}
}
