package models

import "time"

// Reading is an immutable observation returned by one data source.
type Reading struct {
	ConditionType ConditionType      `json:"condition_type"`
	Source        string             `json:"source"`
	Confidence    float64            `json:"confidence"`
	Values        map[string]float64 `json:"values,omitempty"`
	Status        string             `json:"status,omitempty"`
	Partial       bool               `json:"partial,omitempty"`
	ObservedAt    time.Time          `json:"observed_at"`
}

// Reading value keys.
const (
	ValuePrecipitation = "precipitation"
	ValueWindSpeed     = "wind_speed"
	ValueTemperature   = "temperature"
	ValueDelayMinutes  = "delay_minutes"
	ValueDelayHours    = "delay_hours"
)

// Query identifies what an adapter should fetch for one condition type.
type Query struct {
	ConditionType ConditionType
	PolicyID      string
	Latitude      float64
	Longitude     float64
	HasLocation   bool
	Date          time.Time
	FlightNumber  string
	BaggageTag    string
	VenueID       string
}
