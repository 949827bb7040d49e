package evaluator

import (
	"fmt"
	"math"
	"sort"

	"oracle-service/internal/models"
)

const (
	weatherMaxConfidence  = 0.9
	weatherFullSourceSize = 2

	venueKnownConfidence   = 0.85
	venueUnknownConfidence = 0.3

	defaultFlightDelayMinutes = 120
	defaultBaggageDelayHours  = 12

	baggageLostPayout    = 100
	baggageDelayedPayout = 50
	flightCancelPayout   = 100
)

// flightDelayTiers maps a delay strictly greater than minutes to a payout.
// Ordered from most to least severe.
var flightDelayTiers = []struct {
	minutes float64
	payout  int
}{
	{240, 75},
	{120, 50},
	{0, 25},
}

type thresholdOperator string

const (
	thresholdGT thresholdOperator = ">"
	thresholdLT thresholdOperator = "<"
)

// Evaluator decides whether individual oracle conditions are met. It holds no
// state and never generates data of its own.
type Evaluator struct{}

func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns the verdict for one condition given every reading fetched
// for its condition type. Errors are limited to flight conditions, which need
// a single authoritative answer.
func (e *Evaluator) Evaluate(cond models.OracleCondition, readings []models.Reading) (models.ConditionResult, error) {
	result := models.ConditionResult{
		ConditionID:   cond.ID,
		ConditionType: cond.ConditionType,
		Evidence:      map[string]any{},
	}

	switch cond.ConditionType {
	case models.ConditionWeather:
		e.evaluateWeather(cond, readings, &result)
	case models.ConditionFlight:
		if err := e.evaluateFlight(cond, readings, &result); err != nil {
			return result, err
		}
	case models.ConditionBaggage:
		e.evaluateBaggage(cond, readings, &result)
	case models.ConditionVenue:
		e.evaluateVenue(cond, readings, &result)
	case models.ConditionHealth:
		result.Met = false
		result.RequiresManualReview = true
		result.Evidence["note"] = "health claims are always reviewed manually"
	default:
		return result, models.NewEvaluationError(models.ErrInvalidState, "unknown condition type %q", cond.ConditionType)
	}

	result.Evidence["sources"] = sourcesOf(readings)
	return result, nil
}

// evaluateWeather averages every source, then pays if ANY configured
// threshold is crossed.
func (e *Evaluator) evaluateWeather(cond models.OracleCondition, readings []models.Reading, result *models.ConditionResult) {
	if len(readings) == 0 {
		result.Evidence["reason"] = "no weather readings available"
		return
	}

	averages := averageValues(readings)
	result.Evidence["averages"] = averages

	var checks []bool
	var triggered []string

	if threshold, ok := cond.TriggerParams.Float(models.ParamPrecipitationThreshold); ok {
		if v, has := averages[models.ValuePrecipitation]; has {
			hit := checkThreshold(v, threshold, thresholdGT)
			checks = append(checks, hit)
			if hit {
				triggered = append(triggered, models.ValuePrecipitation)
			}
		}
	}
	if threshold, ok := cond.TriggerParams.Float(models.ParamMaxWindSpeed); ok {
		if v, has := averages[models.ValueWindSpeed]; has {
			hit := checkThreshold(v, threshold, thresholdGT)
			checks = append(checks, hit)
			if hit {
				triggered = append(triggered, models.ValueWindSpeed)
			}
		}
	}
	if threshold, ok := cond.TriggerParams.Float(models.ParamMinTemperature); ok {
		if v, has := averages[models.ValueTemperature]; has {
			hit := checkThreshold(v, threshold, thresholdLT)
			checks = append(checks, hit)
			if hit {
				triggered = append(triggered, models.ValueTemperature)
			}
		}
	}

	result.Met = evaluateOR(checks)
	result.Confidence = math.Min(float64(len(readings))/weatherFullSourceSize, 1) * weatherMaxConfidence
	if anyPartial(readings) {
		result.Confidence *= meanConfidence(readings)
	}
	result.Evidence["triggered"] = triggered
	result.Evidence["source_count"] = len(readings)
	if result.Met {
		result.PayoutPercentage = cond.PayoutPercentage
	}
}

func (e *Evaluator) evaluateFlight(cond models.OracleCondition, readings []models.Reading, result *models.ConditionResult) error {
	if len(readings) == 0 {
		return models.NewAdapterError(models.ErrUnavailable, "flight", fmt.Errorf("no flight status reading"))
	}

	authoritative := readings[0]
	for _, r := range readings[1:] {
		if r.Status != authoritative.Status ||
			r.Values[models.ValueDelayMinutes] != authoritative.Values[models.ValueDelayMinutes] {
			return models.NewEvaluationError(models.ErrSourceConflict,
				"%s reports %s/%v, %s reports %s/%v",
				authoritative.Source, authoritative.Status, authoritative.Values[models.ValueDelayMinutes],
				r.Source, r.Status, r.Values[models.ValueDelayMinutes])
		}
	}

	threshold, ok := cond.TriggerParams.Float(models.ParamMinDelayMinutes)
	if !ok {
		threshold, ok = cond.TriggerParams.Float(models.ParamMaxDelayMinutes)
	}
	if !ok {
		threshold = defaultFlightDelayMinutes
	}
	delay := authoritative.Values[models.ValueDelayMinutes]

	result.Confidence = meanConfidence(readings)
	result.Evidence["flight_status"] = authoritative.Status
	result.Evidence["delay_minutes"] = delay
	result.Evidence["delay_threshold_minutes"] = threshold

	switch authoritative.Status {
	case models.FlightCancelled:
		result.Met = true
		result.PayoutPercentage = capPayout(flightCancelPayout, cond.PayoutPercentage)
	case models.FlightDelayed:
		if delay >= threshold {
			result.Met = true
			result.PayoutPercentage = capPayout(flightDelayPayout(delay), cond.PayoutPercentage)
		}
	}
	return nil
}

func (e *Evaluator) evaluateBaggage(cond models.OracleCondition, readings []models.Reading, result *models.ConditionResult) {
	reading, ok := mostConfident(readings)
	if !ok {
		result.Evidence["reason"] = "no baggage readings available"
		return
	}

	threshold, has := cond.TriggerParams.Float(models.ParamDelayHoursThreshold)
	if !has {
		threshold = defaultBaggageDelayHours
	}
	delayHours := reading.Values[models.ValueDelayHours]

	result.Confidence = reading.Confidence
	result.Evidence["baggage_status"] = reading.Status
	result.Evidence["delay_hours"] = delayHours
	result.Evidence["delay_hours_threshold"] = threshold

	switch reading.Status {
	case models.BaggageLost:
		result.Met = true
		result.PayoutPercentage = capPayout(baggageLostPayout, cond.PayoutPercentage)
	case models.BaggageDelayed:
		if delayHours >= threshold {
			result.Met = true
			result.PayoutPercentage = capPayout(baggageDelayedPayout, cond.PayoutPercentage)
		}
	}
}

func (e *Evaluator) evaluateVenue(cond models.OracleCondition, readings []models.Reading, result *models.ConditionResult) {
	status := models.StatusUnknown
	if reading, ok := mostConfident(readings); ok && reading.Status != "" {
		status = reading.Status
	}

	result.Evidence["venue_status"] = status
	switch status {
	case models.VenueOpen, models.VenueClosed, models.VenueCancelled:
		result.Confidence = venueKnownConfidence
	default:
		result.Confidence = venueUnknownConfidence
	}

	if status == models.VenueClosed || status == models.VenueCancelled {
		result.Met = true
		result.PayoutPercentage = cond.PayoutPercentage
	}
}

func checkThreshold(measuredValue, thresholdValue float64, operator thresholdOperator) bool {
	switch operator {
	case thresholdGT:
		return measuredValue > thresholdValue
	case thresholdLT:
		return measuredValue < thresholdValue
	default:
		return false
	}
}

func evaluateOR(results []bool) bool {
	for _, r := range results {
		if r {
			return true
		}
	}
	return false
}

func flightDelayPayout(delayMinutes float64) int {
	for _, tier := range flightDelayTiers {
		if delayMinutes > tier.minutes {
			return tier.payout
		}
	}
	return flightDelayTiers[len(flightDelayTiers)-1].payout
}

func capPayout(payout, limit int) int {
	if payout > limit {
		return limit
	}
	return payout
}

func averageValues(readings []models.Reading) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range readings {
		for k, v := range r.Values {
			sums[k] += v
			counts[k]++
		}
	}
	avg := make(map[string]float64, len(sums))
	for k, s := range sums {
		avg[k] = s / float64(counts[k])
	}
	return avg
}

func anyPartial(readings []models.Reading) bool {
	for _, r := range readings {
		if r.Partial {
			return true
		}
	}
	return false
}

func meanConfidence(readings []models.Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	var total float64
	for _, r := range readings {
		total += r.Confidence
	}
	return total / float64(len(readings))
}

func mostConfident(readings []models.Reading) (models.Reading, bool) {
	if len(readings) == 0 {
		return models.Reading{}, false
	}
	best := readings[0]
	for _, r := range readings[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best, true
}

func sourcesOf(readings []models.Reading) []string {
	sources := make([]string, 0, len(readings))
	for _, r := range readings {
		sources = append(sources, r.Source)
	}
	sort.Strings(sources)
	return sources
}
