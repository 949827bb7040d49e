package datasource

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"oracle-service/internal/models"
	"oracle-service/internal/utils"
)

const unknownStatusConfidence = 0.3

// ============================================================================
// WEATHER
// ============================================================================

type weatherResponse struct {
	Precipitation *float64 `json:"precipitation"`
	WindSpeed     *float64 `json:"wind_speed"`
	Temperature   *float64 `json:"temperature"`
	ObservedAt    string   `json:"observed_at"`
}

// WeatherAdapter reads daily precipitation (mm), wind speed (km/h) and
// minimum temperature (°C) for a coordinate.
type WeatherAdapter struct {
	providerClient
}

func NewWeatherAdapter(name, baseURL, apiKey string, trust float64) *WeatherAdapter {
	return &WeatherAdapter{providerClient: newProviderClient(name, baseURL, apiKey, trust)}
}

func (a *WeatherAdapter) ConditionType() models.ConditionType { return models.ConditionWeather }

func (a *WeatherAdapter) Fetch(ctx context.Context, q models.Query) (models.Reading, error) {
	if !q.HasLocation {
		return models.Reading{}, models.NewAdapterError(models.ErrInvalidQuery, a.name, errors.New("weather query needs a location"))
	}
	if q.Date.IsZero() {
		return models.Reading{}, models.NewAdapterError(models.ErrInvalidQuery, a.name, errors.New("weather query needs a date"))
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(q.Latitude, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(q.Longitude, 'f', 6, 64))
	params.Set("date", q.Date.Format("2006-01-02"))

	var resp weatherResponse
	if err := a.getJSON(ctx, "/v1/weather/daily", params, &resp); err != nil {
		return models.Reading{}, err
	}

	values := map[string]float64{}
	if resp.Precipitation != nil {
		values[models.ValuePrecipitation] = *resp.Precipitation
	}
	if resp.WindSpeed != nil {
		values[models.ValueWindSpeed] = *resp.WindSpeed
	}
	if resp.Temperature != nil {
		values[models.ValueTemperature] = *resp.Temperature
	}
	if len(values) == 0 {
		return models.Reading{}, models.NewAdapterError(models.ErrUnavailable, a.name, errors.New("weather response carried no measurements"))
	}

	reading := models.Reading{
		ConditionType: models.ConditionWeather,
		Source:        a.name,
		Confidence:    a.trust,
		Values:        values,
		ObservedAt:    parseObservedAt(resp.ObservedAt),
	}
	if len(values) < 3 {
		reading.Partial = true
		reading.Confidence = a.trust * float64(len(values)) / 3
	}
	return reading, nil
}

// ============================================================================
// FLIGHT
// ============================================================================

type flightResponse struct {
	FlightNumber string   `json:"flight_number"`
	Status       string   `json:"status"`
	DelayMinutes *float64 `json:"delay_minutes"`
	UpdatedAt    string   `json:"updated_at"`
}

type FlightAdapter struct {
	providerClient
}

func NewFlightAdapter(name, baseURL, apiKey string, trust float64) *FlightAdapter {
	return &FlightAdapter{providerClient: newProviderClient(name, baseURL, apiKey, trust)}
}

func (a *FlightAdapter) ConditionType() models.ConditionType { return models.ConditionFlight }

func (a *FlightAdapter) Fetch(ctx context.Context, q models.Query) (models.Reading, error) {
	flight := utils.NormalizeCode(q.FlightNumber)
	if flight == "" || q.Date.IsZero() {
		return models.Reading{}, models.NewAdapterError(models.ErrInvalidQuery, a.name, errors.New("flight query needs flight number and date"))
	}

	params := url.Values{}
	params.Set("date", q.Date.Format("2006-01-02"))

	var resp flightResponse
	if err := a.getJSON(ctx, "/v1/flights/"+url.PathEscape(flight)+"/status", params, &resp); err != nil {
		return models.Reading{}, err
	}

	reading := models.Reading{
		ConditionType: models.ConditionFlight,
		Source:        a.name,
		Confidence:    a.trust,
		Status:        resp.Status,
		Values:        map[string]float64{},
		ObservedAt:    parseObservedAt(resp.UpdatedAt),
	}

	switch resp.Status {
	case models.FlightOnTime, models.FlightCancelled:
	case models.FlightDelayed:
		if resp.DelayMinutes == nil {
			reading.Partial = true
			reading.Confidence = unknownStatusConfidence
		}
	default:
		reading.Status = models.StatusUnknown
		reading.Partial = true
		reading.Confidence = unknownStatusConfidence
	}
	if resp.DelayMinutes != nil {
		reading.Values[models.ValueDelayMinutes] = *resp.DelayMinutes
	}
	return reading, nil
}

// ============================================================================
// BAGGAGE
// ============================================================================

type baggageResponse struct {
	Tag        string   `json:"tag"`
	Status     string   `json:"status"`
	DelayHours *float64 `json:"delay_hours"`
	UpdatedAt  string   `json:"updated_at"`
}

type BaggageAdapter struct {
	providerClient
}

func NewBaggageAdapter(name, baseURL, apiKey string, trust float64) *BaggageAdapter {
	return &BaggageAdapter{providerClient: newProviderClient(name, baseURL, apiKey, trust)}
}

func (a *BaggageAdapter) ConditionType() models.ConditionType { return models.ConditionBaggage }

func (a *BaggageAdapter) Fetch(ctx context.Context, q models.Query) (models.Reading, error) {
	tag := utils.NormalizeCode(q.BaggageTag)
	if tag == "" {
		return models.Reading{}, models.NewAdapterError(models.ErrInvalidQuery, a.name, errors.New("baggage query needs a tag"))
	}

	var resp baggageResponse
	if err := a.getJSON(ctx, "/v1/bags/"+url.PathEscape(tag), nil, &resp); err != nil {
		return models.Reading{}, err
	}

	reading := models.Reading{
		ConditionType: models.ConditionBaggage,
		Source:        a.name,
		Confidence:    a.trust,
		Status:        resp.Status,
		Values:        map[string]float64{},
		ObservedAt:    parseObservedAt(resp.UpdatedAt),
	}
	if resp.DelayHours != nil {
		reading.Values[models.ValueDelayHours] = *resp.DelayHours
	}

	switch resp.Status {
	case models.BaggageDelivered, models.BaggageLost:
	case models.BaggageDelayed:
		if resp.DelayHours == nil {
			reading.Partial = true
			reading.Confidence = unknownStatusConfidence
		}
	default:
		reading.Status = models.StatusUnknown
		reading.Partial = true
		reading.Confidence = unknownStatusConfidence
	}
	return reading, nil
}

// ============================================================================
// VENUE
// ============================================================================

type venueResponse struct {
	VenueID   string `json:"venue_id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

type VenueAdapter struct {
	providerClient
}

func NewVenueAdapter(name, baseURL, apiKey string, trust float64) *VenueAdapter {
	return &VenueAdapter{providerClient: newProviderClient(name, baseURL, apiKey, trust)}
}

func (a *VenueAdapter) ConditionType() models.ConditionType { return models.ConditionVenue }

func (a *VenueAdapter) Fetch(ctx context.Context, q models.Query) (models.Reading, error) {
	if q.VenueID == "" {
		return models.Reading{}, models.NewAdapterError(models.ErrInvalidQuery, a.name, errors.New("venue query needs a venue id"))
	}

	params := url.Values{}
	if !q.Date.IsZero() {
		params.Set("date", q.Date.Format("2006-01-02"))
	}

	var resp venueResponse
	if err := a.getJSON(ctx, "/v1/venues/"+url.PathEscape(q.VenueID)+"/status", params, &resp); err != nil {
		return models.Reading{}, err
	}

	reading := models.Reading{
		ConditionType: models.ConditionVenue,
		Source:        a.name,
		Confidence:    a.trust,
		Status:        resp.Status,
		ObservedAt:    parseObservedAt(resp.UpdatedAt),
	}
	switch resp.Status {
	case models.VenueOpen, models.VenueClosed, models.VenueCancelled:
	default:
		reading.Status = models.StatusUnknown
		reading.Partial = true
		reading.Confidence = unknownStatusConfidence
	}
	return reading, nil
}
