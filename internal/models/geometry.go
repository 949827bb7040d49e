package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const wgs84SRID = 4326

// GeoJSONPoint is the insured location of a policy, stored as a PostGIS
// GEOGRAPHY(Point, 4326) and exchanged as GeoJSON.
type GeoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func NewGeoJSONPoint(lon, lat float64) *GeoJSONPoint {
	return &GeoJSONPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Validate checks the point is a GeoJSON Point with in-range longitude and latitude.
func (g *GeoJSONPoint) Validate() error {
	if g.Type != "Point" {
		return fmt.Errorf("location type must be Point, got %q", g.Type)
	}
	if len(g.Coordinates) != 2 {
		return fmt.Errorf("location must have exactly 2 coordinates")
	}
	if g.Lon() < -180 || g.Lon() > 180 || g.Lat() < -90 || g.Lat() > 90 {
		return fmt.Errorf("location coordinates out of range")
	}
	return nil
}

func (g *GeoJSONPoint) Lon() float64 { return g.Coordinates[0] }
func (g *GeoJSONPoint) Lat() float64 { return g.Coordinates[1] }

// Value converts GeoJSON to EWKT, e.g. "SRID=4326;POINT(106.6297 10.8231)".
func (g *GeoJSONPoint) Value() (driver.Value, error) {
	if g == nil || g.Type == "" {
		return nil, nil
	}

	point, err := g.toGeom()
	if err != nil {
		return nil, err
	}

	wktString, err := wkt.Marshal(point)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to WKT: %w", err)
	}

	return fmt.Sprintf("SRID=%d;%s", point.SRID(), wktString), nil
}

// Scan reads the EWKB PostGIS returns for geography columns.
func (g *GeoJSONPoint) Scan(value any) error {
	if value == nil {
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan GeoJSONPoint: expected []byte, got %T", value)
	}

	geometry, err := ewkb.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal EWKB: %w", err)
	}

	point, ok := geometry.(*geom.Point)
	if !ok {
		return fmt.Errorf("scanned geometry is not a Point")
	}

	geoJSONBytes, err := geojson.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to marshal to GeoJSON: %w", err)
	}

	return json.Unmarshal(geoJSONBytes, g)
}

func (g *GeoJSONPoint) toGeom() (*geom.Point, error) {
	geoJSONBytes, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}

	var geometry geom.T
	if err := geojson.Unmarshal(geoJSONBytes, &geometry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal GeoJSON: %w", err)
	}

	point, ok := geometry.(*geom.Point)
	if !ok {
		return nil, fmt.Errorf("geometry is not a Point")
	}
	point.SetSRID(wgs84SRID)
	return point, nil
}
