// Package geo validates submitted GeoJSON and derives the map metadata
// served alongside biomass reports.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrInvalidGeometry is returned for malformed or disallowed GeoJSON shapes.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Submission is an accepted AOI payload reduced to a single polygon.
type Submission struct {
	Polygon orb.Polygon
	// Name comes from the feature's "name" property when present.
	Name string
}

// ParseSubmission accepts a FeatureCollection with exactly one feature, a
// bare Feature, or a bare geometry. The geometry must be a Polygon or a
// MultiPolygon with exactly one polygon, which is unwrapped.
func ParseSubmission(data []byte) (*Submission, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrInvalidGeometry, err)
	}

	var (
		g    orb.Geometry
		name string
	)
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		if len(fc.Features) != 1 {
			return nil, fmt.Errorf("%w: feature collection must contain exactly one feature, got %d",
				ErrInvalidGeometry, len(fc.Features))
		}
		g, name = fc.Features[0].Geometry, featureName(fc.Features[0].Properties)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		g, name = f.Geometry, featureName(f.Properties)
	case "Polygon", "MultiPolygon":
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		g = geom.Geometry()
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidGeometry)
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidGeometry, head.Type)
	}

	poly, err := singlePolygon(g)
	if err != nil {
		return nil, err
	}
	if err := Validate(poly); err != nil {
		return nil, err
	}
	return &Submission{Polygon: poly, Name: strings.TrimSpace(name)}, nil
}

// featureName returns the "name" property when it is a string.
func featureName(props geojson.Properties) string {
	name, _ := props["name"].(string)
	return name
}

func singlePolygon(g orb.Geometry) (orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return v, nil
	case orb.MultiPolygon:
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: multipolygon must have exactly one polygon, got %d",
				ErrInvalidGeometry, len(v))
		}
		return v[0], nil
	case nil:
		return nil, fmt.Errorf("%w: feature has no geometry", ErrInvalidGeometry)
	default:
		return nil, fmt.Errorf("%w: geometry must be Polygon or MultiPolygon, got %s",
			ErrInvalidGeometry, g.GeoJSONType())
	}
}

// Validate checks that p is a usable WGS84 polygon: closed rings with at
// least four positions and finite coordinates within lon/lat bounds.
func Validate(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("%w: ring %d has %d positions, need at least 4", ErrInvalidGeometry, i, len(ring))
		}
		if !ring.Closed() {
			return fmt.Errorf("%w: ring %d is not closed", ErrInvalidGeometry, i)
		}
		for _, pt := range ring {
			lon, lat := pt.Lon(), pt.Lat()
			if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
				return fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
			}
			if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
				return fmt.Errorf("%w: coordinate (%g, %g) outside WGS84 bounds", ErrInvalidGeometry, lon, lat)
			}
		}
	}
	return nil
}

// EncodePolygon serializes p as a GeoJSON geometry object.
func EncodePolygon(p orb.Polygon) ([]byte, error) {
	return geojson.NewGeometry(p).MarshalJSON()
}

// DecodePolygon parses a GeoJSON Polygon geometry object.
func DecodePolygon(data []byte) (orb.Polygon, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	return singlePolygon(g.Geometry())
}
