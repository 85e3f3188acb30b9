// Package eo extracts per-pixel remote-sensing feature rows for an area of
// interest and calendar year.
package eo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/biomass-watch/biomass-api/internal/geo"
	"github.com/paulmach/orb"
)

var (
	// ErrNoSamples means the source returned no usable pixels for the
	// year, e.g. persistent cloud cover. Callers skip the year.
	ErrNoSamples = errors.New("no samples for year")

	// ErrExtraction wraps transport and query failures against the source.
	ErrExtraction = errors.New("feature extraction failed")

	ErrInvalidYear = errors.New("invalid year")
)

// FeatureColumns is the fixed column schema of an extracted table: scaled
// Sentinel-2 reflectance bands, derived indices and terrain.
var FeatureColumns = []string{
	"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B8A", "B9", "B11", "B12",
	"ndvi", "mndwi", "ndbi", "evi", "bsi",
	"dem", "slope",
}

// Image is a composite prepared by a Source. Only the Source that created
// it knows how to sample it.
type Image any

// Sample is one sampled grid cell keyed by band name.
type Sample map[string]float64

// Source is the external Earth-observation capability the extractor needs.
type Source interface {
	// CompositeImage prepares the cloud-masked yearly composite bounded to aoi.
	CompositeImage(ctx context.Context, aoi orb.Polygon, year int) (Image, error)
	// Sample draws at most n random grid cells from img.
	Sample(ctx context.Context, img Image, n int) ([]Sample, error)
}

// Table holds feature rows in a fixed column order.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Extractor turns (polygon, year) into a feature table using a Source.
type Extractor struct {
	source     Source
	sampleSize int
}

// NewExtractor creates an Extractor drawing at most sampleSize cells per year.
func NewExtractor(src Source, sampleSize int) *Extractor {
	return &Extractor{source: src, sampleSize: sampleSize}
}

// Extract returns the feature table for aoi in year. It returns ErrNoSamples
// when the source yields no complete rows.
func (e *Extractor) Extract(ctx context.Context, aoi orb.Polygon, year int) (*Table, error) {
	if err := geo.Validate(aoi); err != nil {
		return nil, err
	}
	if year <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}

	img, err := e.source.CompositeImage(ctx, aoi, year)
	if err != nil {
		return nil, fmt.Errorf("%w: composite for %d: %w", ErrExtraction, year, err)
	}
	samples, err := e.source.Sample(ctx, img, e.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("%w: sample for %d: %w", ErrExtraction, year, err)
	}

	table := buildTable(samples)
	if table.Len() == 0 {
		return nil, ErrNoSamples
	}
	return table, nil
}

// buildTable keeps only samples that carry every feature column with a
// finite value. Masked pixels come back with missing bands.
func buildTable(samples []Sample) *Table {
	t := &Table{Columns: FeatureColumns, Rows: make([][]float64, 0, len(samples))}
	for _, s := range samples {
		row := make([]float64, len(FeatureColumns))
		complete := true
		for i, col := range FeatureColumns {
			v, ok := s[col]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				complete = false
				break
			}
			row[i] = v
		}
		if complete {
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}
