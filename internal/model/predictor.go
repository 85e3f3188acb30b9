// Package model turns feature tables into biomass estimates using a
// pre-trained regressor.
package model

import (
	"context"
	"fmt"
	"math"

	"github.com/biomass-watch/biomass-api/internal/eo"
)

// Regressor is a loaded, read-only regression model. Implementations must
// be safe for concurrent use.
type Regressor interface {
	Name() string
	// FeatureNames is the column order Predict expects.
	FeatureNames() []string
	// Predict returns one estimate (Mg/ha) per row.
	Predict(ctx context.Context, rows [][]float64) ([]float64, error)
}

// Predictor adapts feature tables to a Regressor.
type Predictor struct {
	regressor Regressor
}

// NewPredictor creates a Predictor around a loaded regressor.
func NewPredictor(r Regressor) *Predictor {
	return &Predictor{regressor: r}
}

// Name reports the underlying regressor.
func (p *Predictor) Name() string {
	return p.regressor.Name()
}

// PredictMean estimates biomass for every row of table and returns the
// arithmetic mean. Columns the model does not know are ignored.
func (p *Predictor) PredictMean(ctx context.Context, table *eo.Table) (float64, error) {
	rows, err := selectColumns(table, p.regressor.FeatureNames())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: empty feature table", ErrPrediction)
	}

	preds, err := p.regressor.Predict(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrPrediction, p.regressor.Name(), err)
	}
	if len(preds) != len(rows) {
		return 0, fmt.Errorf("%w: got %d predictions for %d rows", ErrPrediction, len(preds), len(rows))
	}

	var sum float64
	for _, v := range preds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: non-finite prediction", ErrPrediction)
		}
		sum += v
	}
	return sum / float64(len(preds)), nil
}

// selectColumns reorders table rows into the model's feature order.
func selectColumns(table *eo.Table, names []string) ([][]float64, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		j := table.ColumnIndex(name)
		if j < 0 {
			return nil, fmt.Errorf("%w: missing column %q", ErrUnknownFeatureSchema, name)
		}
		idx[i] = j
	}

	rows := make([][]float64, len(table.Rows))
	for r, src := range table.Rows {
		row := make([]float64, len(idx))
		for i, j := range idx {
			row[i] = src[j]
		}
		rows[r] = row
	}
	return rows, nil
}
