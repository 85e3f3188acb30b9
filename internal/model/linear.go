package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// linearArtifact is the on-disk export of a fitted linear model.
type linearArtifact struct {
	FeatureNames []string  `json:"feature_names"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// LinearRegressor evaluates intercept + Σ coefficient·feature.
type LinearRegressor struct {
	features     []string
	coefficients []float64
	intercept    float64
}

// LoadLinearRegressor reads a JSON artifact from path.
func LoadLinearRegressor(path string) (*LinearRegressor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	return ParseLinearRegressor(data)
}

// ParseLinearRegressor decodes a JSON artifact.
func ParseLinearRegressor(data []byte) (*LinearRegressor, error) {
	var a linearArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if len(a.FeatureNames) == 0 {
		return nil, fmt.Errorf("%w: no feature names", ErrInvalidArtifact)
	}
	if len(a.FeatureNames) != len(a.Coefficients) {
		return nil, fmt.Errorf("%w: %d feature names but %d coefficients",
			ErrInvalidArtifact, len(a.FeatureNames), len(a.Coefficients))
	}
	return &LinearRegressor{
		features:     a.FeatureNames,
		coefficients: a.Coefficients,
		intercept:    a.Intercept,
	}, nil
}

func (r *LinearRegressor) Name() string { return "linear" }

func (r *LinearRegressor) FeatureNames() []string { return r.features }

func (r *LinearRegressor) Predict(_ context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(r.coefficients) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(r.coefficients))
		}
		v := r.intercept
		for j, x := range row {
			v += r.coefficients[j] * x
		}
		out[i] = v
	}
	return out, nil
}
