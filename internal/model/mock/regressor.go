package mock

import (
	"context"

	"github.com/biomass-watch/biomass-api/internal/eo"
	"github.com/biomass-watch/biomass-api/internal/model"
)

// MockRegressor satisfies model.Regressor for testing.
type MockRegressor struct {
	Name_       string
	Features    []string
	PredictFunc func(ctx context.Context, rows [][]float64) ([]float64, error)
}

func (m *MockRegressor) Name() string { return m.Name_ }

func (m *MockRegressor) FeatureNames() []string { return m.Features }

func (m *MockRegressor) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	if m.PredictFunc != nil {
		return m.PredictFunc(ctx, rows)
	}
	return make([]float64, len(rows)), nil
}

// NewConstantRegressor returns a MockRegressor that predicts v for every row
// over the full extracted schema.
func NewConstantRegressor(v float64) *MockRegressor {
	return &MockRegressor{
		Name_:    "mock",
		Features: eo.FeatureColumns,
		PredictFunc: func(_ context.Context, rows [][]float64) ([]float64, error) {
			out := make([]float64, len(rows))
			for i := range out {
				out[i] = v
			}
			return out, nil
		},
	}
}

// NewFailingRegressor returns a MockRegressor that always returns err.
func NewFailingRegressor(err error) *MockRegressor {
	return &MockRegressor{
		Name_:    "mock-failing",
		Features: eo.FeatureColumns,
		PredictFunc: func(_ context.Context, _ [][]float64) ([]float64, error) {
			return nil, err
		},
	}
}

// NewTimeoutRegressor returns a MockRegressor that blocks until ctx is done.
func NewTimeoutRegressor() *MockRegressor {
	return &MockRegressor{
		Name_:    "mock-timeout",
		Features: eo.FeatureColumns,
		PredictFunc: func(ctx context.Context, _ [][]float64) ([]float64, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// Compile-time check that MockRegressor implements Regressor.
var _ model.Regressor = (*MockRegressor)(nil)
