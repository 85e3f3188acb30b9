package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/biomass-watch/biomass-api/internal/eo"
	"github.com/biomass-watch/biomass-api/internal/model/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantRegressor(t *testing.T) {
	r := mock.NewConstantRegressor(42)
	assert.Equal(t, "mock", r.Name())
	assert.Equal(t, eo.FeatureColumns, r.FeatureNames())

	preds, err := r.Predict(context.Background(), [][]float64{{1}, {2}, {3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{42, 42, 42}, preds)
}

func TestFailingRegressor(t *testing.T) {
	boom := errors.New("boom")
	_, err := mock.NewFailingRegressor(boom).Predict(context.Background(), [][]float64{{1}})
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutRegressor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.NewTimeoutRegressor().Predict(ctx, [][]float64{{1}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultPredictReturnsZeros(t *testing.T) {
	preds, err := (&mock.MockRegressor{}).Predict(context.Background(), [][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, preds)
}
