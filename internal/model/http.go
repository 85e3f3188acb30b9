package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPRegressor delegates predictions to a remote inference server that
// exposes GET /metadata and POST /predict.
type HTTPRegressor struct {
	baseURL  string
	client   *http.Client
	features []string
	version  string
}

type metadataResponse struct {
	FeatureNames []string `json:"feature_names"`
	Version      string   `json:"version"`
}

type predictRequest struct {
	Features []string    `json:"features"`
	Rows     [][]float64 `json:"rows"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

// NewHTTPRegressor contacts the server once to learn its feature schema.
func NewHTTPRegressor(ctx context.Context, baseURL string, timeout time.Duration) (*HTTPRegressor, error) {
	r := &HTTPRegressor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}

	var meta metadataResponse
	if err := r.do(ctx, http.MethodGet, "/metadata", nil, &meta); err != nil {
		return nil, fmt.Errorf("fetching model metadata: %w", err)
	}
	if len(meta.FeatureNames) == 0 {
		return nil, fmt.Errorf("%w: server reported no feature names", ErrInvalidArtifact)
	}
	r.features = meta.FeatureNames
	r.version = meta.Version
	return r, nil
}

func (r *HTTPRegressor) Name() string {
	if r.version == "" {
		return "http"
	}
	return "http:" + r.version
}

func (r *HTTPRegressor) FeatureNames() []string { return r.features }

func (r *HTTPRegressor) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	var resp predictResponse
	if err := r.do(ctx, http.MethodPost, "/predict", predictRequest{Features: r.features, Rows: rows}, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

func (r *HTTPRegressor) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
