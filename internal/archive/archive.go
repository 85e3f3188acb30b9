// Package archive keeps a copy of each uploaded GeoJSON payload.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Archiver stores the raw submission for an AOI and returns where it went.
// An empty location means nothing was stored.
type Archiver interface {
	Archive(ctx context.Context, userID, aoiID uuid.UUID, payload []byte) (string, error)
}

// Noop discards payloads. Used when no bucket is configured.
type Noop struct{}

func (Noop) Archive(_ context.Context, _, _ uuid.UUID, _ []byte) (string, error) {
	return "", nil
}

// GCS writes payloads to a Cloud Storage bucket under
// aois/<user>/<aoi>.geojson.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS opens a storage client for bucket.
func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCS, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// ObjectKey is the object name used for an AOI's payload.
func ObjectKey(userID, aoiID uuid.UUID) string {
	return fmt.Sprintf("aois/%s/%s.geojson", userID, aoiID)
}

func (g *GCS) Archive(ctx context.Context, userID, aoiID uuid.UUID, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := ObjectKey(userID, aoiID)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/geo+json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
