package report

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/biomass-watch/biomass-api/internal/store"
	"github.com/google/uuid"
)

// shareTokenBytes gives a 64-character hex token.
const shareTokenBytes = 32

// Sharing mints and revokes share tokens. Only the AOI owner may do either.
type Sharing struct {
	aois store.AOIStore
}

// NewSharing creates a Sharing service.
func NewSharing(aois store.AOIStore) *Sharing {
	return &Sharing{aois: aois}
}

// Mint replaces any existing share token on the AOI with a fresh one.
func (s *Sharing) Mint(ctx context.Context, aoiID, userID uuid.UUID) (string, error) {
	if err := s.authorize(ctx, aoiID, userID); err != nil {
		return "", err
	}

	token, err := newShareToken()
	if err != nil {
		return "", err
	}
	if err := s.aois.SetShareToken(ctx, aoiID, &token); err != nil {
		return "", fmt.Errorf("storing share token: %w", err)
	}
	return token, nil
}

// Revoke clears the AOI's share token. Revoking an AOI with no token is
// not an error.
func (s *Sharing) Revoke(ctx context.Context, aoiID, userID uuid.UUID) error {
	if err := s.authorize(ctx, aoiID, userID); err != nil {
		return err
	}
	if err := s.aois.SetShareToken(ctx, aoiID, nil); err != nil {
		return fmt.Errorf("clearing share token: %w", err)
	}
	return nil
}

func (s *Sharing) authorize(ctx context.Context, aoiID, userID uuid.UUID) error {
	aoi, err := s.aois.GetAOI(ctx, aoiID)
	if err != nil {
		return err
	}
	if !aoi.OwnedBy(userID) {
		return ErrAccessDenied
	}
	return nil
}

func newShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating share token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
