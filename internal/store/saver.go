package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"profilescrape-engine/internal/protocol"
)

const (
	SavedText    = "Profile saved successfully!"
	ConflictText = "This profile already exists."
)

// Saver persists finished records and reports the outcome as a protocol
// acknowledgment.
type Saver struct {
	DB     *DB
	Logger *zap.Logger
}

func (s Saver) Save(ctx context.Context, payload map[string]any) protocol.Response {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	id, err := InsertCandidate(ctx, s.DB.Pool, payload)
	switch {
	case err == nil:
		log.Info("candidate saved", zap.Int64("id", id), zap.Any("linkedin_url", payload["linkedin_url"]))
		return protocol.Success(SavedText)
	case errors.Is(err, ErrConflict):
		log.Info("candidate already saved", zap.Any("linkedin_url", payload["linkedin_url"]))
		return protocol.Error(ConflictText)
	default:
		log.Error("candidate save failed", zap.Error(err))
		return protocol.Error("Database error: " + err.Error())
	}
}
