package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/venuehub/marketplace/internal/apperr"
)

// DraftService autosaves in-progress form payloads per user, the server
// side of what the web client used to keep in local storage. Drafts are
// opaque JSON and expire on their own.
type DraftService struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxBytes int
	log      *zap.SugaredLogger
}

// NewDraftService returns DraftService.
func NewDraftService(rdb *redis.Client, ttl time.Duration, maxBytes int, logger *zap.SugaredLogger) *DraftService {
	return &DraftService{rdb: rdb, ttl: ttl, maxBytes: maxBytes, log: logger}
}

func draftKey(userID uint64, form string) string {
	return fmt.Sprintf("draft:%d:%s", userID, form)
}

// Save stores the draft, refreshing its TTL.
func (s *DraftService) Save(ctx context.Context, userID uint64, form string, payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) {
		return apperr.New(apperr.InvalidInput, "draft must be valid JSON")
	}
	if len(payload) > s.maxBytes {
		return apperr.New(apperr.InvalidInput, "draft too large")
	}
	if err := s.rdb.Set(ctx, draftKey(userID, form), []byte(payload), s.ttl).Err(); err != nil {
		return apperr.Wrap(apperr.Unavailable, "draft store unavailable", err)
	}
	return nil
}

// Load returns the saved draft, or NotFound once it has expired.
func (s *DraftService) Load(ctx context.Context, userID uint64, form string) (json.RawMessage, error) {
	val, err := s.rdb.Get(ctx, draftKey(userID, form)).Result()
	if err == redis.Nil {
		return nil, apperr.New(apperr.NotFound, "no draft saved")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "draft store unavailable", err)
	}
	return json.RawMessage(val), nil
}

// Discard deletes the draft. Deleting a missing draft is fine.
func (s *DraftService) Discard(ctx context.Context, userID uint64, form string) error {
	if err := s.rdb.Del(ctx, draftKey(userID, form)).Err(); err != nil {
		return apperr.Wrap(apperr.Unavailable, "draft store unavailable", err)
	}
	return nil
}
