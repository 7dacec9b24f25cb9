package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/apperr"
	"github.com/venuehub/marketplace/internal/cache"
	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/repo"
)

// ErrNotOwner means the caller doesn't own the listing.
var ErrNotOwner = errors.New("not the venue owner")

// VenueService manages listings with a read-through TTL cache on single
// venue lookups.
type VenueService struct {
	repo  repo.RepositoryInterface
	cache *cache.Cache
	ttl   time.Duration
	log   *zap.SugaredLogger
}

// NewVenueService returns VenueService.
func NewVenueService(r repo.RepositoryInterface, c *cache.Cache, ttl time.Duration, logger *zap.SugaredLogger) *VenueService {
	return &VenueService{repo: r, cache: c, ttl: ttl, log: logger}
}

func venueKey(id uint64) string { return fmt.Sprintf("venue:%d", id) }

// Create inserts an unpublished listing owned by the caller.
func (s *VenueService) Create(ctx context.Context, v *model.Venue) error {
	v.Published = false
	if err := s.repo.CreateVenue(ctx, v); err != nil {
		return apperr.ClassifyDB(err)
	}
	return nil
}

// Get returns a venue, cached for the configured TTL.
func (s *VenueService) Get(ctx context.Context, id uint64) (*model.Venue, error) {
	if v, ok := s.cache.Get(venueKey(id)); ok {
		return v.(*model.Venue), nil
	}
	v, err := s.repo.GetVenue(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "venue not found")
		}
		return nil, apperr.ClassifyDB(err)
	}
	s.cache.Set(venueKey(id), v, s.ttl)
	return v, nil
}

// List runs the filter chain.
func (s *VenueService) List(ctx context.Context, q repo.VenueQuery) (*repo.VenuePage, error) {
	page, err := s.repo.ListVenues(ctx, q)
	if err != nil {
		return nil, apperr.ClassifyDB(err)
	}
	return page, nil
}

// Update rewrites the mutable fields and drops the cache entry.
func (s *VenueService) Update(ctx context.Context, ownerID, id uint64, mutate func(*model.Venue)) (*model.Venue, error) {
	v, err := s.repo.GetVenue(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "venue not found")
		}
		return nil, apperr.ClassifyDB(err)
	}
	if v.OwnerID != ownerID {
		return nil, apperr.Wrap(apperr.PermissionDenied, "not the venue owner", ErrNotOwner)
	}
	mutate(v)
	if err := s.repo.SaveVenue(ctx, v); err != nil {
		return nil, apperr.ClassifyDB(err)
	}
	s.cache.Delete(venueKey(id))
	return v, nil
}

// SetPublished toggles listing visibility.
func (s *VenueService) SetPublished(ctx context.Context, ownerID, id uint64, published bool) (*model.Venue, error) {
	return s.Update(ctx, ownerID, id, func(v *model.Venue) { v.Published = published })
}
