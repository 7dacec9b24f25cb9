package repo

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/model"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// VenueQuery maps listing filter options onto a query chain, the same
// role the old client-side filter builder played. Zero values mean the
// filter is off.
type VenueQuery struct {
	City          string
	MinCapacity   int
	MaxCapacity   int
	MaxHourlyRate decimal.Decimal
	Search        string
	Sort          string
	Page          int
	PerPage       int
}

// VenuePage is one page of results plus the pagination bookkeeping.
type VenuePage struct {
	Venues     []model.Venue `json:"venues"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	TotalPages int           `json:"total_pages"`
}

// Normalize clamps paging inputs to sane bounds.
func (q VenueQuery) Normalize() VenueQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	return q
}

// Offset of the first row of the requested page.
func (q VenueQuery) Offset() int { return (q.Page - 1) * q.PerPage }

// TotalPages for a result set of the given size.
func TotalPages(total int64, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}

// EscapeLike neutralizes LIKE wildcards in user search input.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Apply builds the filter chain. Only published venues are searchable.
func (q VenueQuery) Apply(db *gorm.DB) *gorm.DB {
	db = db.Where("published = ?", true)
	if q.City != "" {
		db = db.Where("city = ?", q.City)
	}
	if q.MinCapacity > 0 {
		db = db.Where("capacity >= ?", q.MinCapacity)
	}
	if q.MaxCapacity > 0 {
		db = db.Where("capacity <= ?", q.MaxCapacity)
	}
	if q.MaxHourlyRate.IsPositive() {
		db = db.Where("hourly_rate <= ?", q.MaxHourlyRate)
	}
	if q.Search != "" {
		db = db.Where(`name LIKE ? ESCAPE '\'`, "%"+EscapeLike(q.Search)+"%")
	}
	switch q.Sort {
	case "price_asc":
		db = db.Order("hourly_rate asc")
	case "price_desc":
		db = db.Order("hourly_rate desc")
	case "capacity_desc":
		db = db.Order("capacity desc")
	default:
		db = db.Order("created_at desc")
	}
	return db
}

// ListVenues runs the filter chain with a count plus offset/limit page.
func (r *Repository) ListVenues(ctx context.Context, q VenueQuery) (*VenuePage, error) {
	q = q.Normalize()
	base := q.Apply(r.db.WithContext(ctx).Model(&model.Venue{}))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	venues := make([]model.Venue, 0, q.PerPage)
	if err := base.Offset(q.Offset()).Limit(q.PerPage).Find(&venues).Error; err != nil {
		return nil, err
	}
	return &VenuePage{
		Venues:     venues,
		Total:      total,
		Page:       q.Page,
		PerPage:    q.PerPage,
		TotalPages: TotalPages(total, q.PerPage),
	}, nil
}

// GetVenue fetches one venue row.
func (r *Repository) GetVenue(ctx context.Context, id uint64) (*model.Venue, error) {
	var v model.Venue
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVenue inserts a listing.
func (r *Repository) CreateVenue(ctx context.Context, v *model.Venue) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// SaveVenue persists all fields of an existing listing.
func (r *Repository) SaveVenue(ctx context.Context, v *model.Venue) error {
	return r.db.WithContext(ctx).Save(v).Error
}
