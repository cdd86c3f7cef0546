// Package store is the data access layer: carts, orders, reminders,
// forum-post links, message mirroring, and the supplier cache, all behind
// one GORM-backed type.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/uhcops/changebot/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a GORM connection with the operations the bot needs.
type Store struct {
	db       *gorm.DB
	cacheTTL time.Duration
	now      func() time.Time
}

// Opts holds parameters for creating a Store.
type Opts struct {
	DB           *gorm.DB
	CacheTTLDays int              // supplier cache TTL; defaults to 30
	Now          func() time.Time // test seam; defaults to time.Now
}

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	ttlDays := opts.CacheTTLDays
	if ttlDays <= 0 {
		ttlDays = 30
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:       opts.DB,
		cacheTTL: time.Duration(ttlDays) * 24 * time.Hour,
		now:      now,
	}, nil
}

// DB exposes the underlying connection for callers that run their own
// queries (health endpoint, doctor checks).
func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store's clock, the same one used for reminder and cache
// timestamps.
func (s *Store) Now() time.Time { return s.now() }

/* ---------------- threads ---------------- */

// UpsertThread creates or refreshes the metadata row for a project thread.
func (s *Store) UpsertThread(t *models.Thread) error {
	var existing models.Thread
	err := s.db.Where("thread_id = ?", t.ThreadID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(t).Error; err != nil {
			return fmt.Errorf("store: create thread %s: %w", t.ThreadID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: lookup thread %s: %w", t.ThreadID, err)
	default:
		updates := map[string]interface{}{
			"project_title": t.ProjectTitle,
			"location_text": t.LocationText,
			"city":          t.City,
			"state":         t.State,
			"lat":           t.Lat,
			"lng":           t.Lng,
		}
		if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("store: update thread %s: %w", t.ThreadID, err)
		}
		return nil
	}
}

// GetThread fetches thread metadata, or ErrNotFound.
func (s *Store) GetThread(threadID string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.Where("thread_id = ?", threadID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get thread %s: %w", threadID, err)
	}
	return &t, nil
}
