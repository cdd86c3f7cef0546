package store

import (
	"fmt"

	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/supplier"
)

// CacheSupplier persists one resolved supplier scoped to (city, state),
// stamped with the configured TTL. Implements supplier.Cache.
func (s *Store) CacheSupplier(sp supplier.Supplier, city, state string) (uint, error) {
	now := s.now()
	entry := models.SupplierCacheEntry{
		Source:     sp.Source,
		PlaceID:    sp.PlaceID,
		Brand:      sp.Brand,
		Type:       sp.Type,
		Name:       sp.Name,
		Address:    sp.Address,
		Phone:      sp.Phone,
		City:       city,
		State:      state,
		Lat:        sp.Lat,
		Lng:        sp.Lng,
		DistanceMi: sp.DistanceMi,
		CachedAt:   now,
		ExpiresAt:  now.Add(s.cacheTTL),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return 0, fmt.Errorf("store: cache supplier %q: %w", sp.Name, err)
	}
	return entry.ID, nil
}

// GetCachedSuppliers returns unexpired cache entries for (city, state),
// nearest first, nulls last. Stale-but-unexpired entries are served as-is;
// freshness is the prune job's problem.
func (s *Store) GetCachedSuppliers(city, state string) ([]models.SupplierCacheEntry, error) {
	var entries []models.SupplierCacheEntry
	err := s.db.
		Where("city = ? AND state = ? AND expires_at > ?", city, state, s.now()).
		Order("distance_mi IS NULL, distance_mi ASC, cached_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("store: cached suppliers for %s, %s: %w", city, state, err)
	}
	return entries, nil
}

// PruneExpiredSupplierCache deletes expired cache rows and reports how
// many were removed.
func (s *Store) PruneExpiredSupplierCache() (int64, error) {
	res := s.db.Where("expires_at <= ?", s.now()).Delete(&models.SupplierCacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: prune supplier cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}
