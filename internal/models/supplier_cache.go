package models

import "time"

// SupplierCacheEntry is one cached supplier lookup result, scoped by the
// (city, state) it was resolved for. Entries expire after a TTL; expired
// rows are filtered at read time and pruned by a background job, so a
// query may see a mix of cache ages between prunes.
type SupplierCacheEntry struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Source     string `gorm:"size:16;not null"`
	PlaceID    string `gorm:"size:128"`
	Brand      string `gorm:"size:64"`
	Type       string `gorm:"size:16"`
	Name       string `gorm:"size:128;not null"`
	Address    string `gorm:"size:256"`
	Phone      string `gorm:"size:32"`
	City       string `gorm:"size:64;index:idx_cache_location"`
	State      string `gorm:"size:2;index:idx_cache_location"`
	Lat        *float64
	Lng        *float64
	DistanceMi *float64
	CachedAt   time.Time `gorm:"autoCreateTime"`
	ExpiresAt  time.Time `gorm:"index"`
}
