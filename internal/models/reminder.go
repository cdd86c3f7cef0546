package models

import "time"

// Reminder is the recurring notification schedule for one order. Exactly
// one row exists per order, created in the submit transaction; it is
// deactivated (never deleted) when the order reaches a terminal status.
type Reminder struct {
	ID             uint `gorm:"primaryKey;autoIncrement"`
	OrderID        uint `gorm:"uniqueIndex;not null"`
	FrequencyHours int  `gorm:"default:10"`
	NextRunAt      time.Time
	LastRunAt      *time.Time
	Active         bool `gorm:"default:true;index"`
	CreatedAt      time.Time
}
