package models

import "time"

// Thread records project-thread metadata captured the first time the bot
// is used in a thread, including the location parsed from its title.
type Thread struct {
	ThreadID     string `gorm:"primaryKey;size:32"`
	ProjectTitle string `gorm:"size:256"`
	LocationText string `gorm:"size:128"`
	City         string `gorm:"size:64"`
	State        string `gorm:"size:2"`
	Lat          *float64
	Lng          *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
