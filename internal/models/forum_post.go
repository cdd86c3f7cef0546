package models

import "time"

// ForumPost links an order to the forum thread (or message) where its
// summary was posted. Status-button callbacks use it to locate the
// originating order; mirroring uses it to find the destination thread.
type ForumPost struct {
	OrderID         uint   `gorm:"primaryKey"`
	ForumChannelID  string `gorm:"size:32;not null"`
	ForumThreadID   string `gorm:"size:32;not null;index"`
	ProjectThreadID string `gorm:"size:32;index"`
	Pinned          bool   `gorm:"default:false"`
	CreatedAt       time.Time
}

// MessageLink records one mirrored message so edits and replies can be
// correlated across the project thread and the forum post.
type MessageLink struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	OrderID         *uint  `gorm:"index"`
	SourceChannelID string `gorm:"size:32;not null;uniqueIndex:idx_link_source"`
	SourceMessageID string `gorm:"size:32;not null;uniqueIndex:idx_link_source"`
	DestChannelID   string `gorm:"size:32;not null"`
	DestMessageID   string `gorm:"size:32;not null"`
	CreatedAt       time.Time
}
