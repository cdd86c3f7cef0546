package store

import (
	"errors"
	"fmt"

	"github.com/uhcops/changebot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* ---------------- forum posts ---------------- */

// LinkForumPost records (or replaces) where an order's summary was posted.
func (s *Store) LinkForumPost(fp *models.ForumPost) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"forum_channel_id", "forum_thread_id", "project_thread_id", "pinned"}),
	}).Create(fp).Error
	if err != nil {
		return fmt.Errorf("store: link forum post for order %d: %w", fp.OrderID, err)
	}
	return nil
}

// GetForumPost fetches the post link for an order, or ErrNotFound.
func (s *Store) GetForumPost(orderID uint) (*models.ForumPost, error) {
	var fp models.ForumPost
	err := s.db.Where("order_id = ?", orderID).First(&fp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: forum post for order %d: %w", orderID, err)
	}
	return &fp, nil
}

// GetForumPostByProjectThread finds the most recent post link originating
// from a project thread, used for mirroring.
func (s *Store) GetForumPostByProjectThread(projectThreadID string) (*models.ForumPost, error) {
	var fp models.ForumPost
	err := s.db.Where("project_thread_id = ?", projectThreadID).
		Order("created_at DESC").First(&fp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: forum post for thread %s: %w", projectThreadID, err)
	}
	return &fp, nil
}

// GetForumPostByForumThread finds the post link for a forum thread, used
// for reverse mirroring.
func (s *Store) GetForumPostByForumThread(forumThreadID string) (*models.ForumPost, error) {
	var fp models.ForumPost
	err := s.db.Where("forum_thread_id = ?", forumThreadID).
		Order("created_at DESC").First(&fp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: forum post for forum thread %s: %w", forumThreadID, err)
	}
	return &fp, nil
}

// SetForumPinned updates the pinned flag on an order's post link.
func (s *Store) SetForumPinned(orderID uint, pinned bool) error {
	err := s.db.Model(&models.ForumPost{}).
		Where("order_id = ?", orderID).
		Update("pinned", pinned).Error
	if err != nil {
		return fmt.Errorf("store: set pinned for order %d: %w", orderID, err)
	}
	return nil
}

/* ---------------- message mirroring ---------------- */

// RecordMessageLink stores one mirrored-message correlation.
func (s *Store) RecordMessageLink(ml *models.MessageLink) error {
	if err := s.db.Create(ml).Error; err != nil {
		return fmt.Errorf("store: record message link: %w", err)
	}
	return nil
}

// GetMirrorBySource finds the mirror of a source message, or ErrNotFound.
func (s *Store) GetMirrorBySource(sourceChannelID, sourceMessageID string) (*models.MessageLink, error) {
	var ml models.MessageLink
	err := s.db.Where("source_channel_id = ? AND source_message_id = ?", sourceChannelID, sourceMessageID).
		First(&ml).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: mirror lookup: %w", err)
	}
	return &ml, nil
}
