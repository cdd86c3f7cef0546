package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uhcops/changebot/internal/models"
	"gorm.io/gorm"
)

// CartData is a cart row with its items decoded.
type CartData struct {
	Cart  models.Cart
	Items []models.LineItem
}

// GetCart fetches the draft cart for (threadID, requesterID), or
// ErrNotFound when the user has no cart in that thread.
func (s *Store) GetCart(threadID, requesterID string) (*CartData, error) {
	var c models.Cart
	err := s.db.Where("thread_id = ? AND requester_id = ?", threadID, requesterID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cart: %w", err)
	}
	var items []models.LineItem
	if c.ItemsJSON != "" {
		if err := json.Unmarshal([]byte(c.ItemsJSON), &items); err != nil {
			return nil, fmt.Errorf("store: decode cart items: %w", err)
		}
	}
	return &CartData{Cart: c, Items: items}, nil
}

// UpsertCart writes the full cart state for (threadID, requesterID),
// creating the row on first use.
func (s *Store) UpsertCart(threadID, requesterID string, needBy *string, notes string, items []models.LineItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: encode cart items: %w", err)
	}

	var existing models.Cart
	err = s.db.Where("thread_id = ? AND requester_id = ?", threadID, requesterID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c := models.Cart{
			ThreadID:    threadID,
			RequesterID: requesterID,
			NeedBy:      needBy,
			Notes:       notes,
			ItemsJSON:   string(data),
		}
		if err := s.db.Create(&c).Error; err != nil {
			return fmt.Errorf("store: create cart: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: lookup cart: %w", err)
	default:
		updates := map[string]interface{}{
			"need_by":    needBy,
			"notes":      notes,
			"items_json": string(data),
		}
		if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("store: update cart: %w", err)
		}
		return nil
	}
}

// ClearCart deletes the cart for (threadID, requesterID). Deleting a cart
// that does not exist is not an error — "start over" is idempotent.
func (s *Store) ClearCart(threadID, requesterID string) error {
	err := s.db.Where("thread_id = ? AND requester_id = ?", threadID, requesterID).
		Delete(&models.Cart{}).Error
	if err != nil {
		return fmt.Errorf("store: clear cart: %w", err)
	}
	return nil
}
