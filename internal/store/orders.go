package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/uhcops/changebot/internal/models"
	"gorm.io/gorm"
)

// NewOrder carries the fields for creating an order with its items.
type NewOrder struct {
	Type           string
	ThreadID       string
	RequesterID    string
	NeedBy         *string
	Notes          string
	Items          []models.LineItem
	FrequencyHours int // first-reminder delay and recurrence; defaults to 10
}

// CreateOrderWithItems persists an order, its items, and its first
// reminder in one transaction. The reminder fires FrequencyHours from now.
func (s *Store) CreateOrderWithItems(no NewOrder) (uint, error) {
	freq := no.FrequencyHours
	if freq <= 0 {
		freq = 10
	}
	typ := no.Type
	if typ == "" {
		typ = "materials"
	}

	var orderID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		order := models.Order{
			Type:        typ,
			ThreadID:    no.ThreadID,
			RequesterID: no.RequesterID,
			NeedBy:      no.NeedBy,
			Notes:       no.Notes,
			Status:      "pending",
		}
		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, it := range no.Items {
			item := models.OrderItem{
				OrderID:       order.ID,
				Description:   it.Description,
				QuantityValue: it.QuantityValue,
				QuantityUnit:  it.QuantityUnit,
				Notes:         it.Notes,
			}
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}
		reminder := models.Reminder{
			OrderID:        order.ID,
			FrequencyHours: freq,
			NextRunAt:      s.now().Add(time.Duration(freq) * time.Hour),
			Active:         true,
		}
		if err := tx.Create(&reminder).Error; err != nil {
			return fmt.Errorf("create reminder: %w", err)
		}
		orderID = order.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	return orderID, nil
}

// GetOrder fetches an order with its items, or ErrNotFound.
func (s *Store) GetOrder(orderID uint) (*models.Order, error) {
	var o models.Order
	err := s.db.Preload("Items").First(&o, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order %d: %w", orderID, err)
	}
	return &o, nil
}

// SetOrderStatus writes the status column plus completion stamps. The
// transition has already been validated by the order service.
func (s *Store) SetOrderStatus(orderID uint, status string, completedAt *time.Time, completedBy string) error {
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": completedAt,
		"completed_by": completedBy,
	}
	res := s.db.Model(&models.Order{}).Where("id = ?", orderID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: set order %d status: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOrdersByStatus returns how many orders are in the given statuses.
func (s *Store) CountOrdersByStatus(statuses ...string) (int64, error) {
	var n int64
	if err := s.db.Model(&models.Order{}).Where("status IN ?", statuses).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count orders: %w", err)
	}
	return n, nil
}

// LinkOrderSuppliers records which cached suppliers were surfaced for an
// order.
func (s *Store) LinkOrderSuppliers(orderID uint, cacheIDs []uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range cacheIDs {
			if id == 0 {
				continue
			}
			row := models.OrderSupplier{OrderID: orderID, SupplierCacheID: id}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("store: link order %d supplier %d: %w", orderID, id, err)
			}
		}
		return nil
	})
}
