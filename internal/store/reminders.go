package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/uhcops/changebot/internal/models"
	"gorm.io/gorm"
)

// DueReminder is a reminder joined with the order fields the scheduler
// needs to phrase the notification.
type DueReminder struct {
	models.Reminder
	Status string
	NeedBy *string
}

// openStatuses are the order statuses that still warrant reminders.
var openStatuses = []string{"pending", "in_progress"}

// ListDueReminders returns up to limit active reminders whose next_run_at
// has elapsed and whose orders are still open, oldest first.
func (s *Store) ListDueReminders(limit int) ([]DueReminder, error) {
	if limit <= 0 {
		limit = 50
	}
	var reminders []models.Reminder
	err := s.db.
		Joins("JOIN orders ON orders.id = reminders.order_id").
		Where("reminders.active = ? AND reminders.next_run_at <= ? AND orders.status IN ?",
			true, s.now(), openStatuses).
		Order("reminders.next_run_at ASC").
		Limit(limit).
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("store: list due reminders: %w", err)
	}

	out := make([]DueReminder, 0, len(reminders))
	for _, r := range reminders {
		var o models.Order
		if err := s.db.Select("status", "need_by").First(&o, r.OrderID).Error; err != nil {
			return nil, fmt.Errorf("store: due reminder order %d: %w", r.OrderID, err)
		}
		out = append(out, DueReminder{Reminder: r, Status: o.Status, NeedBy: o.NeedBy})
	}
	return out, nil
}

// BumpReminder advances a reminder by hours from now and stamps the run.
// Called after every delivery attempt, successful or not, so a reminder is
// never dropped by a transient lookup failure.
func (s *Store) BumpReminder(reminderID uint, hours int) error {
	if hours <= 0 {
		hours = 10
	}
	now := s.now()
	updates := map[string]interface{}{
		"last_run_at": &now,
		"next_run_at": now.Add(time.Duration(hours) * time.Hour),
	}
	res := s.db.Model(&models.Reminder{}).Where("id = ?", reminderID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: bump reminder %d: %w", reminderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StopReminders deactivates the reminder for an order. The row is kept
// for history.
func (s *Store) StopReminders(orderID uint) error {
	err := s.db.Model(&models.Reminder{}).
		Where("order_id = ?", orderID).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("store: stop reminders for order %d: %w", orderID, err)
	}
	return nil
}

// GetReminderByOrder fetches the reminder row for an order.
func (s *Store) GetReminderByOrder(orderID uint) (*models.Reminder, error) {
	var r models.Reminder
	err := s.db.Where("order_id = ?", orderID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reminder for order %d: %w", orderID, err)
	}
	return &r, nil
}
