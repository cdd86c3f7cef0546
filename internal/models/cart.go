package models

import "time"

// Cart is a per-(thread, requester) draft list of line items accumulated
// before submission. It lives only for a single in-progress request: it is
// deleted on submit or start-over, never versioned.
type Cart struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ThreadID    string `gorm:"size:32;not null;uniqueIndex:idx_cart_owner"`
	RequesterID string `gorm:"size:32;not null;uniqueIndex:idx_cart_owner"`
	NeedBy      *string
	Notes       string `gorm:"type:text"`
	ItemsJSON   string `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LineItem is one requested item inside a cart. Quantity is optional and
// split into a value and a free-text unit ("10" + "sheets").
type LineItem struct {
	Description   string   `json:"description"`
	QuantityValue *float64 `json:"quantity_value,omitempty"`
	QuantityUnit  *string  `json:"quantity_unit,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
}
