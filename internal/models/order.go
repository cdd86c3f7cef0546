package models

import "time"

// Order is a submitted change request. Orders are immutable once created
// except for status tracking; their items are owned rows.
type Order struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Type        string `gorm:"size:16;not null;default:materials"`
	ThreadID    string `gorm:"size:32;index"`
	RequesterID string `gorm:"size:32;not null"`
	NeedBy      *string
	Notes       string `gorm:"type:text"`
	Status      string `gorm:"size:16;default:pending;index"`
	CompletedAt *time.Time
	CompletedBy string `gorm:"size:32"`
	CreatedAt   time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// OrderItem is a single line of an order, copied from the cart at submit.
type OrderItem struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	OrderID       uint `gorm:"index;not null"`
	Description   string
	QuantityValue *float64
	QuantityUnit  *string
	Notes         *string
}

// OrderSupplier links an order to the supplier cache rows surfaced for it.
type OrderSupplier struct {
	OrderID         uint `gorm:"primaryKey"`
	SupplierCacheID uint `gorm:"primaryKey"`
}
