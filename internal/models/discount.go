package models

import (
	"time"

	"gorm.io/gorm"
)

// DiscountType represents how a discount code adjusts an order
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// DiscountCode represents a redeemable discount token
type DiscountCode struct {
	ID   uint   `gorm:"column:id;primaryKey" json:"id"`
	Code string `gorm:"column:code;size:50;uniqueIndex;not null" json:"code"` // stored normalized (upper, trimmed)

	DiscountType  DiscountType `gorm:"column:discount_type;size:20;not null" json:"discount_type"`
	DiscountValue float64      `gorm:"column:discount_value;type:decimal(15,2);not null" json:"discount_value"`

	// Limits. UsedCount is maintained by the atomic claim in the engine;
	// discount_usages rows are the source of truth for reconciliation.
	UsageLimit int `gorm:"column:usage_limit;not null" json:"usage_limit"`
	UsedCount  int `gorm:"column:used_count;not null;default:0" json:"used_count"`

	ValidFrom  *time.Time `gorm:"column:valid_from" json:"valid_from"`
	ValidUntil *time.Time `gorm:"column:valid_until" json:"valid_until"`

	MinimumPurchase *float64 `gorm:"column:minimum_purchase;type:decimal(15,2)" json:"minimum_purchase"`
	MaximumDiscount *float64 `gorm:"column:maximum_discount;type:decimal(15,2)" json:"maximum_discount"` // percentage type only

	IsActive    bool   `gorm:"column:is_active;default:true" json:"is_active"`
	Description string `gorm:"column:description;size:255" json:"description"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// DiscountUsage records one redemption of a code by one order
type DiscountUsage struct {
	ID             uint          `gorm:"column:id;primaryKey" json:"id"`
	DiscountCodeID uint          `gorm:"column:discount_code_id;not null;uniqueIndex:idx_discount_order" json:"discount_code_id"`
	DiscountCode   *DiscountCode `gorm:"foreignKey:DiscountCodeID" json:"-"`
	OrderID        uint          `gorm:"column:order_id;not null;uniqueIndex:idx_discount_order" json:"order_id"`
	Amount         float64       `gorm:"column:amount;type:decimal(15,2);not null" json:"amount"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (DiscountCode) TableName() string {
	return "discount_codes"
}

func (DiscountUsage) TableName() string {
	return "discount_usages"
}
