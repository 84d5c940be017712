package models

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus represents the overall status of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus represents the payment verification state of an order
type PaymentStatus string

const (
	PaymentStatusUnpaid              PaymentStatus = "unpaid"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	PaymentStatusPaid                PaymentStatus = "paid"
	PaymentStatusRejected            PaymentStatus = "rejected"
)

// ProofStatus represents the review state of a submitted payment proof
type ProofStatus string

const (
	ProofStatusPending  ProofStatus = "pending"
	ProofStatusVerified ProofStatus = "verified"
	ProofStatusRejected ProofStatus = "rejected"
)

// Order represents a customer purchase of one or more add-ons
type Order struct {
	ID          uint      `gorm:"column:id;primaryKey" json:"id"`
	OrderNumber string    `gorm:"column:order_number;size:30;uniqueIndex;not null" json:"order_number"`
	CustomerID  uint      `gorm:"column:customer_id;not null;index" json:"customer_id"`
	Customer    *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	// Amounts
	SubTotal    float64 `gorm:"column:sub_total;type:decimal(15,2);not null" json:"sub_total"`
	Discount    float64 `gorm:"column:discount;type:decimal(15,2);default:0" json:"discount"`
	Tax         float64 `gorm:"column:tax;type:decimal(15,2);default:0" json:"tax"`
	TotalAmount float64 `gorm:"column:total_amount;type:decimal(15,2);not null" json:"total_amount"`

	// Status
	Status          OrderStatus   `gorm:"column:status;size:20;default:pending;index" json:"status"`
	PaymentStatus   PaymentStatus `gorm:"column:payment_status;size:30;default:unpaid;index" json:"payment_status"`
	PaymentDeadline time.Time     `gorm:"column:payment_deadline" json:"payment_deadline"`

	// Discount code reference
	DiscountCodeID *uint         `gorm:"column:discount_code_id;index" json:"discount_code_id"`
	DiscountCode   *DiscountCode `gorm:"foreignKey:DiscountCodeID" json:"discount_code,omitempty"`

	Items    []OrderItem   `gorm:"foreignKey:OrderID" json:"items"`
	Proof    *PaymentProof `gorm:"foreignKey:OrderID" json:"proof,omitempty"`
	Licenses []License     `gorm:"foreignKey:OrderID" json:"licenses,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// OrderItem represents one add-on line in an order. UnitPrice and
// ProductName are snapshots taken at checkout; price changes in the
// catalog never rewrite existing orders.
type OrderItem struct {
	ID          uint     `gorm:"column:id;primaryKey" json:"id"`
	OrderID     uint     `gorm:"column:order_id;not null;index" json:"order_id"`
	ProductID   uint     `gorm:"column:product_id;not null" json:"product_id"`
	Product     *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	ProductName string   `gorm:"column:product_name;size:255;not null" json:"product_name"`
	UnitPrice   float64  `gorm:"column:unit_price;type:decimal(15,2);not null" json:"unit_price"`
	Quantity    int      `gorm:"column:quantity;default:1" json:"quantity"`
	Total       float64  `gorm:"column:total;type:decimal(15,2);not null" json:"total"`
}

// PaymentProof represents a bank transfer receipt submitted for an order
type PaymentProof struct {
	ID      uint   `gorm:"column:id;primaryKey" json:"id"`
	OrderID uint   `gorm:"column:order_id;uniqueIndex;not null" json:"order_id"`
	Order   *Order `gorm:"foreignKey:OrderID" json:"-"`

	BankName       string    `gorm:"column:bank_name;size:100" json:"bank_name"`
	AccountName    string    `gorm:"column:account_name;size:255" json:"account_name"`
	TransferAmount float64   `gorm:"column:transfer_amount;type:decimal(15,2);not null" json:"transfer_amount"`
	TransferDate   time.Time `gorm:"column:transfer_date" json:"transfer_date"`

	// Opaque reference into the external blob store; never interpreted here
	ImageRef string `gorm:"column:image_ref;size:255" json:"image_ref"`

	Status          ProofStatus `gorm:"column:status;size:20;default:pending;index" json:"status"`
	VerifiedAt      *time.Time  `gorm:"column:verified_at" json:"verified_at"`
	VerifiedBy      *uint       `gorm:"column:verified_by" json:"verified_by"`
	RejectionReason string      `gorm:"column:rejection_reason;size:500" json:"rejection_reason"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (PaymentProof) TableName() string {
	return "payment_proofs"
}
