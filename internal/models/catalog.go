package models

import (
	"time"

	"gorm.io/gorm"
)

// Product represents a purchasable add-on in the catalog. The core reads
// it at checkout and issuance time; catalog editing lives elsewhere.
type Product struct {
	ID          uint   `gorm:"column:id;primaryKey" json:"id"`
	Name        string `gorm:"column:name;size:255;not null" json:"name"`
	Slug        string `gorm:"column:slug;size:100;uniqueIndex;not null" json:"slug"`
	Description string `gorm:"column:description;type:text" json:"description"`

	Price float64 `gorm:"column:price;type:decimal(15,2);not null" json:"price"`

	// License configuration applied to every license issued for this product
	LicenseScope   LicenseScope    `gorm:"column:license_scope;size:20;not null;default:installation" json:"license_scope"`
	LicenseType    LicenseType     `gorm:"column:license_type;size:20;not null;default:single_site" json:"license_type"`
	Duration       LicenseDuration `gorm:"column:duration;size:10;not null;default:1y" json:"duration"`
	MaxActivations int             `gorm:"column:max_activations;not null;default:1" json:"max_activations"`

	IsActive  bool           `gorm:"column:is_active;default:true;index" json:"is_active"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// Customer represents a purchasing account
type Customer struct {
	ID          uint   `gorm:"column:id;primaryKey" json:"id"`
	Email       string `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	Password    string `gorm:"column:password;size:255;not null" json:"-"`
	FullName    string `gorm:"column:full_name;size:255" json:"full_name"`
	Institution string `gorm:"column:institution;size:255" json:"institution"`
	Phone       string `gorm:"column:phone;size:50" json:"phone"`
	Country     string `gorm:"column:country;size:100" json:"country"`

	IsActive  bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastLogin *time.Time `gorm:"column:last_login" json:"last_login"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Product) TableName() string {
	return "products"
}

func (Customer) TableName() string {
	return "customers"
}
