package models

import (
	"time"
)

// LicenseStatus represents the lifecycle state of a license
type LicenseStatus string

const (
	LicenseStatusPending   LicenseStatus = "pending"
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

// LicenseScope defines what a single activation binds to
type LicenseScope string

const (
	LicenseScopeInstallation LicenseScope = "installation"
	LicenseScopeJournal      LicenseScope = "journal"
)

// LicenseType represents the commercial license variant
type LicenseType string

const (
	LicenseTypeSingleSite    LicenseType = "single_site"
	LicenseTypeSingleJournal LicenseType = "single_journal"
	LicenseTypeMultiSite     LicenseType = "multi_site"
	LicenseTypeMultiJournal  LicenseType = "multi_journal"
	LicenseTypeUnlimited     LicenseType = "unlimited"
)

// LicenseDuration represents the validity period purchased
type LicenseDuration string

const (
	LicenseDuration1Year    LicenseDuration = "1y"
	LicenseDuration2Years   LicenseDuration = "2y"
	LicenseDurationLifetime LicenseDuration = "lifetime"
)

// UnlimitedActivations is the max_activations value used for unlimited
// licenses. Slot accounting still runs, the limit just never binds.
const UnlimitedActivations = 1 << 30

// License represents an issued entitlement for a purchased add-on
type License struct {
	ID  uint   `gorm:"column:id;primaryKey" json:"id"`
	Key string `gorm:"column:key;size:30;uniqueIndex;not null" json:"key"`

	// Ownership
	CustomerID uint      `gorm:"column:customer_id;not null;index" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	OrderID    *uint     `gorm:"column:order_id;index" json:"order_id"`
	ProductID  uint      `gorm:"column:product_id;not null" json:"product_id"`
	Product    *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`

	// Entitlement snapshot, copied from the product at issuance so later
	// catalog edits never change what was sold
	Scope          LicenseScope    `gorm:"column:scope;size:20;not null" json:"scope"`
	Type           LicenseType     `gorm:"column:type;size:20;not null" json:"type"`
	Duration       LicenseDuration `gorm:"column:duration;size:10;not null" json:"duration"`
	MaxActivations int             `gorm:"column:max_activations;not null;default:1" json:"max_activations"`

	Status    LicenseStatus `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	IssuedAt  time.Time     `gorm:"column:issued_at" json:"issued_at"`
	ExpiresAt *time.Time    `gorm:"column:expires_at;index" json:"expires_at"` // nil = lifetime

	Notes     string    `gorm:"column:notes;size:500" json:"notes"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// EffectiveStatus derives the status as of now, overriding a stored
// "active" that has silently run past its expiry. Suspended and revoked
// always win over expiry so admin holds are not lost.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	if l.Status == LicenseStatusActive && l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return LicenseStatusExpired
	}
	return l.Status
}

// IsLifetime reports whether the license never expires
func (l *License) IsLifetime() bool {
	return l.ExpiresAt == nil
}

// Activation represents one installation site holding a slot of a license
type Activation struct {
	ID        uint     `gorm:"column:id;primaryKey" json:"id"`
	LicenseID uint     `gorm:"column:license_id;not null;index" json:"license_id"`
	License   *License `gorm:"foreignKey:LicenseID" json:"license,omitempty"`

	Domain        string `gorm:"column:domain;size:255;not null;index" json:"domain"`
	JournalPath   string `gorm:"column:journal_path;size:255" json:"journal_path"` // set iff scope=journal
	ClientVersion string `gorm:"column:client_version;size:50" json:"client_version"`
	ClientIP      string `gorm:"column:client_ip;size:50" json:"client_ip"`

	ActivatedAt   time.Time  `gorm:"column:activated_at" json:"activated_at"`
	LastCheckAt   time.Time  `gorm:"column:last_check_at" json:"last_check_at"`
	DeactivatedAt *time.Time `gorm:"column:deactivated_at;index" json:"deactivated_at"` // nil while the slot is held
}

// IsOpen reports whether the activation still holds a slot
func (a *Activation) IsOpen() bool {
	return a.DeactivatedAt == nil
}

func (License) TableName() string {
	return "licenses"
}

func (Activation) TableName() string {
	return "activations"
}
