package models

import (
	"time"

	"gorm.io/gorm"
)

// UserType represents the type of back-office user
type UserType string

const (
	UserTypeAdmin    UserType = "admin"
	UserTypeStaff    UserType = "staff"
	UserTypeReadonly UserType = "readonly"
)

// User represents a back-office user (admin or support staff)
type User struct {
	ID       uint   `gorm:"column:id;primaryKey" json:"id"`
	Username string `gorm:"column:username;uniqueIndex;size:100;not null" json:"username"`
	Password string `gorm:"column:password;size:255;not null" json:"-"`
	Email    string `gorm:"column:email;size:255" json:"email"`
	FullName string `gorm:"column:full_name;size:255" json:"full_name"`

	UserType  UserType   `gorm:"column:user_type;size:20;default:staff" json:"user_type"`
	IsActive  bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastLogin *time.Time `gorm:"column:last_login" json:"last_login"`

	// 2FA fields
	TwoFactorEnabled bool   `gorm:"column:two_factor_enabled;default:false" json:"two_factor_enabled"`
	TwoFactorSecret  string `gorm:"column:two_factor_secret;size:255" json:"-"`

	ForcePasswordChange bool `gorm:"column:force_password_change;default:false" json:"force_password_change"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (User) TableName() string {
	return "users"
}
