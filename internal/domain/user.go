package domain

import (
	"time"

	"gorm.io/gorm"
)

// Staff roles. Admins may do everything staff can.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// User is a studio staff account allowed to read bookings
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Username       string     `gorm:"uniqueIndex;not null" json:"username"`
	Email          string     `gorm:"uniqueIndex;not null" json:"email"`
	HashedPassword string     `gorm:"not null" json:"-"`
	DisplayName    *string    `json:"display_name"`
	Role           string     `gorm:"not null;default:'staff'" json:"role"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLogin      *time.Time `json:"last_login"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "staff_users"
}

// HasScope reports whether the user's role grants scope
func (u *User) HasScope(scope string) bool {
	switch scope {
	case RoleAdmin:
		return u.Role == RoleAdmin
	case RoleStaff:
		return u.Role == RoleStaff || u.Role == RoleAdmin
	}
	return false
}

// BeforeCreate hook
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = RoleStaff
	}
	return nil
}

// BeforeUpdate hook
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
