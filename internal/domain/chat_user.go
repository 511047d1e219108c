package domain

import "time"

// Role system-wide role of an account
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleHR       Role = "hr"
	RoleEmployee Role = "employee"
	RoleClient   Role = "client"
)

// IsPrivileged admin and hr may manage groups and talk to clients directly
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleHR
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleEmployee, RoleClient:
		return true
	}
	return false
}

const StatusActive = "active"

// User directory entry (users table), owned by the identity gateway
type User struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;type:varchar(64);not null;default:'';index" json:"tenant_id"`
	Role      Role      `gorm:"column:role;type:varchar(16);not null" json:"role"`
	Name      string    `gorm:"column:name;type:varchar(100)" json:"name"`
	Status    string    `gorm:"column:status;type:varchar(16);not null;default:'active'" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName returns the table name
func (User) TableName() string {
	return "users"
}

// Actor authenticated identity attached to a connection or request
type Actor struct {
	UserID        uint64 `json:"user_id"`
	TenantID      string `json:"tenant_id"`
	Role          Role   `json:"role"`
	DisplayName   string `json:"display_name"`
	AccountStatus string `json:"account_status"`
}

// IsTenantless platform-level accounts carry no tenant
func (a Actor) IsTenantless() bool {
	return a.TenantID == ""
}
