package models

import "time"

// Role gates what a dashboard user may do.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleOwner      Role = "owner"
)

// User is a dashboard account. PasswordHash is a bcrypt hash and never
// leaves the server.
type User struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Username        string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email           *string   `gorm:"uniqueIndex;size:255" json:"email"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	ProfileImageURL string    `json:"profileImageUrl"`
	Role            Role      `gorm:"size:16;not null;default:operator" json:"role"`
	PasswordHash    string    `gorm:"not null" json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
