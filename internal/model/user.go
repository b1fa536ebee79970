package model

import "time"

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account that can authenticate against the site.
// Guest users are always RoleUser.
type User struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Username         string    `json:"username" gorm:"size:255;not null"`
	PasswordHash     string    `json:"-" gorm:"size:255;not null"`
	Role             Role      `json:"role" gorm:"size:16;not null;default:'USER'"`
	IsGuest          bool      `json:"isGuest" gorm:"not null;default:false"`
	RegistrationDate time.Time `json:"registrationDate" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user holds the ADMIN role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
