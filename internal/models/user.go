package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the platform.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// User represents a platform user.
type User struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Password      string    `json:"-"`
	Role          Role      `json:"role"`
	RollNumber    string    `json:"roll_number,omitempty"`
	ProfilePicURL string    `json:"profile_pic_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	RollNumber    string    `json:"roll_number,omitempty"`
	ProfilePicURL string    `json:"profile_pic_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		RollNumber:    u.RollNumber,
		ProfilePicURL: u.ProfilePicURL,
		CreatedAt:     u.CreatedAt,
	}
}

// Principal is the authenticated caller of a core operation.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the principal holds the admin capability.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsStudent reports whether the principal is a student.
func (p Principal) IsStudent() bool { return p.Role == RoleStudent }
