package types

import "time"

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's email address, unique across accounts.
	// Stored trimmed and lower-cased.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role indicates the user's authorization level
	// within the system ("admin" or "user").
	Role string `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role values recognized by the authorization layer.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// UserUpdate is a validated partial update for a user record.
// Nil fields are left untouched by the service layer.
type UserUpdate struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
}

// WithoutRole returns a copy of the update with the role change removed.
// The receiver is not modified.
func (u UserUpdate) WithoutRole() UserUpdate {
	u.Role = nil
	return u
}
