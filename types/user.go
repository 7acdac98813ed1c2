package types

import "time"

// User represents an account in the system.
// It contains identity fields and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Firstname is the user's given name.
	Firstname string `json:"firstname" db:"firstname"`

	// Lastname is the user's family name.
	Lastname string `json:"lastname" db:"lastname"`

	// Email is the user's email address and login key.
	// It is unique across all users.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
