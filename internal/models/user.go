package models

import "time"

// UserRole distinguishes the two scan roles.
type UserRole string

const (
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// User is the read-mostly identity a tag resolves to. The admin application
// owns writes; the gate only reads.
type User struct {
	ID             string    `db:"id" json:"id"`
	FullName       string    `db:"full_name" json:"full_name"`
	RegNumber      string    `db:"reg_number" json:"reg_number"`
	Role           UserRole  `db:"role" json:"role"`
	ClassID        *string   `db:"class_id" json:"class_id,omitempty"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	RFIDTag        string    `db:"rfid_tag" json:"rfid_tag"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Contactable reports whether the user can receive direct messages.
func (u *User) Contactable() bool {
	return u != nil && u.Phone != nil && *u.Phone != ""
}
