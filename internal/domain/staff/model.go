// Package staff holds hospital user accounts and signs the tokens the rest
// of the API authenticates with.
package staff

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID  `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          string     `json:"role"`
	Department    string     `json:"department,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	BranchID      int        `json:"branch_id"`
	Active        bool       `json:"is_active"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type RegisterInput struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Phone      string `json:"phone"`
	BranchID   int    `json:"branch_id"`
}

// Session is returned by register and login.
type Session struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Update is the admin edit of an account. Passwords change only through
// ChangePassword.
type Update struct {
	Email      *string `json:"email"`
	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	Role       *string `json:"role"`
	Department *string `json:"department"`
	Phone      *string `json:"phone"`
	BranchID   *int    `json:"branch_id"`
	Active     *bool   `json:"is_active"`
}

type Filter struct {
	Role   string
	Active *bool
	Search string
}
