package users

import (
	"time"

	"github.com/tetbloom/tetbloom/internal/access"
)

// User is a managed account as shown in User Management.
type User struct {
	ID          string
	Email       string
	FullName    string
	Role        access.Role
	Subject     string
	Grade       string
	IsActive    bool
	HasPassword bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status is the label shown in the users table.
func (u User) Status() string {
	switch {
	case !u.IsActive:
		return "Inactive"
	case !u.HasPassword:
		return "Invited"
	default:
		return "Active"
	}
}

// ListFilter narrows the users listing.
type ListFilter struct {
	Query   string
	Role    access.Role
	Page    int
	PerPage int
}

// CreateInput is the data required to create an account.
type CreateInput struct {
	Email    string `validate:"required,email,max=254"`
	FullName string `validate:"required,max=120"`
	Role     string `validate:"required"`
	Subject  string `validate:"max=80"`
	Grade    string `validate:"max=40"`
}

// UpdateInput changes an existing account.
type UpdateInput struct {
	FullName string `validate:"required,max=120"`
	Role     string `validate:"required"`
	Subject  string `validate:"max=80"`
	Grade    string `validate:"max=40"`
	IsActive bool
}

// NewUser is a validated row ready for insertion.
type NewUser struct {
	ID       string
	Email    string
	FullName string
	Role     access.Role
	Subject  string
	Grade    string
}
