package auth

import (
	"time"

	"github.com/tetbloom/tetbloom/internal/access"
)

// Account is a stored user profile with its credentials.
type Account struct {
	ID           string
	Email        string
	FullName     string
	Role         access.Role
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccessUser projects the account onto the identity used by access checks.
func (a Account) AccessUser() access.User {
	return access.User{
		ID:       a.ID,
		Email:    a.Email,
		Role:     access.NormalizeRole(string(a.Role)),
		FullName: a.FullName,
	}
}

// HasPassword reports whether the invitation has been accepted.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}
