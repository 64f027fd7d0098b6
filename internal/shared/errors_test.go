package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

func TestUserSafeMessage(t *testing.T) {
	assert.Equal(t, "", UserSafeMessage(nil))
	assert.Equal(t, "email is required", UserSafeMessage(fmt.Errorf("create: %w", Invalid("email", "email is required"))))
	assert.Equal(t, "Invalid email or password.", UserSafeMessage(ErrInvalidCredentials))
	assert.Equal(t, "A record with the same value already exists.", UserSafeMessage(fmt.Errorf("users: %w", ErrDuplicate)))
	assert.Equal(t, "Something went wrong. Please try again.", UserSafeMessage(errors.New("pq: connection reset")))
}

func TestSharedErrorsMapToStatus(t *testing.T) {
	assert.Equal(t, 404, httpx.StatusFor(ErrNotFound))
	assert.Equal(t, 409, httpx.StatusFor(ErrDuplicate))
	assert.Equal(t, 401, httpx.StatusFor(ErrInvalidCredentials))
	assert.Equal(t, 400, httpx.StatusFor(Invalid("role", "unknown role")))
}

func TestPagination(t *testing.T) {
	p := NewPagination(2, 10, 35)
	assert.Equal(t, 4, p.TotalPages)
	assert.Equal(t, 10, p.Offset())
	assert.True(t, p.HasPrev())
	assert.True(t, p.HasNext())

	p = NewPagination(0, 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPerPage, p.PerPage)
	assert.False(t, p.HasNext())
}
