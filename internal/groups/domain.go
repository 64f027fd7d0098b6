package groups

import (
	"time"

	"github.com/tetbloom/tetbloom/internal/access"
)

// Group is an observation group: one observing administrator and the
// teachers they observe.
type Group struct {
	ID          string
	Name        string
	Description string
	AdminID     string
	AdminName   string
	MemberCount int
	Members     []Person
	CreatedAt   time.Time
}

// Person is a user selectable as group administrator or member.
type Person struct {
	ID       string
	FullName string
	Email    string
	Role     access.Role
	Subject  string
}

// CreateInput is the group form.
type CreateInput struct {
	Name        string   `validate:"required,max=120"`
	Description string   `validate:"max=500"`
	AdminID     string   `validate:"required,uuid"`
	MemberIDs   []string `validate:"dive,uuid"`
}

// NewGroup is a validated group ready for insertion.
type NewGroup struct {
	ID          string
	Name        string
	Description string
	AdminID     string
	MemberIDs   []string
}

// Viewer is who is asking. Administrators are limited to groups they lead.
type Viewer struct {
	ID   string
	Role access.Role
}

func (v Viewer) seesAll() bool {
	return v.Role == access.RoleSuperUser
}
