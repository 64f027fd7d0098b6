package access

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

// Role is one of the closed set of user categories.
type Role string

// Canonical roles.
const (
	RoleSuperUser     Role = "super_user"
	RoleAdministrator Role = "administrator"
	RoleTeacher       Role = "teacher"
)

// ErrUnknownRole reports a role value outside the closed set.
var ErrUnknownRole = fmt.Errorf("access: unknown role: %w", httpx.ErrValidation)

// Legacy labels seen in older views and imports. Keys are folded and use
// underscores as separators.
var roleSynonyms = map[string]Role{
	"super_user":    RoleSuperUser,
	"superuser":     RoleSuperUser,
	"super":         RoleSuperUser,
	"super_admin":   RoleSuperUser,
	"administrator": RoleAdministrator,
	"admin":         RoleAdministrator,
	"principal":     RoleAdministrator,
	"school_leader": RoleAdministrator,
	"leader":        RoleAdministrator,
	"teacher":       RoleTeacher,
}

var roleLabels = map[Role]string{
	RoleSuperUser:     "Super Admin",
	RoleAdministrator: "Administrator",
	RoleTeacher:       "Teacher",
}

// Roles lists the canonical roles in display order.
func Roles() []Role {
	return []Role{RoleSuperUser, RoleAdministrator, RoleTeacher}
}

// NormalizeRole maps any known spelling of a role to its canonical value.
// Unknown input yields the zero Role.
func NormalizeRole(raw string) Role {
	role, _ := ParseRole(raw)
	return role
}

// ParseRole is NormalizeRole with an error for unknown input.
func ParseRole(raw string) (Role, error) {
	key := roleKey(raw)
	if key == "" {
		return "", ErrUnknownRole
	}
	if role, ok := roleSynonyms[key]; ok {
		return role, nil
	}
	return "", ErrUnknownRole
}

// IsValid reports whether r is one of the canonical roles.
func (r Role) IsValid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the human readable name shown in the sidebar.
func (r Role) Label() string {
	if label, ok := roleLabels[NormalizeRole(string(r))]; ok {
		return label
	}
	return "Unknown"
}

func (r Role) String() string {
	return string(r)
}

func roleKey(raw string) string {
	folded := cases.Fold().String(strings.TrimSpace(raw))
	fields := strings.FieldsFunc(folded, func(c rune) bool {
		return c == ' ' || c == '-' || c == '_'
	})
	return strings.Join(fields, "_")
}
