package access

import (
	"slices"
)

// Permission is a named capability checked before an action or render.
type Permission string

// Permissions known to the application.
const (
	PermManageUsers           Permission = "manage_users"
	PermManageGroups          Permission = "manage_groups"
	PermViewAllObservations   Permission = "view_all_observations"
	PermViewGroupObservations Permission = "view_group_observations"
	PermViewOwnObservations   Permission = "view_own_observations"
	PermCreateObservations    Permission = "create_observations"
	PermViewReports           Permission = "view_reports"
	PermApproveObservations   Permission = "approve_observations"
	PermRequestReview         Permission = "request_review"
	PermHandleReviewRequests  Permission = "handle_review_requests"
	PermSubmitLessonPlans     Permission = "submit_lesson_plans"
	PermReviewLessonPlans     Permission = "review_lesson_plans"
)

// AllPermissions lists every permission name.
func AllPermissions() []Permission {
	return []Permission{
		PermManageUsers,
		PermManageGroups,
		PermViewAllObservations,
		PermViewGroupObservations,
		PermViewOwnObservations,
		PermCreateObservations,
		PermViewReports,
		PermApproveObservations,
		PermRequestReview,
		PermHandleReviewRequests,
		PermSubmitLessonPlans,
		PermReviewLessonPlans,
	}
}

// NavigationEntry is a single sidebar link.
type NavigationEntry struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Icon  string `json:"icon"`
}

// RoleDefinition describes what a role sees and may do.
type RoleDefinition struct {
	Navigation  []NavigationEntry
	Permissions []Permission
}

// Registry holds the role → navigation/permission mapping. It is never
// mutated after construction.
type Registry struct {
	navigation  map[Role][]NavigationEntry
	permissions map[Role]map[Permission]struct{}
}

// NewRegistry copies defs into a read-only registry. Definitions keyed by a
// role that does not normalize to a canonical role are dropped.
func NewRegistry(defs map[Role]RoleDefinition) *Registry {
	reg := &Registry{
		navigation:  make(map[Role][]NavigationEntry, len(defs)),
		permissions: make(map[Role]map[Permission]struct{}, len(defs)),
	}
	for role, def := range defs {
		role = NormalizeRole(string(role))
		if role == "" {
			continue
		}
		reg.navigation[role] = slices.Clone(def.Navigation)
		granted := make(map[Permission]struct{}, len(def.Permissions))
		for _, p := range def.Permissions {
			granted[p] = struct{}{}
		}
		reg.permissions[role] = granted
	}
	return reg
}

var defaultRegistry = NewRegistry(map[Role]RoleDefinition{
	RoleSuperUser: {
		Navigation: []NavigationEntry{
			{Label: "Dashboard", Path: "/super", Icon: "layout-dashboard"},
			{Label: "User Management", Path: "/super/users", Icon: "users"},
			{Label: "Observation Groups", Path: "/super/groups", Icon: "folder"},
			{Label: "Observations", Path: "/super/observations", Icon: "clipboard-list"},
			{Label: "Lesson Plans", Path: "/super/lesson-plans", Icon: "book-open"},
			{Label: "Help & Docs", Path: "/super/help", Icon: "help-circle"},
		},
		Permissions: []Permission{
			PermManageUsers,
			PermManageGroups,
			PermViewAllObservations,
			PermCreateObservations,
			PermViewReports,
			PermApproveObservations,
			PermRequestReview,
			PermHandleReviewRequests,
			PermReviewLessonPlans,
		},
	},
	RoleAdministrator: {
		Navigation: []NavigationEntry{
			{Label: "Overview", Path: "/administrator", Icon: "layout-dashboard"},
			{Label: "Observation Groups", Path: "/administrator/groups", Icon: "folder"},
			{Label: "Observations", Path: "/administrator/observations", Icon: "clipboard-list"},
			{Label: "Schedule", Path: "/administrator/observations/schedule", Icon: "calendar"},
			{Label: "Lesson Plans", Path: "/administrator/lesson-plans", Icon: "book-open"},
			{Label: "Help & Docs", Path: "/administrator/help", Icon: "help-circle"},
		},
		Permissions: []Permission{
			PermManageGroups,
			PermViewGroupObservations,
			PermCreateObservations,
			PermViewReports,
			PermHandleReviewRequests,
			PermReviewLessonPlans,
		},
	},
	RoleTeacher: {
		Navigation: []NavigationEntry{
			{Label: "Dashboard", Path: "/teacher", Icon: "layout-dashboard"},
			{Label: "My Observations", Path: "/teacher/observations", Icon: "clipboard-list"},
			{Label: "Feedback", Path: "/teacher/feedback", Icon: "message-square"},
			{Label: "Lesson Plans", Path: "/teacher/lesson-plans", Icon: "book-open"},
			{Label: "Help & Docs", Path: "/teacher/help", Icon: "help-circle"},
		},
		Permissions: []Permission{
			PermViewOwnObservations,
			PermApproveObservations,
			PermRequestReview,
			PermSubmitLessonPlans,
		},
	},
})

// DefaultRegistry returns the registry built from the application's role table.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NavigationFor returns the ordered sidebar entries for role. Unknown roles
// get an empty slice.
func (r *Registry) NavigationFor(role Role) []NavigationEntry {
	if r == nil {
		return []NavigationEntry{}
	}
	entries, ok := r.navigation[NormalizeRole(string(role))]
	if !ok {
		return []NavigationEntry{}
	}
	return slices.Clone(entries)
}

// PermissionsFor returns the sorted permissions granted to role.
func (r *Registry) PermissionsFor(role Role) []Permission {
	if r == nil {
		return []Permission{}
	}
	granted := r.permissions[NormalizeRole(string(role))]
	perms := make([]Permission, 0, len(granted))
	for p := range granted {
		perms = append(perms, p)
	}
	slices.Sort(perms)
	return perms
}

// Grants reports whether role holds perm.
func (r *Registry) Grants(role Role, perm Permission) bool {
	if r == nil {
		return false
	}
	_, ok := r.permissions[NormalizeRole(string(role))][perm]
	return ok
}
