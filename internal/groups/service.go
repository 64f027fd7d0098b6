package groups

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// RepositoryPort is the storage used by Service.
type RepositoryPort interface {
	List(ctx context.Context, adminID string) ([]Group, error)
	Get(ctx context.Context, id string) (*Group, error)
	Create(ctx context.Context, ng NewGroup) (*Group, error)
	SetMembers(ctx context.Context, id string, memberIDs []string) error
	Delete(ctx context.Context, id string) error
	People(ctx context.Context, role access.Role) ([]Person, error)
	Count(ctx context.Context, adminID string) (int, error)
}

// Service implements group management.
type Service struct {
	repo     RepositoryPort
	audit    shared.Auditor
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds a Service.
func NewService(repo RepositoryPort, audit shared.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
}

func scope(v Viewer) string {
	if v.seesAll() {
		return ""
	}
	return v.ID
}

// List returns the groups v may see.
func (s *Service) List(ctx context.Context, v Viewer) ([]Group, error) {
	return s.repo.List(ctx, scope(v))
}

// Count returns how many groups v may see.
func (s *Service) Count(ctx context.Context, v Viewer) (int, error) {
	return s.repo.Count(ctx, scope(v))
}

// Get returns one group. Groups outside v's scope are reported as missing.
func (s *Service) Get(ctx context.Context, v Viewer, id string) (*Group, error) {
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.seesAll() && g.AdminID != v.ID {
		return nil, shared.ErrNotFound
	}
	return g, nil
}

// Options lists selectable observers and teachers. Administrators can only
// pick themselves as observer.
func (s *Service) Options(ctx context.Context, v Viewer) (observers, teachers []Person, err error) {
	observers, err = s.observers(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !v.seesAll() {
		observers = slices.DeleteFunc(observers, func(p Person) bool { return p.ID != v.ID })
	}
	teachers, err = s.repo.People(ctx, access.RoleTeacher)
	if err != nil {
		return nil, nil, err
	}
	return observers, teachers, nil
}

func (s *Service) observers(ctx context.Context) ([]Person, error) {
	admins, err := s.repo.People(ctx, access.RoleAdministrator)
	if err != nil {
		return nil, err
	}
	supers, err := s.repo.People(ctx, access.RoleSuperUser)
	if err != nil {
		return nil, err
	}
	return append(admins, supers...), nil
}

// Create validates in and stores a new group.
func (s *Service) Create(ctx context.Context, v Viewer, in CreateInput) (*Group, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if !v.seesAll() {
		in.AdminID = v.ID
	}
	in.MemberIDs = compact(in.MemberIDs)
	if err := s.validate.Struct(in); err != nil {
		return nil, fieldError(err)
	}
	observers, err := s.observers(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(observers, func(p Person) bool { return p.ID == in.AdminID }) {
		return nil, shared.Invalid("admin_id", "Choose an active administrator as observer.")
	}
	if err := s.checkMembers(ctx, in.MemberIDs); err != nil {
		return nil, err
	}
	g, err := s.repo.Create(ctx, NewGroup{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		AdminID:     in.AdminID,
		MemberIDs:   in.MemberIDs,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, v.ID, "group.create", g.ID, map[string]any{"name": g.Name, "members": len(in.MemberIDs)})
	return g, nil
}

// SetMembers replaces the teachers of a group within v's scope.
func (s *Service) SetMembers(ctx context.Context, v Viewer, id string, memberIDs []string) error {
	if _, err := s.Get(ctx, v, id); err != nil {
		return err
	}
	memberIDs = compact(memberIDs)
	if err := s.checkMembers(ctx, memberIDs); err != nil {
		return err
	}
	if err := s.repo.SetMembers(ctx, id, memberIDs); err != nil {
		return err
	}
	s.record(ctx, v.ID, "group.members", id, map[string]any{"members": len(memberIDs)})
	return nil
}

// Delete removes a group within v's scope.
func (s *Service) Delete(ctx context.Context, v Viewer, id string) error {
	if _, err := s.Get(ctx, v, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, v.ID, "group.delete", id, nil)
	return nil
}

func (s *Service) checkMembers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	teachers, err := s.repo.People(ctx, access.RoleTeacher)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(teachers))
	for _, t := range teachers {
		known[t.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return shared.Invalid("member_ids", "Members must be active teachers.")
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{ActorID: actorID, Action: action, Entity: "observation_group", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

func compact(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch fe := verrs[0]; fe.StructField() {
	case "Name":
		if fe.Tag() == "required" {
			return shared.Invalid("name", "Name is required.")
		}
		return shared.Invalid("name", "Name must be at most 120 characters.")
	case "Description":
		return shared.Invalid("description", "Description must be at most 500 characters.")
	case "AdminID":
		return shared.Invalid("admin_id", "Choose an observer.")
	default:
		return shared.Invalid("member_ids", "Members must be active teachers.")
	}
}
