package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/jobs"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, f ListFilter) ([]User, int, error)
	Get(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u NewUser) (*User, error)
	Update(ctx context.Context, id string, in UpdateInput, role access.Role) (*User, error)
	Delete(ctx context.Context, id string) error
	ExistingEmails(ctx context.Context, emails []string) (map[string]bool, error)
	CountByRole(ctx context.Context) (map[access.Role]int, error)
}

// Inviter issues set-password tokens.
type Inviter interface {
	Issue(userID string) (string, error)
}

// MailQueue enqueues outgoing e-mail.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	inviter  Inviter
	mail     MailQueue
	audit    shared.Auditor
	logger   *slog.Logger
	baseURL  string
	validate *validator.Validate
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repo    RepositoryPort
	Inviter Inviter
	Mail    MailQueue
	Audit   shared.Auditor
	Logger  *slog.Logger
	BaseURL string
}

// NewService builds Service instance.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     cfg.Repo,
		inviter:  cfg.Inviter,
		mail:     cfg.Mail,
		audit:    cfg.Audit,
		logger:   logger,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		validate: validator.New(),
	}
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, f ListFilter) ([]User, shared.Pagination, error) {
	if f.PerPage <= 0 {
		f.PerPage = shared.DefaultPerPage
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(f.Page, f.PerPage, total), nil
}

// Get fetches one user.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.Get(ctx, id)
}

// Create validates in, stores the account and queues its invitation.
func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*User, error) {
	nu, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, nu)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "user.create", created.ID, map[string]any{"email": created.Email, "role": string(created.Role)})
	s.invite(ctx, created)
	return created, nil
}

// prepare validates and normalises a create request.
func (s *Service) prepare(in CreateInput) (NewUser, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.Subject = strings.TrimSpace(in.Subject)
	in.Grade = strings.TrimSpace(in.Grade)
	if err := s.validate.Struct(in); err != nil {
		return NewUser{}, fieldError(err)
	}
	role, err := access.ParseRole(in.Role)
	if err != nil {
		return NewUser{}, shared.Invalid("role", fmt.Sprintf("Unknown role %q. Use teacher, administrator or super_user.", in.Role))
	}
	return NewUser{
		ID:       uuid.NewString(),
		Email:    in.Email,
		FullName: in.FullName,
		Role:     role,
		Subject:  in.Subject,
		Grade:    in.Grade,
	}, nil
}

// Update changes a user. Super users cannot remove their own access.
func (s *Service) Update(ctx context.Context, actorID, id string, in UpdateInput) (*User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if err := s.validate.Struct(in); err != nil {
		return nil, fieldError(err)
	}
	role, err := access.ParseRole(in.Role)
	if err != nil {
		return nil, shared.Invalid("role", fmt.Sprintf("Unknown role %q.", in.Role))
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == actorID {
		if role != current.Role {
			return nil, shared.Invalid("role", "You cannot change your own role.")
		}
		if !in.IsActive {
			return nil, shared.Invalid("is_active", "You cannot deactivate your own account.")
		}
	}
	updated, err := s.repo.Update(ctx, id, in, role)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{"email": updated.Email}
	if current.Role != role {
		meta["role_from"] = string(current.Role)
		meta["role_to"] = string(role)
	}
	if current.IsActive != in.IsActive {
		meta["active"] = in.IsActive
	}
	s.record(ctx, actorID, "user.update", id, meta)
	return updated, nil
}

// Delete removes a user other than the actor.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if id == actorID {
		return shared.Invalid("", "You cannot delete your own account.")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "user.delete", id, nil)
	return nil
}

// ResendInvite queues a fresh invitation for a user who has not set a
// password yet.
func (s *Service) ResendInvite(ctx context.Context, actorID, id string) error {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.HasPassword {
		return shared.Invalid("", "This user has already set a password.")
	}
	if !s.invite(ctx, u) {
		return errors.New("users: invitation could not be queued")
	}
	s.record(ctx, actorID, "user.invite", id, nil)
	return nil
}

// CountByRole reports active users per role.
func (s *Service) CountByRole(ctx context.Context) (map[access.Role]int, error) {
	return s.repo.CountByRole(ctx)
}

// invite queues the set-password e-mail. Failures are logged; the account
// stays usable and the invitation can be re-sent.
func (s *Service) invite(ctx context.Context, u *User) bool {
	if s.inviter == nil || s.mail == nil {
		return false
	}
	token, err := s.inviter.Issue(u.ID)
	if err != nil {
		s.logger.Error("issue invite token", slog.String("user_id", u.ID), slog.Any("error", err))
		return false
	}
	link := s.baseURL + "/auth/set-password?token=" + url.QueryEscape(token)
	payload := jobs.SendEmailPayload{
		To:      u.Email,
		ToName:  u.FullName,
		Subject: "You have been invited to TET Bloom",
		Body: fmt.Sprintf("Hello %s,\n\nAn account was created for you as %s.\nSet your password here: %s\n",
			u.FullName, u.Role.Label(), link),
		Kind: "invite",
	}
	if err := s.mail.EnqueueSendEmail(ctx, payload); err != nil {
		s.logger.Error("enqueue invite", slog.String("user_id", u.ID), slog.Any("error", err))
		return false
	}
	return true
}

func (s *Service) record(ctx context.Context, actorID, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{ActorID: actorID, Action: action, Entity: "user", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if field == "fullname" {
		field = "full_name"
	}
	switch fe.Tag() {
	case "required":
		return shared.Invalid(field, fieldLabel(field)+" is required.")
	case "email":
		return shared.Invalid(field, "Email address is not valid.")
	case "max":
		return shared.Invalid(field, fmt.Sprintf("%s must be at most %s characters.", fieldLabel(field), fe.Param()))
	default:
		return shared.Invalid(field, fieldLabel(field)+" is not valid.")
	}
}

func fieldLabel(field string) string {
	switch field {
	case "full_name":
		return "Name"
	case "email":
		return "Email"
	case "role":
		return "Role"
	case "subject":
		return "Subject"
	case "grade":
		return "Grade"
	default:
		return field
	}
}
