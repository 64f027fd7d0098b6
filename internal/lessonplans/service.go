package lessonplans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/jobs"
)

// RepositoryPort is the storage used by Service.
type RepositoryPort interface {
	List(ctx context.Context, q Query) ([]LessonPlan, int, error)
	CountByStatus(ctx context.Context, q Query) (Counts, error)
	Get(ctx context.Context, id string) (*LessonPlan, error)
	Create(ctx context.Context, n NewLessonPlan) (*LessonPlan, error)
	Submit(ctx context.Context, id string, from Status, doc *Document, at time.Time) error
	SaveReview(ctx context.Context, r Review) error
	Document(ctx context.Context, id string) (*Document, error)
	// Leads reports whether reviewerID leads a group teacherID belongs to.
	Leads(ctx context.Context, reviewerID, teacherID string) (bool, error)
}

// MailQueue enqueues the review e-mail.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repo     RepositoryPort
	Resolver *access.Resolver
	Mail     MailQueue
	Audit    shared.Auditor
	Logger   *slog.Logger
	BaseURL  string
	// Location decides which day is today for due dates.
	Location *time.Location
	Clock    func() time.Time
}

// Service implements lesson plan submission and review.
type Service struct {
	repo     RepositoryPort
	resolver *access.Resolver
	mail     MailQueue
	audit    shared.Auditor
	logger   *slog.Logger
	baseURL  string
	location *time.Location
	clock    func() time.Time
	validate *validator.Validate
}

// NewService builds a Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:     cfg.Repo,
		resolver: cfg.Resolver,
		mail:     cfg.Mail,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		location: cfg.Location,
		clock:    cfg.Clock,
		validate: validator.New(),
	}
	if s.resolver == nil {
		s.resolver = access.NewResolver(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// ListFilter narrows a listing.
type ListFilter struct {
	Status Status
	Search string
	Page   int
}

// scope returns the query limiting sess to the plans it may see. Reviewers
// with the school-wide observation view see every plan.
func (s *Service) scope(sess access.Session) (Query, error) {
	switch {
	case s.resolver.HasPermission(sess, access.PermReviewLessonPlans) && s.resolver.HasPermission(sess, access.PermViewAllObservations):
		return Query{}, nil
	case s.resolver.HasPermission(sess, access.PermReviewLessonPlans):
		return Query{ReviewerID: sess.User.ID}, nil
	case s.resolver.HasPermission(sess, access.PermSubmitLessonPlans):
		return Query{TeacherID: sess.User.ID}, nil
	}
	return Query{}, access.ErrForbidden
}

// List returns the plans sess may see, most recently changed first.
func (s *Service) List(ctx context.Context, sess access.Session, f ListFilter) ([]LessonPlan, shared.Pagination, error) {
	q, err := s.scope(sess)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	q.Status = f.Status
	q.Search = strings.TrimSpace(f.Search)
	q.Page = max(f.Page, 1)
	q.PerPage = shared.DefaultPerPage
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(q.Page, q.PerPage, total), nil
}

// Counts returns the visible plans per status.
func (s *Service) Counts(ctx context.Context, sess access.Session) (Counts, error) {
	q, err := s.scope(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.CountByStatus(ctx, q)
}

// CountStatus counts visible plans in status.
func (s *Service) CountStatus(ctx context.Context, sess access.Session, status Status) (int, error) {
	counts, err := s.Counts(ctx, sess)
	if err != nil {
		return 0, err
	}
	return counts[status], nil
}

// Get returns one visible plan. Plans outside the caller's scope are
// reported as missing.
func (s *Service) Get(ctx context.Context, sess access.Session, id string) (*LessonPlan, error) {
	q, err := s.scope(sess)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrNotFound
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case q.TeacherID != "" && p.TeacherID != q.TeacherID:
		return nil, shared.ErrNotFound
	case q.ReviewerID != "":
		ok, err := s.repo.Leads(ctx, q.ReviewerID, p.TeacherID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, shared.ErrNotFound
		}
	}
	return p, nil
}

// Document returns the uploaded file of a visible plan.
func (s *Service) Document(ctx context.Context, sess access.Session, id string) (*Document, error) {
	p, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if p.File == nil {
		return nil, shared.ErrNotFound
	}
	return s.repo.Document(ctx, id)
}

// Overdue reports whether p is past its due date today.
func (s *Service) Overdue(p LessonPlan) bool {
	return p.Overdue(s.clock(), s.location)
}

// Create stores a new plan for the calling teacher. With a document the
// plan goes straight to review, otherwise it stays pending.
func (s *Service) Create(ctx context.Context, sess access.Session, in CreateInput, doc *Document) (*LessonPlan, error) {
	if !s.resolver.HasPermission(sess, access.PermSubmitLessonPlans) {
		return nil, access.ErrForbidden
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Subject = strings.TrimSpace(in.Subject)
	in.Grade = strings.TrimSpace(in.Grade)
	in.DueDate = strings.TrimSpace(in.DueDate)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return nil, fieldError(err)
	}
	n := NewLessonPlan{
		ID:          uuid.NewString(),
		TeacherID:   sess.User.ID,
		Title:       in.Title,
		Subject:     in.Subject,
		Grade:       in.Grade,
		Description: in.Description,
		Status:      StatusPending,
	}
	if in.DueDate != "" {
		due, err := time.Parse("2006-01-02", in.DueDate)
		if err != nil {
			return nil, shared.Invalid("due_date", "Enter a date as YYYY-MM-DD.")
		}
		n.DueDate = due
	}
	if doc != nil {
		at := s.clock().UTC()
		n.Status = StatusSubmitted
		n.Document = doc
		n.SubmittedAt = &at
	}
	p, err := s.repo.Create(ctx, n)
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess, "lesson_plan.create", p.ID, map[string]any{"status": string(p.Status)})
	return p, nil
}

// Submit uploads the document of a pending plan or a revision.
func (s *Service) Submit(ctx context.Context, sess access.Session, id string, doc *Document) (*LessonPlan, error) {
	if !s.resolver.HasPermission(sess, access.PermSubmitLessonPlans) {
		return nil, access.ErrForbidden
	}
	if doc == nil {
		return nil, shared.Invalid("file", "Choose a file to upload.")
	}
	p, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if p.TeacherID != sess.User.ID {
		return nil, access.ErrForbidden
	}
	if !CanTransition(p.Status, StatusSubmitted) {
		return nil, ErrInvalidTransition
	}
	at := s.clock().UTC()
	if err := s.repo.Submit(ctx, id, p.Status, doc, at); err != nil {
		return nil, err
	}
	s.record(ctx, sess, "lesson_plan.submit", id, map[string]any{"from": string(p.Status), "file": doc.Name})
	p.Status = StatusSubmitted
	p.File = &doc.FileInfo
	p.SubmittedAt = &at
	return p, nil
}

// Review records approved or needs_revision with a comment and e-mails the
// teacher.
func (s *Service) Review(ctx context.Context, sess access.Session, id string, decision Status, comment string) (*LessonPlan, error) {
	if !s.resolver.HasPermission(sess, access.PermReviewLessonPlans) {
		return nil, access.ErrForbidden
	}
	if decision != StatusApproved && decision != StatusNeedsRevision {
		return nil, shared.Invalid("decision", "Choose approved or needs revision.")
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, shared.Invalid("comment", "Write a comment for the teacher.")
	}
	if len(comment) > 2000 {
		return nil, shared.Invalid("comment", "Keep the comment under 2000 characters.")
	}
	p, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.Reviewable() {
		return nil, ErrInvalidTransition
	}
	if p.Status != decision && !CanTransition(p.Status, decision) {
		return nil, ErrInvalidTransition
	}
	at := s.clock().UTC()
	if err := s.repo.SaveReview(ctx, Review{PlanID: id, ReviewerID: sess.User.ID, From: p.Status, Decision: decision, Comment: comment, At: at}); err != nil {
		return nil, err
	}
	s.record(ctx, sess, "lesson_plan.review", id, map[string]any{"from": string(p.Status), "to": string(decision)})
	p.Status = decision
	p.ReviewerID = sess.User.ID
	p.ReviewerName = sess.User.FullName
	p.ReviewComment = comment
	p.ReviewedAt = &at
	s.notify(ctx, *p)
	return p, nil
}

// notify queues the review outcome. A queue failure is logged only.
func (s *Service) notify(ctx context.Context, p LessonPlan) {
	if s.mail == nil || p.TeacherEmail == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nYour lesson plan %q was reviewed: %s.\n\n%s\n", p.TeacherName, p.Title, p.Status.Label(), p.ReviewComment)
	if s.baseURL != "" {
		fmt.Fprintf(&b, "\nDetails: %s/teacher/lesson-plans/%s\n", s.baseURL, p.ID)
	}
	err := s.mail.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      p.TeacherEmail,
		ToName:  p.TeacherName,
		Subject: "Lesson plan " + strings.ToLower(p.Status.Label()) + ": " + p.Title,
		Body:    b.String(),
		Kind:    "lesson_plan_review",
	})
	if err != nil {
		s.logger.Error("enqueue lesson plan review mail", slog.String("lesson_plan_id", p.ID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, sess access.Session, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := ""
	if sess.User != nil {
		actor = sess.User.ID
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{ActorID: actor, Action: action, Entity: "lesson_plan", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].StructField() {
	case "Title":
		if verrs[0].Tag() == "required" {
			return shared.Invalid("title", "Give the plan a title.")
		}
		return shared.Invalid("title", "Titles must be at most 200 characters.")
	case "Subject":
		return shared.Invalid("subject", "Subjects must be at most 100 characters.")
	case "Grade":
		return shared.Invalid("grade", "Grades must be at most 50 characters.")
	case "DueDate":
		return shared.Invalid("due_date", "Enter a date as YYYY-MM-DD.")
	default:
		return shared.Invalid("description", "Descriptions must be at most 2000 characters.")
	}
}
