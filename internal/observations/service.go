package observations

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/groups"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// RepositoryPort is the storage used by Service.
type RepositoryPort interface {
	List(ctx context.Context, q Query) ([]Observation, int, error)
	Count(ctx context.Context, q Query) (int, error)
	Get(ctx context.Context, id string) (*Observation, error)
	Create(ctx context.Context, n NewObservation) (*Observation, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	SaveFeedback(ctx context.Context, f Feedback) error
	Acknowledge(ctx context.Context, id string, at time.Time) error
	RequestReview(ctx context.Context, id, note string) error
	ResolveReview(ctx context.Context, id, response string) error
}

// Directory lists who may observe and be observed by a viewer.
type Directory interface {
	Options(ctx context.Context, v groups.Viewer) (observers, teachers []groups.Person, err error)
}

// Notifier queues the scheduling e-mail.
type Notifier interface {
	EnqueueObservationNotify(ctx context.Context, observationID string) error
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repo      RepositoryPort
	Resolver  *access.Resolver
	Directory Directory
	Notifier  Notifier
	Audit     shared.Auditor
	Logger    *slog.Logger
	// Location interprets the date and time typed into the scheduling form.
	Location *time.Location
	Clock    func() time.Time
}

// Service implements scheduling, status changes and feedback.
type Service struct {
	repo      RepositoryPort
	resolver  *access.Resolver
	directory Directory
	notifier  Notifier
	audit     shared.Auditor
	logger    *slog.Logger
	location  *time.Location
	clock     func() time.Time
	validate  *validator.Validate
}

// NewService builds a Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:      cfg.Repo,
		resolver:  cfg.Resolver,
		directory: cfg.Directory,
		notifier:  cfg.Notifier,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		location:  cfg.Location,
		clock:     cfg.Clock,
		validate:  validator.New(),
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
	Page   int
}

// scope returns the query limiting sess to the observations it may see.
func (s *Service) scope(sess access.Session) (Query, error) {
	switch {
	case s.resolver.HasPermission(sess, access.PermViewAllObservations):
		return Query{}, nil
	case s.resolver.HasPermission(sess, access.PermViewGroupObservations):
		return Query{ObserverID: sess.User.ID}, nil
	case s.resolver.HasPermission(sess, access.PermViewOwnObservations):
		return Query{TeacherID: sess.User.ID}, nil
	}
	return Query{}, access.ErrForbidden
}

func (s *Service) visible(sess access.Session, o *Observation) bool {
	q, err := s.scope(sess)
	if err != nil {
		return false
	}
	return (q.ObserverID == "" || q.ObserverID == o.ObserverID) && (q.TeacherID == "" || q.TeacherID == o.TeacherID)
}

// List returns the observations sess may see, newest first.
func (s *Service) List(ctx context.Context, sess access.Session, f ListFilter) ([]Observation, shared.Pagination, error) {
	q, err := s.scope(sess)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	q.Status = f.Status
	q.Page = max(f.Page, 1)
	q.PerPage = shared.DefaultPerPage
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(q.Page, q.PerPage, total), nil
}

// Upcoming returns scheduled observations in the next days, soonest first.
func (s *Service) Upcoming(ctx context.Context, sess access.Session, days int) ([]Observation, error) {
	q, err := s.scope(sess)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	q.Status = StatusScheduled
	q.From = now
	q.To = now.AddDate(0, 0, max(days, 1))
	q.Ascending = true
	q.Page, q.PerPage = 1, 100
	items, _, err := s.repo.List(ctx, q)
	return items, err
}

// WithFeedback lists observations that carry feedback, newest first.
func (s *Service) WithFeedback(ctx context.Context, sess access.Session, page int) ([]Observation, shared.Pagination, error) {
	q, err := s.scope(sess)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	q.WithFeedback = true
	q.Page = max(page, 1)
	q.PerPage = shared.DefaultPerPage
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(q.Page, q.PerPage, total), nil
}

// CountUpcoming counts scheduled observations from now on.
func (s *Service) CountUpcoming(ctx context.Context, sess access.Session) (int, error) {
	q, err := s.scope(sess)
	if err != nil {
		return 0, err
	}
	q.Status = StatusScheduled
	q.From = s.clock()
	return s.repo.Count(ctx, q)
}

// CountStatus counts visible observations in status.
func (s *Service) CountStatus(ctx context.Context, sess access.Session, status Status) (int, error) {
	q, err := s.scope(sess)
	if err != nil {
		return 0, err
	}
	q.Status = status
	return s.repo.Count(ctx, q)
}

// Get returns one visible observation.
func (s *Service) Get(ctx context.Context, sess access.Session, id string) (*Observation, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.visible(sess, o) {
		return nil, shared.ErrNotFound
	}
	return o, nil
}

// Options lists the observers and teachers sess may schedule.
func (s *Service) Options(ctx context.Context, sess access.Session) (observers, teachers []groups.Person, err error) {
	if !s.resolver.HasPermission(sess, access.PermCreateObservations) {
		return nil, nil, access.ErrForbidden
	}
	return s.directory.Options(ctx, groups.Viewer{ID: sess.User.ID, Role: sess.Role()})
}

// Schedule creates an observation and queues the teacher's notification.
func (s *Service) Schedule(ctx context.Context, sess access.Session, in ScheduleInput) (*Observation, error) {
	observers, teachers, err := s.Options(ctx, sess)
	if err != nil {
		return nil, err
	}
	in.Notes = strings.TrimSpace(in.Notes)
	if in.ObserverID == "" {
		in.ObserverID = sess.User.ID
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fieldError(err)
	}
	kind, ok := ParseKind(in.Kind)
	if !ok {
		return nil, shared.Invalid("kind", "Choose formal or walk-through.")
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", in.Date+" "+in.Time, s.location)
	if err != nil {
		return nil, shared.Invalid("date", "Enter a valid date and time.")
	}
	if !at.After(s.clock()) {
		return nil, shared.Invalid("date", "Choose a date and time in the future.")
	}
	if !slices.ContainsFunc(teachers, func(p groups.Person) bool { return p.ID == in.TeacherID }) {
		return nil, shared.Invalid("teacher_id", "Choose an active teacher.")
	}
	if !slices.ContainsFunc(observers, func(p groups.Person) bool { return p.ID == in.ObserverID }) {
		return nil, shared.Invalid("observer_id", "Choose an observer you may schedule for.")
	}

	o, err := s.repo.Create(ctx, NewObservation{
		ID:          uuid.NewString(),
		TeacherID:   in.TeacherID,
		ObserverID:  in.ObserverID,
		Kind:        kind,
		ScheduledAt: at.UTC(),
		Notes:       in.Notes,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, sess, "observation.schedule", o.ID, map[string]any{"teacher_id": o.TeacherID, "kind": string(kind)})
	if s.notifier != nil {
		if err := s.notifier.EnqueueObservationNotify(ctx, o.ID); err != nil {
			s.logger.Error("enqueue observation notify", slog.String("observation_id", o.ID), slog.Any("error", err))
		}
	}
	return o, nil
}

// Transition changes the status of an observation the caller observes.
func (s *Service) Transition(ctx context.Context, sess access.Session, id string, to Status) (*Observation, error) {
	o, err := s.observed(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, ErrInvalidTransition
	}
	if err := s.repo.UpdateStatus(ctx, id, o.Status, to); err != nil {
		return nil, err
	}
	s.record(ctx, sess, "observation.status", id, map[string]any{"from": string(o.Status), "to": string(to)})
	o.Status = to
	return o, nil
}

// RecordFeedback stores glows and grows for a completed observation.
func (s *Service) RecordFeedback(ctx context.Context, sess access.Session, id string, glows, grows []string) error {
	o, err := s.observed(ctx, sess, id)
	if err != nil {
		return err
	}
	if o.Status != StatusCompleted {
		return shared.Invalid("", "Feedback can be recorded once the observation is completed.")
	}
	glows, grows = cleanLines(glows), cleanLines(grows)
	if len(glows) == 0 {
		return shared.Invalid("glows", "Add at least one glow.")
	}
	if len(grows) == 0 {
		return shared.Invalid("grows", "Add at least one grow.")
	}
	if err := s.repo.SaveFeedback(ctx, Feedback{ObservationID: id, AuthorID: sess.User.ID, Glows: glows, Grows: grows}); err != nil {
		return err
	}
	s.record(ctx, sess, "observation.feedback", id, map[string]any{"glows": len(glows), "grows": len(grows)})
	return nil
}

// Acknowledge marks feedback as accepted by the observed teacher.
func (s *Service) Acknowledge(ctx context.Context, sess access.Session, id string) error {
	o, err := s.teacherFeedback(ctx, sess, id, access.PermApproveObservations)
	if err != nil {
		return err
	}
	if o.Feedback.AcknowledgedAt != nil {
		return nil
	}
	if err := s.repo.Acknowledge(ctx, id, s.clock().UTC()); err != nil {
		return err
	}
	s.record(ctx, sess, "observation.acknowledge", id, nil)
	return nil
}

// RequestReview asks the observer to revisit the feedback.
func (s *Service) RequestReview(ctx context.Context, sess access.Session, id, note string) error {
	o, err := s.teacherFeedback(ctx, sess, id, access.PermRequestReview)
	if err != nil {
		return err
	}
	if o.Feedback.Review == ReviewRequested {
		return shared.Invalid("", "A review has already been requested.")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return shared.Invalid("note", "Explain what should be reviewed.")
	}
	if len(note) > 1000 {
		return shared.Invalid("note", "Keep the note under 1000 characters.")
	}
	if err := s.repo.RequestReview(ctx, id, note); err != nil {
		return err
	}
	s.record(ctx, sess, "observation.review_request", id, nil)
	return nil
}

// ResolveReview answers an open review request.
func (s *Service) ResolveReview(ctx context.Context, sess access.Session, id, response string) error {
	if !s.resolver.HasPermission(sess, access.PermHandleReviewRequests) {
		return access.ErrForbidden
	}
	o, err := s.Get(ctx, sess, id)
	if err != nil {
		return err
	}
	if o.Feedback == nil || o.Feedback.Review != ReviewRequested {
		return shared.Invalid("", "There is no open review request.")
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return shared.Invalid("response", "Write a response for the teacher.")
	}
	if err := s.repo.ResolveReview(ctx, id, response); err != nil {
		return err
	}
	s.record(ctx, sess, "observation.review_resolve", id, nil)
	return nil
}

// observed loads an observation the caller may manage as observer.
func (s *Service) observed(ctx context.Context, sess access.Session, id string) (*Observation, error) {
	if !s.resolver.HasPermission(sess, access.PermCreateObservations) {
		return nil, access.ErrForbidden
	}
	o, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if o.ObserverID != sess.User.ID && !s.resolver.HasPermission(sess, access.PermViewAllObservations) {
		return nil, access.ErrForbidden
	}
	return o, nil
}

// teacherFeedback loads feedback on the caller's own observation.
func (s *Service) teacherFeedback(ctx context.Context, sess access.Session, id string, perm access.Permission) (*Observation, error) {
	if !s.resolver.HasPermission(sess, perm) {
		return nil, access.ErrForbidden
	}
	o, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if o.TeacherID != sess.User.ID && !s.resolver.HasPermission(sess, access.PermViewAllObservations) {
		return nil, access.ErrForbidden
	}
	if o.Feedback == nil {
		return nil, shared.Invalid("", "No feedback has been recorded yet.")
	}
	return o, nil
}

func (s *Service) record(ctx context.Context, sess access.Session, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := ""
	if sess.User != nil {
		actor = sess.User.ID
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{ActorID: actor, Action: action, Entity: "observation", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

// SplitLines turns a textarea into trimmed, non-empty lines.
func SplitLines(text string) []string {
	return cleanLines(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].StructField() {
	case "TeacherID":
		return shared.Invalid("teacher_id", "Choose a teacher.")
	case "ObserverID":
		return shared.Invalid("observer_id", "Choose an observer.")
	case "Date":
		return shared.Invalid("date", "Enter a date as YYYY-MM-DD.")
	case "Time":
		return shared.Invalid("time", "Enter a time as HH:MM.")
	case "Kind":
		return shared.Invalid("kind", "Choose formal or walk-through.")
	default:
		return shared.Invalid("notes", "Notes must be at most 2000 characters.")
	}
}
