package observations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/jobs"
)

// Repository persists observations and feedback in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const observationSelect = `SELECT o.id::text, o.teacher_id::text, t.full_name, t.email, o.observer_id::text, ob.full_name,
	o.kind, o.status, o.scheduled_at, COALESCE(o.notes, ''), o.notification_sent_at, o.reminder_sent_at, o.created_at, o.updated_at,
	f.observation_id IS NOT NULL, COALESCE(f.author_id::text, ''), COALESCE(f.glows, '{}'), COALESCE(f.grows, '{}'),
	f.acknowledged_at, COALESCE(f.review_status, 'none'), COALESCE(f.review_note, ''), COALESCE(f.review_response, ''),
	COALESCE(f.created_at, o.created_at), COALESCE(f.updated_at, o.updated_at)
	FROM observations o
	JOIN users t ON t.id = o.teacher_id
	JOIN users ob ON ob.id = o.observer_id
	LEFT JOIN observation_feedback f ON f.observation_id = o.id`

func queryWhere(q Query) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if q.TeacherID != "" {
		add("o.teacher_id::text = $%d", q.TeacherID)
	}
	if q.ObserverID != "" {
		add("o.observer_id::text = $%d", q.ObserverID)
	}
	if q.Status != "" {
		add("o.status = $%d", string(q.Status))
	}
	if !q.From.IsZero() {
		add("o.scheduled_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("o.scheduled_at < $%d", q.To)
	}
	if q.WithFeedback {
		clauses = append(clauses, "f.observation_id IS NOT NULL")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns one page of observations matching q and the total count.
func (r *Repository) List(ctx context.Context, q Query) ([]Observation, int, error) {
	where, args := queryWhere(q)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observations o LEFT JOIN observation_feedback f ON f.observation_id = o.id`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("observations: count: %w", err)
	}
	page := shared.NewPagination(q.Page, q.PerPage, total)
	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	args = append(args, page.PerPage, page.Offset())
	sql := fmt.Sprintf(`%s%s ORDER BY o.scheduled_at %s LIMIT $%d OFFSET $%d`, observationSelect, where, order, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("observations: list: %w", err)
	}
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// Count returns the number of observations matching q.
func (r *Repository) Count(ctx context.Context, q Query) (int, error) {
	where, args := queryWhere(q)
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observations o LEFT JOIN observation_feedback f ON f.observation_id = o.id`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("observations: count: %w", err)
	}
	return n, nil
}

// Get loads one observation with its feedback.
func (r *Repository) Get(ctx context.Context, id string) (*Observation, error) {
	return scanObservation(r.pool.QueryRow(ctx, observationSelect+` WHERE o.id::text = $1`, id))
}

// Create inserts a scheduled observation.
func (r *Repository) Create(ctx context.Context, n NewObservation) (*Observation, error) {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO observations (id, teacher_id, observer_id, kind, status, scheduled_at, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		n.ID, n.TeacherID, n.ObserverID, string(n.Kind), string(StatusScheduled), n.ScheduledAt, n.Notes); err != nil {
		return nil, fmt.Errorf("observations: insert: %w", err)
	}
	return r.Get(ctx, n.ID)
}

// UpdateStatus moves id from one status to another. It fails with
// ErrInvalidTransition when the stored status is no longer from.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE observations SET status = $3, updated_at = NOW() WHERE id::text = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("observations: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SaveFeedback inserts or replaces the glows and grows of an observation.
// Replacing feedback clears any acknowledgement and review.
func (r *Repository) SaveFeedback(ctx context.Context, f Feedback) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO observation_feedback (observation_id, author_id, glows, grows, review_status)
		 VALUES ($1, $2, $3, $4, 'none')
		 ON CONFLICT (observation_id) DO UPDATE SET
		   author_id = EXCLUDED.author_id, glows = EXCLUDED.glows, grows = EXCLUDED.grows,
		   acknowledged_at = NULL, review_status = 'none', review_note = NULL, review_response = NULL,
		   updated_at = NOW()`,
		f.ObservationID, f.AuthorID, f.Glows, f.Grows)
	if err != nil {
		return fmt.Errorf("observations: save feedback: %w", err)
	}
	return nil
}

// Acknowledge marks feedback as read and accepted by the teacher.
func (r *Repository) Acknowledge(ctx context.Context, id string, at time.Time) error {
	return r.updateFeedback(ctx, `acknowledged_at = $2`, id, at)
}

// RequestReview records the teacher's review request.
func (r *Repository) RequestReview(ctx context.Context, id, note string) error {
	return r.updateFeedback(ctx, `review_status = 'requested', review_note = $2, review_response = NULL`, id, note)
}

// ResolveReview records the reply to a review request.
func (r *Repository) ResolveReview(ctx context.Context, id, response string) error {
	return r.updateFeedback(ctx, `review_status = 'resolved', review_response = $2`, id, response)
}

func (r *Repository) updateFeedback(ctx context.Context, set, id string, arg any) error {
	tag, err := r.pool.Exec(ctx, `UPDATE observation_feedback SET `+set+`, updated_at = NOW() WHERE observation_id::text = $1`, id, arg)
	if err != nil {
		return fmt.Errorf("observations: update feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// NoticeFor implements jobs.ObservationSource.
func (r *Repository) NoticeFor(ctx context.Context, id string) (*jobs.ObservationNotice, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, jobs.ErrNoticeNotFound
		}
		return nil, err
	}
	n := notice(*o)
	return &n, nil
}

// MarkNotified implements jobs.ObservationSource.
func (r *Repository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE observations SET notification_sent_at = $2 WHERE id::text = $1`, id, at)
	return err
}

// DueReminders implements jobs.ObservationSource.
func (r *Repository) DueReminders(ctx context.Context, from, to time.Time) ([]jobs.ObservationNotice, error) {
	rows, err := r.pool.Query(ctx,
		observationSelect+` WHERE o.status = $1 AND o.scheduled_at >= $2 AND o.scheduled_at < $3 AND o.reminder_sent_at IS NULL
		 ORDER BY o.scheduled_at`, string(StatusScheduled), from, to)
	if err != nil {
		return nil, fmt.Errorf("observations: due reminders: %w", err)
	}
	defer rows.Close()
	var out []jobs.ObservationNotice
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, notice(*o))
	}
	return out, rows.Err()
}

// MarkReminded implements jobs.ObservationSource.
func (r *Repository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE observations SET reminder_sent_at = $2 WHERE id::text = $1`, id, at)
	return err
}

func notice(o Observation) jobs.ObservationNotice {
	return jobs.ObservationNotice{
		ObservationID: o.ID,
		TeacherEmail:  o.TeacherEmail,
		TeacherName:   o.TeacherName,
		ObserverName:  o.ObserverName,
		Kind:          o.Kind.Label(),
		Status:        string(o.Status),
		ScheduledAt:   o.ScheduledAt,
		NotifiedAt:    o.NotifiedAt,
	}
}

func scanObservation(row pgx.Row) (*Observation, error) {
	var (
		o           Observation
		f           Feedback
		kind        string
		status      string
		review      string
		hasFeedback bool
	)
	err := row.Scan(&o.ID, &o.TeacherID, &o.TeacherName, &o.TeacherEmail, &o.ObserverID, &o.ObserverName,
		&kind, &status, &o.ScheduledAt, &o.Notes, &o.NotifiedAt, &o.RemindedAt, &o.CreatedAt, &o.UpdatedAt,
		&hasFeedback, &f.AuthorID, &f.Glows, &f.Grows, &f.AcknowledgedAt, &review, &f.ReviewNote, &f.ReviewResponse,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	o.Kind = Kind(kind)
	o.Status = Status(status)
	if hasFeedback {
		f.ObservationID = o.ID
		f.Review = ReviewStatus(review)
		o.Feedback = &f
	}
	return &o, nil
}

var (
	_ RepositoryPort         = (*Repository)(nil)
	_ jobs.ObservationSource = (*Repository)(nil)
)
