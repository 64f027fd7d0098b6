package lessonplans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetbloom/tetbloom/internal/platform/db"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// Repository persists lesson plans in PostgreSQL. Documents live in the same
// row and are only read by Document.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const planSelect = `SELECT p.id::text, p.teacher_id::text, t.full_name, t.email, p.title, COALESCE(p.subject, ''),
	COALESCE(p.grade, ''), COALESCE(p.description, ''), p.due_date, p.status,
	COALESCE(p.file_name, ''), COALESCE(p.file_type, ''), COALESCE(p.file_size, 0), p.submitted_at,
	COALESCE(p.reviewer_id::text, ''), COALESCE(rv.full_name, ''), COALESCE(p.review_comment, ''), p.reviewed_at,
	p.created_at, p.updated_at
	FROM lesson_plans p
	JOIN users t ON t.id = p.teacher_id
	LEFT JOIN users rv ON rv.id = p.reviewer_id`

const planFrom = ` FROM lesson_plans p JOIN users t ON t.id = p.teacher_id`

func queryWhere(q Query, withStatus bool) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, strings.ReplaceAll(clause, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if q.TeacherID != "" {
		add("p.teacher_id::text = $?", q.TeacherID)
	}
	if q.ReviewerID != "" {
		add(`EXISTS (SELECT 1 FROM observation_groups g JOIN observation_group_members m ON m.group_id = g.id
			WHERE g.admin_id::text = $? AND m.teacher_id = p.teacher_id)`, q.ReviewerID)
	}
	if withStatus && q.Status != "" {
		add("p.status = $?", string(q.Status))
	}
	if q.Search != "" {
		add("(p.title ILIKE $? OR p.subject ILIKE $? OR t.full_name ILIKE $?)", "%"+escapeLike(q.Search)+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List returns one page of plans matching q and the total count.
func (r *Repository) List(ctx context.Context, q Query) ([]LessonPlan, int, error) {
	where, args := queryWhere(q, true)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+planFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("lessonplans: count: %w", err)
	}
	page := shared.NewPagination(q.Page, q.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	sql := fmt.Sprintf(`%s%s ORDER BY p.updated_at DESC LIMIT $%d OFFSET $%d`, planSelect, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("lessonplans: list: %w", err)
	}
	defer rows.Close()
	var out []LessonPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// CountByStatus groups the plans matching q by status, ignoring q.Status.
func (r *Repository) CountByStatus(ctx context.Context, q Query) (Counts, error) {
	where, args := queryWhere(q, false)
	rows, err := r.pool.Query(ctx, `SELECT p.status, COUNT(*)`+planFrom+where+` GROUP BY p.status`, args...)
	if err != nil {
		return nil, fmt.Errorf("lessonplans: count by status: %w", err)
	}
	defer rows.Close()
	counts := make(Counts)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Get loads one plan without its document content.
func (r *Repository) Get(ctx context.Context, id string) (*LessonPlan, error) {
	return scanPlan(r.pool.QueryRow(ctx, planSelect+` WHERE p.id::text = $1`, id))
}

// Create inserts a plan and its optional document.
func (r *Repository) Create(ctx context.Context, n NewLessonPlan) (*LessonPlan, error) {
	var (
		due         *time.Time
		name, ctype *string
		size        *int64
		data        []byte
	)
	if !n.DueDate.IsZero() {
		due = &n.DueDate
	}
	if n.Document != nil {
		name, ctype, size, data = &n.Document.Name, &n.Document.ContentType, &n.Document.Size, n.Document.Data
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO lesson_plans (id, teacher_id, title, subject, grade, description, due_date, status,
		   file_name, file_type, file_size, file_data, submitted_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)`,
		n.ID, n.TeacherID, n.Title, n.Subject, n.Grade, n.Description, due, string(n.Status),
		name, ctype, size, data, n.SubmittedAt); err != nil {
		return nil, fmt.Errorf("lessonplans: insert: %w", err)
	}
	return r.Get(ctx, n.ID)
}

// Submit replaces the document and moves the plan from from to submitted.
func (r *Repository) Submit(ctx context.Context, id string, from Status, doc *Document, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE lesson_plans SET status = $3, file_name = $4, file_type = $5, file_size = $6, file_data = $7,
		   submitted_at = $8, updated_at = NOW()
		 WHERE id::text = $1 AND status = $2`,
		id, string(from), string(StatusSubmitted), doc.Name, doc.ContentType, doc.Size, doc.Data, at)
	if err != nil {
		return fmt.Errorf("lessonplans: submit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SaveReview stores the decision on the plan and appends it to the review
// history in one transaction.
func (r *Repository) SaveReview(ctx context.Context, rv Review) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE lesson_plans SET status = $3, reviewer_id = $4, review_comment = $5, reviewed_at = $6, updated_at = NOW()
			 WHERE id::text = $1 AND status = $2`,
			rv.PlanID, string(rv.From), string(rv.Decision), rv.ReviewerID, rv.Comment, rv.At)
		if err != nil {
			return fmt.Errorf("lessonplans: review: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidTransition
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO lesson_plan_reviews (lesson_plan_id, reviewer_id, from_status, decision, comment, reviewed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rv.PlanID, rv.ReviewerID, string(rv.From), string(rv.Decision), rv.Comment, rv.At); err != nil {
			return fmt.Errorf("lessonplans: review history: %w", err)
		}
		return nil
	})
}

// Document loads the stored file of a plan.
func (r *Repository) Document(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := r.pool.QueryRow(ctx,
		`SELECT file_name, COALESCE(file_type, 'application/octet-stream'), COALESCE(file_size, 0), file_data
		 FROM lesson_plans WHERE id::text = $1 AND file_data IS NOT NULL`, id).
		Scan(&doc.Name, &doc.ContentType, &doc.Size, &doc.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("lessonplans: document: %w", err)
	}
	return &doc, nil
}

// Leads reports whether reviewerID leads a group with teacherID as member.
func (r *Repository) Leads(ctx context.Context, reviewerID, teacherID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM observation_groups g JOIN observation_group_members m ON m.group_id = g.id
		 WHERE g.admin_id::text = $1 AND m.teacher_id::text = $2)`, reviewerID, teacherID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("lessonplans: leads: %w", err)
	}
	return ok, nil
}

func scanPlan(row pgx.Row) (*LessonPlan, error) {
	var (
		p      LessonPlan
		due    *time.Time
		status string
		file   FileInfo
	)
	err := row.Scan(&p.ID, &p.TeacherID, &p.TeacherName, &p.TeacherEmail, &p.Title, &p.Subject,
		&p.Grade, &p.Description, &due, &status,
		&file.Name, &file.ContentType, &file.Size, &p.SubmittedAt,
		&p.ReviewerID, &p.ReviewerName, &p.ReviewComment, &p.ReviewedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if due != nil {
		p.DueDate = *due
	}
	p.Status = Status(status)
	if file.Name != "" {
		p.File = &file
	}
	return &p, nil
}

var _ RepositoryPort = (*Repository)(nil)
