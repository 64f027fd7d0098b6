package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/db"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id::text, email, full_name, role, COALESCE(subject, ''), COALESCE(grade, ''), is_active, password_hash IS NOT NULL, created_at, updated_at`

// List returns one page of users matching f and the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]User, int, error) {
	where, args := listWhere(f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY full_name, email LIMIT $%d OFFSET $%d`, userColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

func listWhere(f ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		clauses = append(clauses, fmt.Sprintf("(lower(full_name) LIKE $%d OR lower(email) LIKE $%d)", len(args), len(args)))
	}
	if f.Role != "" {
		args = append(args, string(f.Role))
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Get fetches one user.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id::text = $1`, id))
}

// Create inserts u. A taken e-mail yields shared.ErrDuplicate.
func (r *Repository) Create(ctx context.Context, u NewUser) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, full_name, role, subject, grade, is_active)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), TRUE)
		 RETURNING `+userColumns,
		u.ID, u.Email, u.FullName, string(u.Role), u.Subject, u.Grade)
	created, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("users: %s: %w", u.Email, shared.ErrDuplicate)
		}
		return nil, err
	}
	return created, nil
}

// Update stores in for user id.
func (r *Repository) Update(ctx context.Context, id string, in UpdateInput, role access.Role) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET full_name = $2, role = $3, subject = NULLIF($4, ''), grade = NULLIF($5, ''), is_active = $6, updated_at = NOW()
		 WHERE id::text = $1 RETURNING `+userColumns,
		id, in.FullName, string(role), in.Subject, in.Grade, in.IsActive)
	return scanUser(row)
}

// Delete removes a user.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ExistingEmails returns which of emails are already registered, lower-cased.
func (r *Repository) ExistingEmails(ctx context.Context, emails []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(emails) == 0 {
		return found, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT lower(email) FROM users WHERE lower(email) = ANY($1)`, emails)
	if err != nil {
		return nil, fmt.Errorf("users: existing emails: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		found[email] = true
	}
	return found, rows.Err()
}

// CountByRole returns active users per role.
func (r *Repository) CountByRole(ctx context.Context) (map[access.Role]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*) FROM users WHERE is_active GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("users: count by role: %w", err)
	}
	defer rows.Close()
	counts := make(map[access.Role]int)
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[access.NormalizeRole(role)] += n
	}
	return counts, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.Subject, &u.Grade, &u.IsActive, &u.HasPassword, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	u.Role = access.NormalizeRole(role)
	return &u, nil
}

var _ RepositoryPort = (*Repository)(nil)
