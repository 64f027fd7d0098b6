package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/db"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// Repository persists groups in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const groupSelect = `SELECT g.id::text, g.name, COALESCE(g.description, ''), g.admin_id::text, a.full_name,
	(SELECT COUNT(*) FROM observation_group_members m WHERE m.group_id = g.id), g.created_at
	FROM observation_groups g JOIN users a ON a.id = g.admin_id`

// List returns groups ordered by name. A non-empty adminID limits the result
// to groups led by that user.
func (r *Repository) List(ctx context.Context, adminID string) ([]Group, error) {
	query := groupSelect
	var args []any
	if adminID != "" {
		query += ` WHERE g.admin_id::text = $1`
		args = append(args, adminID)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY g.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("groups: list: %w", err)
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Get loads a group with its members.
func (r *Repository) Get(ctx context.Context, id string) (*Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, groupSelect+` WHERE g.id::text = $1`, id))
	if err != nil {
		return nil, err
	}
	members, err := r.members(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return g, nil
}

// Create inserts the group and its members in one transaction.
func (r *Repository) Create(ctx context.Context, ng NewGroup) (*Group, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO observation_groups (id, name, description, admin_id) VALUES ($1, $2, NULLIF($3, ''), $4)`,
			ng.ID, ng.Name, ng.Description, ng.AdminID); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("groups: %s: %w", ng.Name, shared.ErrDuplicate)
			}
			return fmt.Errorf("groups: insert: %w", err)
		}
		return insertMembers(ctx, tx, ng.ID, ng.MemberIDs)
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, ng.ID)
}

// SetMembers replaces the member list of group id.
func (r *Repository) SetMembers(ctx context.Context, id string, memberIDs []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM observation_group_members WHERE group_id::text = $1`, id); err != nil {
			return fmt.Errorf("groups: clear members: %w", err)
		}
		return insertMembers(ctx, tx, id, memberIDs)
	})
}

// Delete removes a group; members go with it.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM observation_groups WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("groups: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// People lists active users holding role, for the group form.
func (r *Repository) People(ctx context.Context, role access.Role) ([]Person, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, full_name, email, role, COALESCE(subject, '') FROM users
		 WHERE is_active AND role = $1 ORDER BY full_name`, string(role))
	if err != nil {
		return nil, fmt.Errorf("groups: people: %w", err)
	}
	defer rows.Close()
	return scanPeople(rows)
}

// Count returns the number of groups, limited to adminID when set.
func (r *Repository) Count(ctx context.Context, adminID string) (int, error) {
	var n int
	var err error
	if adminID == "" {
		err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observation_groups`).Scan(&n)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observation_groups WHERE admin_id::text = $1`, adminID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("groups: count: %w", err)
	}
	return n, nil
}

func (r *Repository) members(ctx context.Context, q db.Querier, groupID string) ([]Person, error) {
	rows, err := q.Query(ctx,
		`SELECT u.id::text, u.full_name, u.email, u.role, COALESCE(u.subject, '')
		 FROM observation_group_members m JOIN users u ON u.id = m.teacher_id
		 WHERE m.group_id::text = $1 ORDER BY u.full_name`, groupID)
	if err != nil {
		return nil, fmt.Errorf("groups: members: %w", err)
	}
	defer rows.Close()
	return scanPeople(rows)
}

func insertMembers(ctx context.Context, tx pgx.Tx, groupID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, id := range memberIDs {
		batch.Queue(`INSERT INTO observation_group_members (group_id, teacher_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, id)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("groups: insert members: %w", err)
	}
	return nil
}

func scanGroup(row pgx.Row) (*Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.AdminID, &g.AdminName, &g.MemberCount, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func scanPeople(rows pgx.Rows) ([]Person, error) {
	var out []Person
	for rows.Next() {
		var (
			p    Person
			role string
		)
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &role, &p.Subject); err != nil {
			return nil, err
		}
		p.Role = access.NormalizeRole(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ RepositoryPort = (*Repository)(nil)
