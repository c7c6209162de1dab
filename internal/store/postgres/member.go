package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type MemberRepo struct {
	pool *pgxpool.Pool
}

func NewMemberRepo(pool *pgxpool.Pool) *MemberRepo {
	return &MemberRepo{pool: pool}
}

const memberColumns = `workspace_id, user_id, role, status, first_name, last_name, username, joined_at, last_seen_at`

func (r *MemberRepo) Upsert(ctx context.Context, m *domain.WorkspaceMember) (*domain.WorkspaceMember, error) {
	// Re-joining re-activates the existing row and refreshes the profile
	// snapshot. The owner role is sticky: an upsert never downgrades it.
	out, err := scanMember(r.pool.QueryRow(ctx,
		`INSERT INTO workspace_members (`+memberColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET
			role = CASE WHEN workspace_members.role = 'owner' THEN workspace_members.role ELSE EXCLUDED.role END,
			status = EXCLUDED.status,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			username = EXCLUDED.username,
			last_seen_at = EXCLUDED.last_seen_at
		 RETURNING `+memberColumns,
		m.WorkspaceID, m.UserID, m.Role, m.Status,
		m.Profile.FirstName, m.Profile.LastName, m.Profile.Username,
		m.JoinedAt, m.LastSeenAt,
	))
	if err != nil {
		return nil, fmt.Errorf("memberRepo.Upsert: %w", err)
	}

	return out, nil
}

func (r *MemberRepo) Get(ctx context.Context, workspaceID uuid.UUID, userID int64) (*domain.WorkspaceMember, error) {
	m, err := scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM workspace_members
		 WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memberRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("memberRepo.Get: %w", err)
	}

	return m, nil
}

func (r *MemberRepo) GetActive(ctx context.Context, workspaceID uuid.UUID, userID int64) (*domain.WorkspaceMember, error) {
	m, err := scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM workspace_members
		 WHERE workspace_id = $1 AND user_id = $2 AND status = $3`,
		workspaceID, userID, domain.MemberStatusActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memberRepo.GetActive: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("memberRepo.GetActive: %w", err)
	}

	return m, nil
}

func (r *MemberRepo) ListActive(ctx context.Context, workspaceID uuid.UUID) ([]*domain.WorkspaceMember, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM workspace_members
		 WHERE workspace_id = $1 AND status = $2
		 ORDER BY joined_at`,
		workspaceID, domain.MemberStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("memberRepo.ListActive: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkspaceMember
	for rows.Next() {
		m, scanErr := scanMember(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("memberRepo.ListActive: scan: %w", scanErr)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memberRepo.ListActive: rows: %w", err)
	}

	return out, nil
}

func (r *MemberRepo) LatestForUser(ctx context.Context, userID int64) (*domain.WorkspaceMember, error) {
	m, err := scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM workspace_members
		 WHERE user_id = $1 AND status = $2
		 ORDER BY last_seen_at DESC
		 LIMIT 1`,
		userID, domain.MemberStatusActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memberRepo.LatestForUser: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("memberRepo.LatestForUser: %w", err)
	}

	return m, nil
}

func (r *MemberRepo) SetStatus(ctx context.Context, workspaceID uuid.UUID, userID int64, status domain.MemberStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workspace_members SET status = $1, last_seen_at = now()
		 WHERE workspace_id = $2 AND user_id = $3`,
		status, workspaceID, userID,
	)
	if err != nil {
		return fmt.Errorf("memberRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memberRepo.SetStatus: %w", domain.ErrNotFound)
	}

	return nil
}

func scanMember(row pgx.Row) (*domain.WorkspaceMember, error) {
	var m domain.WorkspaceMember
	err := row.Scan(
		&m.WorkspaceID, &m.UserID, &m.Role, &m.Status,
		&m.Profile.FirstName, &m.Profile.LastName, &m.Profile.Username,
		&m.JoinedAt, &m.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
