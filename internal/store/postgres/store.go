package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type Store struct {
	pool       *pgxpool.Pool
	workspaces *WorkspaceRepo
	members    *MemberRepo
	invites    *InviteRepo
	drafts     *DraftRepo
	tasks      *TaskRepo
	captures   *CaptureRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:       pool,
		workspaces: NewWorkspaceRepo(pool),
		members:    NewMemberRepo(pool),
		invites:    NewInviteRepo(pool),
		drafts:     NewDraftRepo(pool),
		tasks:      NewTaskRepo(pool),
		captures:   NewCaptureRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Workspaces() domain.WorkspaceRepository    { return s.workspaces }
func (s *Store) Members() domain.WorkspaceMemberRepository { return s.members }
func (s *Store) Invites() domain.WorkspaceInviteRepository { return s.invites }
func (s *Store) Drafts() domain.TaskDraftRepository        { return s.drafts }
func (s *Store) Tasks() domain.TaskRepository              { return s.tasks }
func (s *Store) Captures() domain.PendingCaptureRepository { return s.captures }

const uniqueViolation = "23505"

// isUniqueViolation recognizes a duplicate-key fault. Only the two
// documented creation races translate it into control flow; everywhere
// else it propagates.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
