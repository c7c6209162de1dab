package memory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chatops/taskline/internal/domain"
)

type memberKey struct {
	workspaceID uuid.UUID
	userID      int64
}

type sourceKey struct {
	chatID    int64
	messageID int
}

// Store is an in-memory implementation of the repository contracts. One
// mutex guards all maps, so the transactional transitions serialize the
// same way the SQL store's row locks do. It backs tests and the
// no-database dev mode.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock

	workspaces   map[uuid.UUID]*domain.Workspace
	members      map[memberKey]*domain.WorkspaceMember
	invites      map[string]*domain.WorkspaceInvite
	drafts       map[uuid.UUID]*domain.TaskDraft
	draftByToken map[string]uuid.UUID
	tasks        map[uuid.UUID]*domain.Task
	taskBySource map[sourceKey]uuid.UUID
	actions      map[string]*domain.TaskAction
	captures     map[int64]*domain.PendingCapture
}

// New creates an empty Store.
func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:        clock,
		workspaces:   make(map[uuid.UUID]*domain.Workspace),
		members:      make(map[memberKey]*domain.WorkspaceMember),
		invites:      make(map[string]*domain.WorkspaceInvite),
		drafts:       make(map[uuid.UUID]*domain.TaskDraft),
		draftByToken: make(map[string]uuid.UUID),
		tasks:        make(map[uuid.UUID]*domain.Task),
		taskBySource: make(map[sourceKey]uuid.UUID),
		actions:      make(map[string]*domain.TaskAction),
		captures:     make(map[int64]*domain.PendingCapture),
	}
}

func (s *Store) Workspaces() domain.WorkspaceRepository { return &workspaceRepo{s: s} }

func (s *Store) Members() domain.WorkspaceMemberRepository { return &memberRepo{s: s} }

func (s *Store) Invites() domain.WorkspaceInviteRepository { return &inviteRepo{s: s} }

func (s *Store) Drafts() domain.TaskDraftRepository { return &draftRepo{s: s} }

func (s *Store) Tasks() domain.TaskRepository { return &taskRepo{s: s} }

func (s *Store) Captures() domain.PendingCaptureRepository { return &captureRepo{s: s} }

// Clone helpers return defensive copies so callers never share map-backed
// memory across the lock boundary.

func cloneWorkspace(w *domain.Workspace) *domain.Workspace {
	out := *w
	if w.OwnerUserID != nil {
		v := *w.OwnerUserID
		out.OwnerUserID = &v
	}
	return &out
}

func cloneMember(m *domain.WorkspaceMember) *domain.WorkspaceMember {
	out := *m
	return &out
}

func cloneInvite(i *domain.WorkspaceInvite) *domain.WorkspaceInvite {
	out := *i
	if i.ExpiresAt != nil {
		v := *i.ExpiresAt
		out.ExpiresAt = &v
	}
	return &out
}

func cloneDraft(d *domain.TaskDraft) *domain.TaskDraft {
	out := *d
	if d.CreatedTaskID != nil {
		v := *d.CreatedTaskID
		out.CreatedTaskID = &v
	}
	if d.WorkspaceID != nil {
		v := *d.WorkspaceID
		out.WorkspaceID = &v
	}
	if d.AssigneeUserID != nil {
		v := *d.AssigneeUserID
		out.AssigneeUserID = &v
	}
	if d.Priority != nil {
		v := *d.Priority
		out.Priority = &v
	}
	if d.DeadlineAt != nil {
		v := *d.DeadlineAt
		out.DeadlineAt = &v
	}
	return &out
}

func cloneTask(t *domain.Task) *domain.Task {
	out := *t
	if t.DraftID != nil {
		v := *t.DraftID
		out.DraftID = &v
	}
	if t.WorkspaceID != nil {
		v := *t.WorkspaceID
		out.WorkspaceID = &v
	}
	if t.DeadlineAt != nil {
		v := *t.DeadlineAt
		out.DeadlineAt = &v
	}
	if t.SubmittedForReviewAt != nil {
		v := *t.SubmittedForReviewAt
		out.SubmittedForReviewAt = &v
	}
	if t.LastReturnAt != nil {
		v := *t.LastReturnAt
		out.LastReturnAt = &v
	}
	if t.LastReturnByUserID != nil {
		v := *t.LastReturnByUserID
		out.LastReturnByUserID = &v
	}
	return &out
}

func cloneCapture(c *domain.PendingCapture) *domain.PendingCapture {
	out := *c
	if c.DraftID != nil {
		v := *c.DraftID
		out.DraftID = &v
	}
	if c.TaskID != nil {
		v := *c.TaskID
		out.TaskID = &v
	}
	return &out
}
