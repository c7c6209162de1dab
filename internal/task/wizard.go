package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatops/taskline/internal/domain"
)

type WizardStatus string

const (
	WizardStarted         WizardStatus = "started"
	WizardUpdated         WizardStatus = "updated"
	WizardAwaitInput      WizardStatus = "await_input"
	WizardConfirm         WizardStatus = "confirm"
	WizardCreated         WizardStatus = "created"
	WizardAlreadyExists   WizardStatus = "already_exists"
	WizardNotFound        WizardStatus = "not_found"
	WizardNotReady        WizardStatus = "not_ready"
	WizardInvalidDate     WizardStatus = "invalid_date"
	WizardInvalidAssignee WizardStatus = "invalid_assignee"
	WizardIgnored         WizardStatus = "ignored"
)

// WizardResult is the tagged outcome of a wizard step. Task is set for
// WizardCreated and WizardAlreadyExists; Draft for the in-progress states.
type WizardResult struct {
	Status WizardStatus
	Draft  *domain.TaskDraft
	Task   *domain.Task
}

// DeadlineChoice is a preset offered on the deadline step.
type DeadlineChoice string

const (
	DeadlineToday    DeadlineChoice = "today"
	DeadlineTomorrow DeadlineChoice = "tomorrow"
	DeadlineNone     DeadlineChoice = "none"
	DeadlineManual   DeadlineChoice = "manual"
)

// deadlineLayouts are the accepted manual date formats, tried in order.
var deadlineLayouts = []string{"2006-01-02", "02.01.2006"}

// GroupDraftParams describes the group-chat entry point: the message
// being turned into a task and who invoked the command.
type GroupDraftParams struct {
	ChatID        int64
	MessageID     int
	Text          string
	Link          string
	CreatorUserID int64
	WorkspaceID   *uuid.UUID
}

// CreateOrReuseGroupDraft opens the wizard for a group message. A task
// already materialized for the message short-circuits to AlreadyExists;
// a pending draft for the same (chat, message, creator) is reused so
// repeated command taps share one token.
func (s *Service) CreateOrReuseGroupDraft(ctx context.Context, p GroupDraftParams) (*WizardResult, error) {
	existing, err := s.tasks.GetBySource(ctx, p.ChatID, p.MessageID)
	if err == nil {
		return &WizardResult{Status: WizardAlreadyExists, Task: existing}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("task.CreateOrReuseGroupDraft: %w", err)
	}

	d, err := s.drafts.FindPendingBySource(ctx, p.ChatID, p.MessageID, p.CreatorUserID)
	if err == nil {
		return &WizardResult{Status: WizardStarted, Draft: d}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("task.CreateOrReuseGroupDraft: %w", err)
	}

	now := s.clock.Now()
	d = &domain.TaskDraft{
		ID:              uuid.New(),
		Token:           newToken(),
		Status:          domain.DraftStatusPending,
		Step:            domain.StepChooseAssignee,
		WorkspaceID:     p.WorkspaceID,
		SourceChatID:    p.ChatID,
		SourceMessageID: p.MessageID,
		SourceText:      p.Text,
		SourceLink:      p.Link,
		CreatorUserID:   p.CreatorUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.drafts.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("task.CreateOrReuseGroupDraft: %w", err)
	}

	return &WizardResult{Status: WizardStarted, Draft: d}, nil
}

// StartDMDraft opens a DM-only draft with no source message. The task
// body arrives as the creator's next free-text message.
func (s *Service) StartDMDraft(ctx context.Context, chatID, creatorUserID int64, workspaceID *uuid.UUID) (*WizardResult, error) {
	now := s.clock.Now()
	d := &domain.TaskDraft{
		ID:            uuid.New(),
		Token:         newToken(),
		Status:        domain.DraftStatusPending,
		Step:          domain.StepEnterText,
		WorkspaceID:   workspaceID,
		SourceChatID:  chatID,
		CreatorUserID: creatorUserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.drafts.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("task.StartDMDraft: %w", err)
	}

	return &WizardResult{Status: WizardStarted, Draft: d}, nil
}

// StartDraftWizard loads a draft by its deep-link token. Re-entry after
// finalization idempotently reports AlreadyExists with the created task;
// otherwise the draft resumes at whatever step it was on.
func (s *Service) StartDraftWizard(ctx context.Context, token string, userID int64) (*WizardResult, error) {
	d, short, err := s.guardDraft(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("task.StartDraftWizard: %w", err)
	}
	if short != nil {
		return short, nil
	}

	return &WizardResult{Status: WizardStarted, Draft: d}, nil
}

// SetDraftAssignee records the chosen assignee and advances to the
// priority step.
func (s *Service) SetDraftAssignee(ctx context.Context, token string, userID, assigneeID int64) (*WizardResult, error) {
	d, short, err := s.guardDraft(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("task.SetDraftAssignee: %w", err)
	}
	if short != nil {
		return short, nil
	}

	// Workspace drafts may only be assigned to active members.
	if d.WorkspaceID != nil {
		_, merr := s.members.GetActive(ctx, *d.WorkspaceID, assigneeID)
		if errors.Is(merr, domain.ErrNotFound) {
			return &WizardResult{Status: WizardInvalidAssignee, Draft: d}, nil
		}
		if merr != nil {
			return nil, fmt.Errorf("task.SetDraftAssignee: %w", merr)
		}
	}

	d.AssigneeUserID = &assigneeID
	if d.Step == domain.StepChooseAssignee {
		d.Step = domain.StepChoosePriority
	}
	d.UpdatedAt = s.clock.Now()

	if err := s.drafts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("task.SetDraftAssignee: %w", err)
	}

	return &WizardResult{Status: WizardUpdated, Draft: d}, nil
}

// SetDraftPriority records the chosen priority and advances to the
// deadline step.
func (s *Service) SetDraftPriority(ctx context.Context, token string, userID int64, p domain.Priority) (*WizardResult, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("task.SetDraftPriority: unknown priority %q", p)
	}

	d, short, err := s.guardDraft(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("task.SetDraftPriority: %w", err)
	}
	if short != nil {
		return short, nil
	}

	d.Priority = &p
	if d.Step == domain.StepChoosePriority {
		d.Step = domain.StepChooseDeadline
	}
	d.UpdatedAt = s.clock.Now()

	if err := s.drafts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("task.SetDraftPriority: %w", err)
	}

	return &WizardResult{Status: WizardUpdated, Draft: d}, nil
}

// SetDraftDeadlineChoice applies a deadline preset and advances to
// confirmation, or switches to manual entry and arms the creator's text
// capture for the date.
func (s *Service) SetDraftDeadlineChoice(ctx context.Context, token string, userID int64, choice DeadlineChoice) (*WizardResult, error) {
	d, short, err := s.guardDraft(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("task.SetDraftDeadlineChoice: %w", err)
	}
	if short != nil {
		return short, nil
	}

	now := s.clock.Now()

	if choice == DeadlineManual {
		d.Step = domain.StepAwaitDeadlineInput
		d.UpdatedAt = now
		if err := s.drafts.Update(ctx, d); err != nil {
			return nil, fmt.Errorf("task.SetDraftDeadlineChoice: %w", err)
		}

		draftID := d.ID
		err = s.captures.Set(ctx, &domain.PendingCapture{
			UserID:    userID,
			Kind:      domain.CaptureAwaitingDeadline,
			DraftID:   &draftID,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("task.SetDraftDeadlineChoice: %w", err)
		}

		return &WizardResult{Status: WizardAwaitInput, Draft: d}, nil
	}

	switch choice {
	case DeadlineToday:
		dl := endOfDay(now)
		d.DeadlineAt = &dl
	case DeadlineTomorrow:
		dl := endOfDay(now.AddDate(0, 0, 1))
		d.DeadlineAt = &dl
	case DeadlineNone:
		d.DeadlineAt = nil
	default:
		return nil, fmt.Errorf("task.SetDraftDeadlineChoice: unknown choice %q", choice)
	}

	d.Step = domain.StepConfirm
	d.UpdatedAt = now

	if err := s.drafts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("task.SetDraftDeadlineChoice: %w", err)
	}
	if err := s.clearDeadlineCapture(ctx, userID, d.ID); err != nil {
		return nil, fmt.Errorf("task.SetDraftDeadlineChoice: %w", err)
	}

	return &WizardResult{Status: WizardConfirm, Draft: d}, nil
}

// SetDraftDeadlineFromText parses a manually entered date for the
// creator's draft awaiting deadline input. A parse failure reports
// InvalidDate without touching the draft, so the user can retry.
func (s *Service) SetDraftDeadlineFromText(ctx context.Context, userID int64, rawText string) (*WizardResult, error) {
	d, err := s.drafts.FindPendingByStep(ctx, userID, domain.StepAwaitDeadlineInput)
	if errors.Is(err, domain.ErrNotFound) {
		return &WizardResult{Status: WizardNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task.SetDraftDeadlineFromText: %w", err)
	}

	now := s.clock.Now()
	parsed, ok := parseDeadline(rawText, now.Location())
	if !ok {
		return &WizardResult{Status: WizardInvalidDate, Draft: d}, nil
	}

	dl := endOfDay(parsed)
	d.DeadlineAt = &dl
	d.Step = domain.StepConfirm
	d.UpdatedAt = now

	if err := s.drafts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("task.SetDraftDeadlineFromText: %w", err)
	}
	if err := s.clearDeadlineCapture(ctx, userID, d.ID); err != nil {
		return nil, fmt.Errorf("task.SetDraftDeadlineFromText: %w", err)
	}

	return &WizardResult{Status: WizardConfirm, Draft: d}, nil
}

// FinalizeDraft materializes a confirm-stage draft into exactly one task.
// A concurrent finalize on the same draft or source message collapses to
// one winner; the loser observes AlreadyExists with the same task.
func (s *Service) FinalizeDraft(ctx context.Context, token string, userID int64) (*WizardResult, error) {
	d, short, err := s.guardDraft(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("task.FinalizeDraft: %w", err)
	}
	if short != nil {
		return short, nil
	}

	if d.Step != domain.StepConfirm {
		return &WizardResult{Status: WizardNotReady, Draft: d}, nil
	}

	fin, err := s.tasks.CreateFromDraft(ctx, d, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("task.FinalizeDraft: %w", err)
	}

	if err := s.clearDeadlineCapture(ctx, userID, d.ID); err != nil {
		return nil, fmt.Errorf("task.FinalizeDraft: %w", err)
	}

	if fin.Created {
		return &WizardResult{Status: WizardCreated, Task: fin.Task}, nil
	}

	return &WizardResult{Status: WizardAlreadyExists, Task: fin.Task}, nil
}

// ApplyDMDraftText fills the body of the creator's DM draft waiting for
// text and advances it to the assignee step. Ignored when no such draft
// is open.
func (s *Service) ApplyDMDraftText(ctx context.Context, userID int64, text string) (*WizardResult, error) {
	d, err := s.drafts.FindPendingByStep(ctx, userID, domain.StepEnterText)
	if errors.Is(err, domain.ErrNotFound) {
		return &WizardResult{Status: WizardIgnored}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task.ApplyDMDraftText: %w", err)
	}

	d.SourceText = text
	d.Step = domain.StepChooseAssignee
	d.UpdatedAt = s.clock.Now()

	if err := s.drafts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("task.ApplyDMDraftText: %w", err)
	}

	return &WizardResult{Status: WizardUpdated, Draft: d}, nil
}

type TextRoute string

const (
	RouteNone          TextRoute = "none"
	RouteDeadline      TextRoute = "deadline_input"
	RouteReturnComment TextRoute = "return_comment"
	RouteDraftText     TextRoute = "draft_text"
)

// TextRouting is the outcome of routing one inbound free-text message.
// Exactly one of Wizard/Transition is set, matching Route.
type TextRouting struct {
	Route      TextRoute
	Wizard     *WizardResult
	Transition *domain.TransitionResult
}

// RouteText disambiguates a private-chat free-text message: a deadline
// entry for a draft awaiting input, a return-to-work comment, or the body
// of a DM draft, in that order. Anything else is ignored.
func (s *Service) RouteText(ctx context.Context, userID int64, text string) (*TextRouting, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &TextRouting{Route: RouteNone}, nil
	}

	pc, err := s.captures.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("task.RouteText: %w", err)
	}

	if err == nil {
		switch pc.Kind {
		case domain.CaptureAwaitingDeadline:
			w, werr := s.SetDraftDeadlineFromText(ctx, userID, text)
			if werr != nil {
				return nil, fmt.Errorf("task.RouteText: %w", werr)
			}
			if w.Status == WizardNotFound {
				// The draft is gone; drop the stale capture so it stops
				// swallowing the user's messages.
				if cerr := s.captures.Clear(ctx, userID); cerr != nil {
					return nil, fmt.Errorf("task.RouteText: %w", cerr)
				}
			}
			return &TextRouting{Route: RouteDeadline, Wizard: w}, nil

		case domain.CaptureAwaitingReturnComment:
			res, routed, rerr := s.ReturnToWorkFromText(ctx, userID, text)
			if rerr != nil {
				return nil, fmt.Errorf("task.RouteText: %w", rerr)
			}
			if routed {
				return &TextRouting{Route: RouteReturnComment, Transition: res}, nil
			}
		}
	}

	w, err := s.ApplyDMDraftText(ctx, userID, text)
	if err != nil {
		return nil, fmt.Errorf("task.RouteText: %w", err)
	}
	if w.Status == WizardIgnored {
		return &TextRouting{Route: RouteNone}, nil
	}

	return &TextRouting{Route: RouteDraftText, Wizard: w}, nil
}

// guardDraft applies the shared re-entry checks: the draft must exist and
// belong to the caller; a finalized draft or an already-materialized
// source message short-circuits to AlreadyExists.
func (s *Service) guardDraft(ctx context.Context, token string, userID int64) (*domain.TaskDraft, *WizardResult, error) {
	d, err := s.drafts.GetByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &WizardResult{Status: WizardNotFound}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	// Tokens are private to their creator; anyone else sees nothing.
	if d.CreatorUserID != userID {
		return nil, &WizardResult{Status: WizardNotFound}, nil
	}

	if d.Status == domain.DraftStatusFinal && d.CreatedTaskID != nil {
		t, terr := s.tasks.GetByID(ctx, *d.CreatedTaskID)
		if terr != nil {
			return nil, nil, terr
		}
		return nil, &WizardResult{Status: WizardAlreadyExists, Task: t}, nil
	}

	if d.HasSource() {
		t, terr := s.tasks.GetBySource(ctx, d.SourceChatID, d.SourceMessageID)
		if terr == nil {
			return nil, &WizardResult{Status: WizardAlreadyExists, Task: t}, nil
		}
		if !errors.Is(terr, domain.ErrNotFound) {
			return nil, nil, terr
		}
	}

	return d, nil, nil
}

// clearDeadlineCapture drops the user's capture only when it is the
// deadline capture for this draft, leaving unrelated captures alone.
func (s *Service) clearDeadlineCapture(ctx context.Context, userID int64, draftID uuid.UUID) error {
	pc, err := s.captures.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pc.Kind != domain.CaptureAwaitingDeadline || pc.DraftID == nil || *pc.DraftID != draftID {
		return nil
	}

	return s.captures.Clear(ctx, userID)
}

// endOfDay normalizes a timestamp to 23:59:59.999 on its calendar day.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// parseDeadline tries the accepted date layouts in order.
func parseDeadline(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range deadlineLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// newToken returns a 128-bit random hex token for deep links.
func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// UUID rather than returning an empty token.
		return uuid.NewString()
	}

	return hex.EncodeToString(buf)
}
