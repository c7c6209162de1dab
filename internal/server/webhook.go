package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/messenger"
	"github.com/chatops/taskline/internal/notify"
	"github.com/chatops/taskline/internal/server/middleware"
	redisstore "github.com/chatops/taskline/internal/store/redis"
	"github.com/chatops/taskline/internal/task"
	"github.com/chatops/taskline/internal/workspace"
)

// Sender identifies who produced an inbound update.
type Sender struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// ReplyRef points at the message a command replies to; it becomes the
// task's source message.
type ReplyRef struct {
	MessageID int    `json:"message_id"`
	Text      string `json:"text,omitempty"`
	Link      string `json:"link,omitempty"`
}

// Update is the normalized inbound chat update. Exactly one of Text and
// Callback carries the payload.
type Update struct {
	Platform  string    `json:"platform,omitempty"` // defaults to "telegram"
	ChatID    int64     `json:"chat_id"`
	ChatTitle string    `json:"chat_title,omitempty"`
	IsGroup   bool      `json:"is_group,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text,omitempty"`
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
	Callback  string    `json:"callback,omitempty"`
}

func (u *Update) profile() domain.MemberProfile {
	return domain.MemberProfile{
		FirstName: u.Sender.FirstName,
		LastName:  u.Sender.LastName,
		Username:  u.Sender.Username,
	}
}

func (u *Update) chatIDString() string {
	return strconv.FormatInt(u.ChatID, 10)
}

// EventPublisher fans applied task transitions out to subscribers. Nil
// disables fanout.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, ev *redisstore.TaskEvent) error
}

// WebhookHandler turns inbound chat updates into wizard steps, lifecycle
// transitions and workspace operations.
type WebhookHandler struct {
	tasks      *task.Service
	workspaces *workspace.Service
	members    domain.WorkspaceMemberRepository
	messengers notify.MessengerRegistry
	notifier   *notify.Notifier
	events     EventPublisher // nil when Redis fanout is disabled
	inviteTTL  time.Duration
}

// NewWebhookHandler wires the webhook dispatch surface.
func NewWebhookHandler(
	tasks *task.Service,
	workspaces *workspace.Service,
	members domain.WorkspaceMemberRepository,
	messengers notify.MessengerRegistry,
	notifier *notify.Notifier,
	events EventPublisher,
) *WebhookHandler {
	return &WebhookHandler{
		tasks:      tasks,
		workspaces: workspaces,
		members:    members,
		messengers: messengers,
		notifier:   notifier,
		events:     events,
		inviteTTL:  7 * 24 * time.Hour,
	}
}

// extractSender decodes just enough of the body to stash the sender ID
// for the rate limiter, then restores the body for the handler.
func extractSender(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, `{"title":"Bad Request","status":400,"detail":"unreadable body"}`, http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		var probe struct {
			Sender Sender `json:"sender"`
		}
		if json.Unmarshal(body, &probe) == nil && probe.Sender.UserID != 0 {
			r = r.WithContext(middleware.WithSenderID(r.Context(), probe.Sender.UserID))
		}

		next.ServeHTTP(w, r)
	})
}

type webhookResponse struct {
	Result string `json:"result"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed update"})
		return
	}
	if u.Sender.UserID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing sender"})
		return
	}
	if u.Platform == "" {
		u.Platform = "telegram"
	}

	result, err := h.dispatch(r.Context(), &u)
	if err != nil {
		log.Error().Err(err).
			Int64("chat_id", u.ChatID).
			Int64("sender", u.Sender.UserID).
			Msg("webhook dispatch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Result: result})
}

func (h *WebhookHandler) dispatch(ctx context.Context, u *Update) (string, error) {
	if u.Callback != "" {
		return h.handleCallback(ctx, u)
	}
	if u.IsGroup {
		return h.handleGroupMessage(ctx, u)
	}

	return h.handleDirectMessage(ctx, u)
}

// ---------------------------------------------------------------------------
// Group chat messages
// ---------------------------------------------------------------------------

func (h *WebhookHandler) handleGroupMessage(ctx context.Context, u *Update) (string, error) {
	ens, err := h.workspaces.EnsureWorkspaceForChat(ctx, u.ChatID, u.ChatTitle)
	if err != nil {
		return "", err
	}
	ws := ens.Workspace

	// The first user the bot sees in an unowned workspace claims it;
	// every sender refreshes their membership snapshot.
	if ws.OwnerUserID == nil {
		ws, err = h.workspaces.ClaimOwnership(ctx, ws.ID, u.Sender.UserID, u.profile())
		if err != nil {
			return "", err
		}
	} else if _, err := h.workspaces.TouchMember(ctx, ws.ID, u.Sender.UserID, u.profile()); err != nil {
		return "", err
	}

	cmd, _ := splitCommand(u.Text)
	switch cmd {
	case "/task":
		if u.ReplyTo == nil {
			h.send(ctx, u, "Reply to the message you want to turn into a task and send /task again.")
			return "task_needs_reply", nil
		}

		res, err := h.tasks.CreateOrReuseGroupDraft(ctx, task.GroupDraftParams{
			ChatID:        u.ChatID,
			MessageID:     u.ReplyTo.MessageID,
			Text:          u.ReplyTo.Text,
			Link:          u.ReplyTo.Link,
			CreatorUserID: u.Sender.UserID,
			WorkspaceID:   &ws.ID,
		})
		if err != nil {
			return "", err
		}
		if res.Status == task.WizardStarted {
			h.sendAssigneePrompt(ctx, u, res.Draft.Token, &ws.ID)
		}

		return string(res.Status), nil

	case "/invite":
		inv, err := h.workspaces.CreateInvite(ctx, ws.ID, u.Sender.UserID, h.inviteTTL)
		if errors.Is(err, domain.ErrForbidden) {
			h.send(ctx, u, "Only the workspace owner can create invites.")
			return "invite_forbidden", nil
		}
		if err != nil {
			return "", err
		}

		// The token goes to the requester privately, not into the group.
		if nerr := h.notifier.NotifyVia(ctx, u.Platform, strconv.FormatInt(u.Sender.UserID, 10),
			"Invite token: "+inv.Token); nerr != nil {
			log.Warn().Err(nerr).Msg("invite token delivery failed")
		}

		return "invite_created", nil

	case "/archive":
		_, err := h.workspaces.ArchiveWorkspace(ctx, ws.ID, u.Sender.UserID)
		if errors.Is(err, domain.ErrForbidden) {
			h.send(ctx, u, "Only the workspace owner can archive the workspace.")
			return "archive_forbidden", nil
		}
		if err != nil {
			return "", err
		}

		return "archived", nil
	}

	return "ignored", nil
}

// ---------------------------------------------------------------------------
// Direct messages
// ---------------------------------------------------------------------------

func (h *WebhookHandler) handleDirectMessage(ctx context.Context, u *Update) (string, error) {
	cmd, arg := splitCommand(u.Text)
	switch cmd {
	case "/newtask":
		workspaceID := h.resolveWorkspace(ctx, u.Sender.UserID)
		res, err := h.tasks.StartDMDraft(ctx, u.ChatID, u.Sender.UserID, workspaceID)
		if err != nil {
			return "", err
		}
		h.send(ctx, u, "Send the task text.")

		return string(res.Status), nil

	case "/join":
		if arg == "" {
			h.send(ctx, u, "Usage: /join <invite-token>")
			return "join_needs_token", nil
		}
		_, err := h.workspaces.AcceptInvite(ctx, arg, u.Sender.UserID, u.profile())
		if errors.Is(err, workspace.ErrInviteInvalid) {
			h.send(ctx, u, "That invite is invalid or has expired.")
			return "invite_invalid", nil
		}
		if err != nil {
			return "", err
		}
		h.send(ctx, u, "You joined the workspace.")

		return "joined", nil

	case "/mytasks", "/created", "/review":
		workspaceID := h.resolveWorkspace(ctx, u.Sender.UserID)
		if workspaceID == nil {
			h.send(ctx, u, "You are not a member of any workspace yet.")
			return "no_workspace", nil
		}

		var (
			tasks []*domain.Task
			err   error
		)
		switch cmd {
		case "/mytasks":
			tasks, err = h.tasks.ListAssigned(ctx, *workspaceID, u.Sender.UserID, 50)
		case "/created":
			tasks, err = h.tasks.ListCreated(ctx, *workspaceID, u.Sender.UserID, 50)
		default:
			tasks, err = h.tasks.ListOnReview(ctx, *workspaceID, 50)
		}
		if err != nil {
			return "", err
		}
		h.send(ctx, u, renderTaskList(tasks))

		return "listed", nil
	}

	routing, err := h.tasks.RouteText(ctx, u.Sender.UserID, u.Text)
	if err != nil {
		return "", err
	}

	switch routing.Route {
	case task.RouteDeadline:
		switch routing.Wizard.Status {
		case task.WizardInvalidDate:
			h.send(ctx, u, "That date did not parse. Use YYYY-MM-DD or DD.MM.YYYY.")
		case task.WizardConfirm:
			h.sendConfirmPrompt(ctx, u, routing.Wizard.Draft)
		}
	case task.RouteReturnComment:
		h.afterTransition(ctx, domain.ActionReturnToWork, routing.Transition)
	case task.RouteDraftText:
		if routing.Wizard.Status == task.WizardUpdated {
			h.sendAssigneePrompt(ctx, u, routing.Wizard.Draft.Token, routing.Wizard.Draft.WorkspaceID)
		}
	}

	return string(routing.Route), nil
}

// ---------------------------------------------------------------------------
// Button callbacks
// ---------------------------------------------------------------------------

func (h *WebhookHandler) handleCallback(ctx context.Context, u *Update) (string, error) {
	cb, err := messenger.ParseCallback(u.Callback)
	if errors.Is(err, messenger.ErrBadCallback) {
		return "bad_callback", nil
	}
	if err != nil {
		return "", err
	}

	switch cb.Kind {
	case messenger.CallbackChooseAssignee:
		res, err := h.tasks.SetDraftAssignee(ctx, cb.DraftToken, u.Sender.UserID, cb.UserID)
		if err != nil {
			return "", err
		}
		if res.Status == task.WizardUpdated {
			h.sendPriorityPrompt(ctx, u, cb.DraftToken)
		}
		if res.Status == task.WizardInvalidAssignee {
			h.send(ctx, u, "That user is not an active member of the workspace.")
		}

		return string(res.Status), nil

	case messenger.CallbackChoosePriority:
		p := domain.Priority(cb.Priority)
		if !p.Valid() {
			return "bad_callback", nil
		}
		res, err := h.tasks.SetDraftPriority(ctx, cb.DraftToken, u.Sender.UserID, p)
		if err != nil {
			return "", err
		}
		if res.Status == task.WizardUpdated {
			h.sendDeadlinePrompt(ctx, u, cb.DraftToken)
		}

		return string(res.Status), nil

	case messenger.CallbackChooseDeadline:
		choice := task.DeadlineChoice(cb.Deadline)
		switch choice {
		case task.DeadlineToday, task.DeadlineTomorrow, task.DeadlineNone, task.DeadlineManual:
		default:
			return "bad_callback", nil
		}
		res, err := h.tasks.SetDraftDeadlineChoice(ctx, cb.DraftToken, u.Sender.UserID, choice)
		if err != nil {
			return "", err
		}
		switch res.Status {
		case task.WizardAwaitInput:
			h.send(ctx, u, "Send the deadline as YYYY-MM-DD or DD.MM.YYYY.")
		case task.WizardConfirm:
			h.sendConfirmPrompt(ctx, u, res.Draft)
		}

		return string(res.Status), nil

	case messenger.CallbackConfirmDraft:
		res, err := h.tasks.FinalizeDraft(ctx, cb.DraftToken, u.Sender.UserID)
		if err != nil {
			return "", err
		}
		if res.Status == task.WizardCreated {
			if nerr := h.notifier.NotifyUser(ctx, res.Task.AssigneeUserID, notify.TaskCreatedText(res.Task)); nerr != nil {
				log.Warn().Err(nerr).Msg("task created notification failed")
			}
			h.publishEvent(ctx, "task.created", res.Task, u.Sender.UserID)
		}

		return string(res.Status), nil

	case messenger.CallbackTaskAction:
		return h.handleTaskAction(ctx, u, cb)
	}

	return "bad_callback", nil
}

func (h *WebhookHandler) handleTaskAction(ctx context.Context, u *Update, cb *messenger.Callback) (string, error) {
	p := task.TransitionParams{TaskID: cb.TaskID, ActorUserID: u.Sender.UserID, Nonce: cb.Nonce}

	var (
		res    *domain.TransitionResult
		action domain.ActionType
		err    error
	)

	switch cb.Action {
	case "submit":
		action = domain.ActionSubmitForReview
		res, err = h.tasks.CompleteTask(ctx, p)
	case "accept":
		action = domain.ActionAcceptReview
		res, err = h.tasks.AcceptReview(ctx, p)
	case "return":
		action = domain.ActionReturnToWork
		res, err = h.tasks.BeginReturnToWorkComment(ctx, p)
		if err == nil && res.Status == domain.TransitionOK {
			h.send(ctx, u, "Send the return comment as your next message.")
			return "awaiting_return_comment", nil
		}
	case "reassign":
		action = domain.ActionReassign
		res, err = h.tasks.ReassignTask(ctx, task.ReassignParams{
			TaskID:        cb.TaskID,
			ActorUserID:   u.Sender.UserID,
			NewAssigneeID: cb.AssigneeID,
			Nonce:         cb.Nonce,
		})
	default:
		return "bad_callback", nil
	}

	if err != nil {
		return "", err
	}

	h.afterTransition(ctx, action, res)

	result := string(res.Status)
	if res.Status == domain.TransitionOK && !res.Changed {
		result = "unchanged"
	}

	return result, nil
}

// afterTransition runs the side effects of an applied transition:
// notifications and event fanout. Replays and no-ops produce neither.
func (h *WebhookHandler) afterTransition(ctx context.Context, action domain.ActionType, res *domain.TransitionResult) {
	if res == nil || !res.Changed || res.Task == nil {
		return
	}

	h.notifier.NotifyTransition(ctx, action, res)
	h.publishEvent(ctx, redisstore.EventName(action), res.Task, res.Task.AssigneeUserID)
}

func (h *WebhookHandler) publishEvent(ctx context.Context, name string, t *domain.Task, actorUserID int64) {
	if h.events == nil {
		return
	}

	ev := &redisstore.TaskEvent{
		Name:        name,
		TaskID:      t.ID,
		WorkspaceID: t.WorkspaceID,
		ActorUserID: actorUserID,
		Status:      string(t.Status),
		At:          t.UpdatedAt,
	}
	if err := h.events.PublishTaskEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("event publish failed")
	}
}

// ---------------------------------------------------------------------------
// Prompt rendering
// ---------------------------------------------------------------------------

func (h *WebhookHandler) send(ctx context.Context, u *Update, text string) {
	m, ok := h.messengers.Get(u.Platform)
	if !ok {
		return
	}
	if _, err := m.SendMessage(ctx, u.chatIDString(), text); err != nil {
		log.Warn().Err(err).Int64("chat_id", u.ChatID).Msg("message delivery failed")
	}
}

func (h *WebhookHandler) sendChoices(ctx context.Context, u *Update, text string, options []messenger.ChoiceOption) {
	m, ok := h.messengers.Get(u.Platform)
	if !ok {
		return
	}
	if _, err := m.SendChoices(ctx, u.chatIDString(), text, options); err != nil {
		log.Warn().Err(err).Int64("chat_id", u.ChatID).Msg("prompt delivery failed")
	}
}

func (h *WebhookHandler) sendAssigneePrompt(ctx context.Context, u *Update, token string, workspaceID *uuid.UUID) {
	options := h.assigneeOptions(ctx, token, workspaceID)
	if len(options) == 0 {
		// No workspace roster to offer; the creator self-assigns.
		options = []messenger.ChoiceOption{{
			Label: "Assign to me",
			Data:  messenger.EncodeAssigneeChoice(token, u.Sender.UserID),
		}}
	}

	h.sendChoices(ctx, u, "Who should this task go to?", options)
}

func (h *WebhookHandler) assigneeOptions(ctx context.Context, token string, workspaceID *uuid.UUID) []messenger.ChoiceOption {
	if workspaceID == nil {
		return nil
	}

	members, err := h.members.ListActive(ctx, *workspaceID)
	if err != nil {
		log.Warn().Err(err).Msg("member listing failed")
		return nil
	}

	options := make([]messenger.ChoiceOption, 0, len(members))
	for _, m := range members {
		options = append(options, messenger.ChoiceOption{
			Label: memberLabel(m),
			Data:  messenger.EncodeAssigneeChoice(token, m.UserID),
		})
	}

	return options
}

func (h *WebhookHandler) sendPriorityPrompt(ctx context.Context, u *Update, token string) {
	h.sendChoices(ctx, u, "Pick a priority.", []messenger.ChoiceOption{
		{Label: "P1", Data: messenger.EncodePriorityChoice(token, string(domain.PriorityP1))},
		{Label: "P2", Data: messenger.EncodePriorityChoice(token, string(domain.PriorityP2))},
		{Label: "P3", Data: messenger.EncodePriorityChoice(token, string(domain.PriorityP3))},
	})
}

func (h *WebhookHandler) sendDeadlinePrompt(ctx context.Context, u *Update, token string) {
	h.sendChoices(ctx, u, "Pick a deadline.", []messenger.ChoiceOption{
		{Label: "Today", Data: messenger.EncodeDeadlineChoice(token, string(task.DeadlineToday))},
		{Label: "Tomorrow", Data: messenger.EncodeDeadlineChoice(token, string(task.DeadlineTomorrow))},
		{Label: "No deadline", Data: messenger.EncodeDeadlineChoice(token, string(task.DeadlineNone))},
		{Label: "Enter a date", Data: messenger.EncodeDeadlineChoice(token, string(task.DeadlineManual))},
	})
}

func (h *WebhookHandler) sendConfirmPrompt(ctx context.Context, u *Update, d *domain.TaskDraft) {
	var b strings.Builder
	b.WriteString("Create this task?\n")
	b.WriteString(d.SourceText)
	if d.Priority != nil {
		b.WriteString("\nPriority: " + string(*d.Priority))
	}
	if d.DeadlineAt != nil {
		b.WriteString("\nDeadline: " + d.DeadlineAt.Format("2006-01-02"))
	}

	h.sendChoices(ctx, u, b.String(), []messenger.ChoiceOption{
		{Label: "Create", Data: messenger.EncodeConfirmDraft(d.Token)},
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveWorkspace picks the user's most recently seen active membership
// for DM flows. Nil when the user belongs to no workspace.
func (h *WebhookHandler) resolveWorkspace(ctx context.Context, userID int64) *uuid.UUID {
	m, err := h.members.LatestForUser(ctx, userID)
	if err != nil {
		return nil
	}

	id := m.WorkspaceID

	return &id
}

func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}

	cmd, arg, _ = strings.Cut(text, " ")
	// Strip a bot mention suffix like /task@taskline_bot.
	cmd, _, _ = strings.Cut(cmd, "@")

	return cmd, strings.TrimSpace(arg)
}

func memberLabel(m *domain.WorkspaceMember) string {
	if m.Profile.Username != "" {
		return "@" + m.Profile.Username
	}

	name := strings.TrimSpace(m.Profile.FirstName + " " + m.Profile.LastName)
	if name != "" {
		return name
	}

	return strconv.FormatInt(m.UserID, 10)
}

func renderTaskList(tasks []*domain.Task) string {
	if len(tasks) == 0 {
		return "Nothing here."
	}

	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[" + string(t.Priority) + "] ")
		b.WriteString(t.SourceText)
		if t.DeadlineAt != nil {
			b.WriteString(" (due " + t.DeadlineAt.Format("2006-01-02") + ")")
		}
		if t.Status == domain.TaskStatusOnReview {
			b.WriteString(" (on review)")
		}
	}

	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
