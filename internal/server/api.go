package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatops/taskline/internal/domain"
)

// taskView is the read-API shape of a task.
type taskView struct {
	ID                 uuid.UUID  `json:"id"`
	WorkspaceID        *uuid.UUID `json:"workspace_id,omitempty"`
	Text               string     `json:"text"`
	Link               string     `json:"link,omitempty"`
	CreatorUserID      int64      `json:"creator_user_id"`
	AssigneeUserID     int64      `json:"assignee_user_id"`
	Priority           string     `json:"priority"`
	Status             string     `json:"status"`
	DeadlineAt         *time.Time `json:"deadline_at,omitempty"`
	LastReturnComment  string     `json:"last_return_comment,omitempty"`
	LastReturnAt       *time.Time `json:"last_return_at,omitempty"`
	SubmittedForReview *time.Time `json:"submitted_for_review_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toTaskView(t *domain.Task) taskView {
	return taskView{
		ID:                 t.ID,
		WorkspaceID:        t.WorkspaceID,
		Text:               t.SourceText,
		Link:               t.SourceLink,
		CreatorUserID:      t.CreatorUserID,
		AssigneeUserID:     t.AssigneeUserID,
		Priority:           string(t.Priority),
		Status:             string(t.Status),
		DeadlineAt:         t.DeadlineAt,
		LastReturnComment:  t.LastReturnComment,
		LastReturnAt:       t.LastReturnAt,
		SubmittedForReview: t.SubmittedForReviewAt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

type taskListResponse struct {
	Tasks []taskView `json:"tasks"`
}

// handleListTasks serves GET /api/v1/workspaces/{workspaceID}/tasks.
// The view query parameter selects the listing: assigned (default) and
// created require user_id; on_review is workspace-wide.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid workspace id"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 1 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	view := r.URL.Query().Get("view")
	if view == "" {
		view = "assigned"
	}

	var tasks []*domain.Task
	switch view {
	case "assigned", "created":
		userID, perr := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid user_id"})
			return
		}
		if view == "assigned" {
			tasks, err = s.tasks.ListAssigned(r.Context(), workspaceID, userID, limit)
		} else {
			tasks, err = s.tasks.ListCreated(r.Context(), workspaceID, userID, limit)
		}
	case "on_review":
		tasks, err = s.tasks.ListOnReview(r.Context(), workspaceID, limit)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown view"})
		return
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTaskView(t))
	}

	writeJSON(w, http.StatusOK, taskListResponse{Tasks: views})
}

// handleGetTask serves GET /api/v1/tasks/{taskID}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}

	t, err := s.tasks.GetTask(r.Context(), taskID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	writeJSON(w, http.StatusOK, toTaskView(t))
}
