package messenger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrBadCallback is returned when a callback payload cannot be decoded.
var ErrBadCallback = errors.New("messenger: bad callback") //nolint:gochecknoglobals // sentinel error

// CallbackKind discriminates the decoded callback payload.
type CallbackKind string

const (
	CallbackChooseAssignee CallbackKind = "choose_assignee"
	CallbackChoosePriority CallbackKind = "choose_priority"
	CallbackChooseDeadline CallbackKind = "choose_deadline"
	CallbackConfirmDraft   CallbackKind = "confirm_draft"
	CallbackTaskAction     CallbackKind = "task_action"
)

// Callback is a decoded button press. Which fields are set depends on
// Kind: draft callbacks carry DraftToken, task actions carry TaskID and
// the idempotency nonce.
type Callback struct {
	Kind       CallbackKind
	DraftToken string
	UserID     int64  // assignee choice
	Priority   string // priority choice
	Deadline   string // deadline preset choice
	Action     string // task action name
	TaskID     uuid.UUID
	Nonce      string
	AssigneeID int64 // reassign target
}

// Callback payloads ride inside platform button data, which Telegram
// caps at 64 bytes, so segments stay short and colon-separated.
const (
	cbAssignee = "asg"
	cbPriority = "pri"
	cbDeadline = "ddl"
	cbConfirm  = "fin"
	cbAction   = "act"
)

func EncodeAssigneeChoice(draftToken string, userID int64) string {
	return strings.Join([]string{cbAssignee, draftToken, strconv.FormatInt(userID, 10)}, ":")
}

func EncodePriorityChoice(draftToken, priority string) string {
	return strings.Join([]string{cbPriority, draftToken, priority}, ":")
}

func EncodeDeadlineChoice(draftToken, choice string) string {
	return strings.Join([]string{cbDeadline, draftToken, choice}, ":")
}

func EncodeConfirmDraft(draftToken string) string {
	return strings.Join([]string{cbConfirm, draftToken}, ":")
}

func EncodeTaskAction(action string, taskID uuid.UUID, nonce string) string {
	return strings.Join([]string{cbAction, action, taskID.String(), nonce}, ":")
}

func EncodeReassign(taskID uuid.UUID, nonce string, newAssigneeID int64) string {
	return strings.Join([]string{cbAction, "reassign", taskID.String(), nonce, strconv.FormatInt(newAssigneeID, 10)}, ":")
}

// ParseCallback decodes a button payload produced by the Encode helpers.
func ParseCallback(data string) (*Callback, error) {
	parts := strings.Split(data, ":")

	switch parts[0] {
	case cbAssignee:
		if len(parts) != 3 {
			return nil, fmt.Errorf("messenger.ParseCallback: %q: %w", data, ErrBadCallback)
		}
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("messenger.ParseCallback: user id %q: %w", parts[2], ErrBadCallback)
		}

		return &Callback{Kind: CallbackChooseAssignee, DraftToken: parts[1], UserID: userID}, nil

	case cbPriority:
		if len(parts) != 3 {
			return nil, fmt.Errorf("messenger.ParseCallback: %q: %w", data, ErrBadCallback)
		}

		return &Callback{Kind: CallbackChoosePriority, DraftToken: parts[1], Priority: parts[2]}, nil

	case cbDeadline:
		if len(parts) != 3 {
			return nil, fmt.Errorf("messenger.ParseCallback: %q: %w", data, ErrBadCallback)
		}

		return &Callback{Kind: CallbackChooseDeadline, DraftToken: parts[1], Deadline: parts[2]}, nil

	case cbConfirm:
		if len(parts) != 2 {
			return nil, fmt.Errorf("messenger.ParseCallback: %q: %w", data, ErrBadCallback)
		}

		return &Callback{Kind: CallbackConfirmDraft, DraftToken: parts[1]}, nil

	case cbAction:
		if len(parts) != 4 && len(parts) != 5 {
			return nil, fmt.Errorf("messenger.ParseCallback: %q: %w", data, ErrBadCallback)
		}
		taskID, err := uuid.Parse(parts[2])
		if err != nil {
			return nil, fmt.Errorf("messenger.ParseCallback: task id %q: %w", parts[2], ErrBadCallback)
		}
		cb := &Callback{Kind: CallbackTaskAction, Action: parts[1], TaskID: taskID, Nonce: parts[3]}
		if len(parts) == 5 {
			assigneeID, parseErr := strconv.ParseInt(parts[4], 10, 64)
			if parseErr != nil {
				return nil, fmt.Errorf("messenger.ParseCallback: assignee id %q: %w", parts[4], ErrBadCallback)
			}
			cb.AssigneeID = assigneeID
		}

		return cb, nil
	}

	return nil, fmt.Errorf("messenger.ParseCallback: %q: %w", data, ErrBadCallback)
}
