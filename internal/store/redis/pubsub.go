package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatops/taskline/internal/domain"
)

type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// TaskEvent is the wire form of a task lifecycle event fanned out to
// subscribers. Events are published only for applied transitions, so a
// replayed nonce never produces a second event.
type TaskEvent struct {
	Name        string     `json:"name"`
	TaskID      uuid.UUID  `json:"task_id"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
	ActorUserID int64      `json:"actor_user_id"`
	Status      string     `json:"status"`
	At          time.Time  `json:"at"`
}

// EventName maps a lifecycle action to its published event name.
func EventName(action domain.ActionType) string {
	switch action {
	case domain.ActionSubmitForReview:
		return "task.on_review"
	case domain.ActionAcceptReview:
		return "task.closed"
	case domain.ActionReturnToWork:
		return "task.returned"
	case domain.ActionReassign:
		return "task.reassigned"
	default:
		return "task." + string(action)
	}
}

// PublishTaskEvent fans an event out to the task's workspace channel, or
// to the actor's user channel for tasks without a workspace.
func (ps *PubSub) PublishTaskEvent(ctx context.Context, ev *TaskEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis.PubSub.PublishTaskEvent: marshal: %w", err)
	}

	channel := UserChannel(ev.ActorUserID)
	if ev.WorkspaceID != nil {
		channel = WorkspaceChannel(*ev.WorkspaceID)
	}

	return ps.Publish(ctx, channel, payload)
}

// WorkspaceChannel returns the Redis channel name for workspace-wide
// task events.
func WorkspaceChannel(workspaceID uuid.UUID) string {
	return "workspace:" + workspaceID.String()
}

// UserChannel returns the Redis channel name for a user's direct events.
func UserChannel(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
