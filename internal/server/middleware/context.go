package middleware

import (
	"context"
)

type contextKey string

const (
	// ContextKeySenderID holds the numeric chat user ID of the inbound
	// update's sender.
	ContextKeySenderID contextKey = "sender_id"
)

func WithSenderID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ContextKeySenderID, userID)
}

func SenderIDFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(ContextKeySenderID).(int64)
	return v, ok
}
