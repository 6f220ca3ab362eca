package util

import (
	"context"
	"fmt"
)

type CtxKey string

const (
	MessageIDKey     CtxKey = "MessageId"
	SubscriptionKey  CtxKey = "Subscription"
	PatternKey       CtxKey = "Pattern"
	AttemptKey       CtxKey = "DeliveryAttempt"
	CorrelationIDKey CtxKey = "CorrelationId"
)

func ValueToCtx[T any](ctx context.Context, key CtxKey, value T) context.Context {
	return context.WithValue(ctx, key, value)
}

func ValueFromCtx[T any](ctx context.Context, key CtxKey) (T, error) {
	raw := ctx.Value(key)
	if raw == nil {
		return *new(T), contextError(ErrCodeValueNotFoundInContext, fmt.Sprintf("%v not found in context", key))
	}
	value, ok := raw.(T)
	if !ok {
		return *new(T), contextError(ErrCodeInvalidValueInContext, fmt.Sprintf("%v is not of type %T in context", key, *new(T)))
	}
	return value, nil
}

// MessageMetadataToCtx stores the identity of a delivered message so handlers
// can log or correlate without access to the raw message.
func MessageMetadataToCtx(ctx context.Context, messageID, subscription, pattern string, attempt int) context.Context {
	ctx = ValueToCtx(ctx, MessageIDKey, messageID)
	ctx = ValueToCtx(ctx, SubscriptionKey, subscription)
	ctx = ValueToCtx(ctx, PatternKey, pattern)
	return ValueToCtx(ctx, AttemptKey, attempt)
}

func MessageIDFromCtx(ctx context.Context) (string, error) {
	return ValueFromCtx[string](ctx, MessageIDKey)
}

func SubscriptionFromCtx(ctx context.Context) (string, error) {
	return ValueFromCtx[string](ctx, SubscriptionKey)
}

func PatternFromCtx(ctx context.Context) (string, error) {
	return ValueFromCtx[string](ctx, PatternKey)
}

func DeliveryAttemptFromCtx(ctx context.Context) (int, error) {
	return ValueFromCtx[int](ctx, AttemptKey)
}

func CorrelationIDToCtx(ctx context.Context, correlationID string) context.Context {
	return ValueToCtx(ctx, CorrelationIDKey, correlationID)
}

func CorrelationIDFromCtx(ctx context.Context) (string, error) {
	return ValueFromCtx[string](ctx, CorrelationIDKey)
}
