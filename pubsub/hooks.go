package pubsub

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Hooks observe the dispatch lifecycle. Every field is optional.
type Hooks struct {
	OnReceive        func(ctx context.Context, subscription string, meta MessageMetadata)
	OnAck            func(ctx context.Context, subscription string, meta MessageMetadata)
	OnNack           func(ctx context.Context, subscription string, meta MessageMetadata)
	OnInvalid        func(ctx context.Context, subscription string, meta MessageMetadata, err error)
	OnUnknownPattern func(ctx context.Context, subscription string, meta MessageMetadata, pattern string)
	OnDuplicate      func(ctx context.Context, subscription string, meta MessageMetadata)
	OnHandled        func(ctx context.Context, subscription string, meta MessageMetadata, pattern string, took time.Duration)
	OnHandlerFailure func(ctx context.Context, subscription string, meta MessageMetadata, pattern string, err error)
	OnTopicMismatch  func(ctx context.Context, subscription, expected, actual string)
}

type MessageMetadata struct {
	ID         string
	Attempt    int
	Attributes map[string]string
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger { return noopLogger{} }

type zapLogger struct {
	lg *zap.SugaredLogger
}

// NewZapLogger adapts lg to Logger; kv pairs become zap fields.
func NewZapLogger(lg *zap.Logger) Logger {
	if lg == nil {
		lg = zap.L()
	}
	return zapLogger{lg: lg.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l zapLogger) Debug(_ context.Context, msg string, kv ...any) { l.lg.Debugw(msg, kv...) }
func (l zapLogger) Info(_ context.Context, msg string, kv ...any)  { l.lg.Infow(msg, kv...) }
func (l zapLogger) Warn(_ context.Context, msg string, kv ...any)  { l.lg.Warnw(msg, kv...) }
func (l zapLogger) Error(_ context.Context, msg string, kv ...any) { l.lg.Errorw(msg, kv...) }
