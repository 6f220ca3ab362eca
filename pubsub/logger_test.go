package pubsub

import (
	"context"
	"fmt"
	"sync"
)

// LogEntry and RecordingLogger are shared with the external test package.
type LogEntry struct {
	Level string
	Msg   string
	KV    map[string]any
}

type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *RecordingLogger) record(level, msg string, kv []any) {
	fields := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	l.mu.Lock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, KV: fields})
	l.mu.Unlock()
}

func (l *RecordingLogger) Debug(_ context.Context, msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *RecordingLogger) Info(_ context.Context, msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *RecordingLogger) Warn(_ context.Context, msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *RecordingLogger) Error(_ context.Context, msg string, kv ...any) { l.record("error", msg, kv) }

func (l *RecordingLogger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	for _, e := range l.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
