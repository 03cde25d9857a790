package logger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Entry is one captured log line.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Err     error
}

// TestLogger implements Logger and records every entry for assertions.
// Safe for concurrent use.
type TestLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (l *TestLogger) record(level, msg string, fields map[string]interface{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Message: msg, Fields: fields, Err: err})
}

// Entries returns a copy of everything logged so far.
func (l *TestLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// EntriesAtLevel returns the captured entries with the given level.
func (l *TestLogger) EntriesAtLevel(level string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// HasMessage reports whether an entry with exactly this message was logged.
func (l *TestLogger) HasMessage(msg string) bool {
	for _, e := range l.Entries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// HasError reports whether anything was logged at error level.
func (l *TestLogger) HasError() bool {
	return len(l.EntriesAtLevel("error")) > 0
}

// Reset discards all captured entries.
func (l *TestLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *TestLogger) Debug(msg string) { l.record("debug", msg, nil, nil) }
func (l *TestLogger) Info(msg string)  { l.record("info", msg, nil, nil) }
func (l *TestLogger) Warn(msg string)  { l.record("warn", msg, nil, nil) }
func (l *TestLogger) Error(msg string) { l.record("error", msg, nil, nil) }
func (l *TestLogger) Fatal(msg string) { l.record("fatal", msg, nil, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.record("debug", msg, fields, nil)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.record("info", msg, fields, nil)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.record("warn", msg, fields, nil)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.record("error", msg, fields, nil)
}

func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.record("fatal", msg, fields, nil)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return &boundTestLogger{rec: l, fields: map[string]interface{}{key: value}}
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return &boundTestLogger{rec: l, fields: copyFields(fields, nil)}
}

func (l *TestLogger) WithError(err error) Logger {
	return &boundTestLogger{rec: l, err: err}
}

func (l *TestLogger) WithContext(ctx context.Context) Logger { return l }

func (l *TestLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

// boundTestLogger carries fields and an error bound by With* calls and
// forwards entries to the shared recorder.
type boundTestLogger struct {
	rec    *TestLogger
	fields map[string]interface{}
	err    error
}

func copyFields(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (l *boundTestLogger) log(level, msg string, fields map[string]interface{}) {
	l.rec.record(level, msg, copyFields(l.fields, fields), l.err)
}

func (l *boundTestLogger) Debug(msg string) { l.log("debug", msg, nil) }
func (l *boundTestLogger) Info(msg string)  { l.log("info", msg, nil) }
func (l *boundTestLogger) Warn(msg string)  { l.log("warn", msg, nil) }
func (l *boundTestLogger) Error(msg string) { l.log("error", msg, nil) }
func (l *boundTestLogger) Fatal(msg string) { l.log("fatal", msg, nil) }

func (l *boundTestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.log("debug", msg, fields)
}

func (l *boundTestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.log("info", msg, fields)
}

func (l *boundTestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.log("warn", msg, fields)
}

func (l *boundTestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.log("error", msg, fields)
}

func (l *boundTestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.log("fatal", msg, fields)
}

func (l *boundTestLogger) WithField(key string, value interface{}) Logger {
	return &boundTestLogger{
		rec:    l.rec,
		fields: copyFields(l.fields, map[string]interface{}{key: value}),
		err:    l.err,
	}
}

func (l *boundTestLogger) WithFields(fields map[string]interface{}) Logger {
	return &boundTestLogger{rec: l.rec, fields: copyFields(l.fields, fields), err: l.err}
}

func (l *boundTestLogger) WithError(err error) Logger {
	return &boundTestLogger{rec: l.rec, fields: l.fields, err: err}
}

func (l *boundTestLogger) WithContext(ctx context.Context) Logger { return l }

func (l *boundTestLogger) GetZerolog() *zerolog.Logger {
	return l.rec.GetZerolog()
}
