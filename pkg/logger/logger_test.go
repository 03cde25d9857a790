package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmetrics/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"empty level defaults to info", &config.LoggingConfig{}, false},
		{"unknown level", &config.LoggingConfig{Level: "loud"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "app.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, lg)
			assert.NotNil(t, lg.GetZerolog())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseLogLevel("verbose")
	assert.Error(t, err)
}

func TestInitializeSetsGlobalLogger(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	require.NoError(t, Initialize(&config.LoggingConfig{Level: "debug"}))
	assert.NotNil(t, globalLogger)
	assert.Same(t, globalLogger, GetLogger())
}

func TestTestLoggerRecordsEntries(t *testing.T) {
	tl := NewTestLogger()

	tl.Info("started")
	tl.WarnWithFields("slow response", map[string]interface{}{"duration_ms": 1500})
	tl.Error("gave up")

	entries := tl.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "started", entries[0].Message)
	assert.Equal(t, 1500, entries[1].Fields["duration_ms"])

	assert.True(t, tl.HasMessage("gave up"))
	assert.False(t, tl.HasMessage("never logged"))
	assert.True(t, tl.HasError())
	assert.Len(t, tl.EntriesAtLevel("warn"), 1)

	tl.Reset()
	assert.Empty(t, tl.Entries())
	assert.False(t, tl.HasError())
}

func TestTestLoggerBoundFields(t *testing.T) {
	tl := NewTestLogger()

	bound := tl.WithField("username", "alice").WithField("backend", "http")
	bound.InfoWithFields("profile fetched", map[string]interface{}{"followers": 1000})

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Fields["username"])
	assert.Equal(t, "http", entries[0].Fields["backend"])
	assert.Equal(t, 1000, entries[0].Fields["followers"])

	// Binding must not leak back into the parent.
	tl.Info("plain")
	assert.Nil(t, tl.Entries()[1].Fields)
}

func TestTestLoggerWithError(t *testing.T) {
	tl := NewTestLogger()
	cause := errors.New("connection refused")

	tl.WithError(cause).Error("fetch failed")

	entries := tl.EntriesAtLevel("error")
	require.Len(t, entries, 1)
	assert.Equal(t, cause, entries[0].Err)
}

func TestLogScrapeUsesGlobalLogger(t *testing.T) {
	prev := globalLogger
	tl := NewTestLogger()
	globalLogger = tl
	t.Cleanup(func() { globalLogger = prev })

	LogScrape("alice", "http", true, nil)
	LogScrape("bob", "browser", false, errors.New("render timeout"))
	LogScrape("carol", "meta", false, nil)

	assert.True(t, tl.HasMessage("Scrape completed"))
	assert.True(t, tl.HasMessage("Scrape failed"))
	assert.True(t, tl.HasMessage("Scrape skipped"))

	failed := tl.EntriesAtLevel("error")
	require.Len(t, failed, 1)
	assert.Equal(t, "bob", failed[0].Fields["username"])
	assert.EqualError(t, failed[0].Err, "render timeout")
}

func TestLogRequestSeverityTracksStatusCode(t *testing.T) {
	prev := globalLogger
	tl := NewTestLogger()
	globalLogger = tl
	t.Cleanup(func() { globalLogger = prev })

	LogRequest("GET", "/v21.0/me", 200, 42.5)
	LogRequest("GET", "/v21.0/me", 404, 10.0)
	LogRequest("POST", "/oauth/access_token", 503, 5.0)

	assert.Len(t, tl.EntriesAtLevel("info"), 1)
	assert.Len(t, tl.EntriesAtLevel("warn"), 1)
	assert.Len(t, tl.EntriesAtLevel("error"), 1)
}

func TestLogCache(t *testing.T) {
	prev := globalLogger
	tl := NewTestLogger()
	globalLogger = tl
	t.Cleanup(func() { globalLogger = prev })

	LogCache(42, true, 3.5)

	entries := tl.EntriesAtLevel("debug")
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].Fields["subject_id"])
	assert.Equal(t, true, entries[0].Fields["hit"])
	assert.Equal(t, "3.5h", entries[0].Fields["age"])
}

func TestNopLoggerIsInert(t *testing.T) {
	lg := NewNopLogger()
	lg.Info("discarded")
	lg.WithField("k", "v").WithError(errors.New("x")).Error("also discarded")
	assert.NotNil(t, lg.GetZerolog())
}
