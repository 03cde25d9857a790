package logger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LogRequest records an outbound HTTP request at a severity matching its
// status code.
func LogRequest(method, url string, statusCode int, duration float64) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration,
	}

	switch {
	case statusCode >= 500:
		GetLogger().ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		GetLogger().WarnWithFields("HTTP request client error", fields)
	default:
		GetLogger().InfoWithFields("HTTP request completed", fields)
	}
}

// LogScrape records the outcome of a single scrape attempt.
func LogScrape(username, backend string, success bool, err error) {
	lg := GetLogger().WithFields(map[string]interface{}{
		"username": username,
		"backend":  backend,
		"success":  success,
	})

	switch {
	case err != nil:
		lg.WithError(err).Error("Scrape failed")
	case success:
		lg.Info("Scrape completed")
	default:
		lg.Warn("Scrape skipped")
	}
}

// LogCache records a cache lookup for a subject.
func LogCache(subjectID int64, hit bool, ageHours float64) {
	GetLogger().WithFields(map[string]interface{}{
		"subject_id": subjectID,
		"hit":        hit,
		"age":        fmt.Sprintf("%.1fh", ageHours),
	}).Debug("Cache lookup")
}

// NewNopLogger returns a Logger that discards everything. Useful in
// tests that do not assert on log output.
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
func (nopLogger) Fatal(string) {}

func (n nopLogger) WithField(string, interface{}) Logger     { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }
func (n nopLogger) WithError(error) Logger                   { return n }
func (n nopLogger) WithContext(context.Context) Logger       { return n }

func (nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (nopLogger) ErrorWithFields(string, map[string]interface{}) {}
func (nopLogger) FatalWithFields(string, map[string]interface{}) {}

func (nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
