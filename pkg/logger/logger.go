package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"igmetrics/pkg/config"
)

// Logger is the logging interface used throughout the application.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
	FatalWithFields(msg string, fields map[string]interface{})

	GetZerolog() *zerolog.Logger
}

// zlogAdapter implements Logger on top of a zerolog.Logger. Bound fields
// live in the zerolog context, so With* methods are cheap copies.
type zlogAdapter struct {
	zl zerolog.Logger
}

// New builds a Logger from the logging configuration. Console output is
// pretty-printed; when a file is configured, JSON lines go to the file
// and the console keeps the pretty form.
func New(cfg *config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}

	var output io.Writer = console
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		output = zerolog.MultiLevelWriter(console, file)
	}

	zl := zerolog.New(output).With().
		Timestamp().
		Str("app", "igmetrics").
		Logger()

	return &zlogAdapter{zl: zl}, nil
}

func openLogFile(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

func (l *zlogAdapter) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *zlogAdapter) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *zlogAdapter) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *zlogAdapter) Error(msg string) { l.zl.Error().Msg(msg) }
func (l *zlogAdapter) Fatal(msg string) { l.zl.Fatal().Msg(msg) }

func (l *zlogAdapter) WithField(key string, value interface{}) Logger {
	return &zlogAdapter{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zlogAdapter) WithFields(fields map[string]interface{}) Logger {
	return &zlogAdapter{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *zlogAdapter) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zlogAdapter{zl: l.zl.With().Err(err).Logger()}
}

func (l *zlogAdapter) WithContext(ctx context.Context) Logger {
	return &zlogAdapter{zl: l.zl.With().Ctx(ctx).Logger()}
}

func (l *zlogAdapter) DebugWithFields(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *zlogAdapter) InfoWithFields(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l *zlogAdapter) WarnWithFields(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l *zlogAdapter) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}

func (l *zlogAdapter) FatalWithFields(msg string, fields map[string]interface{}) {
	l.zl.Fatal().Fields(fields).Msg(msg)
}

func (l *zlogAdapter) GetZerolog() *zerolog.Logger {
	return &l.zl
}

var globalLogger Logger

// Initialize sets up the process-wide logger and mirrors it into
// zerolog's global instance.
func Initialize(cfg *config.LoggingConfig) error {
	lg, err := New(cfg)
	if err != nil {
		return err
	}
	globalLogger = lg
	log.Logger = *lg.GetZerolog()
	return nil
}

// GetLogger returns the process-wide logger, building an info-level
// console logger on first use if Initialize was never called.
func GetLogger() Logger {
	if globalLogger == nil {
		globalLogger, _ = New(&config.LoggingConfig{Level: "info"})
	}
	return globalLogger
}
