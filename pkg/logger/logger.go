package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"igmutual/pkg/config"
)

// Logger is the structured logger used across the engine. Fields attached
// with WithField/WithFields are carried by the returned child only.
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

// zerologLogger keeps its fields in the zerolog context
type zerologLogger struct {
	zl zerolog.Logger
}

// New builds a Logger from cfg. The console always receives events; a
// configured file receives them too.
func New(cfg *config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writers := []io.Writer{consoleWriter(os.Stderr)}
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to setup file output: %w", err)
		}
		writers = append(writers, file)
	}

	return NewWithWriter(zerolog.MultiLevelWriter(writers...)), nil
}

// NewWithWriter creates a Logger writing JSON events to w
func NewWithWriter(w io.Writer) Logger {
	return &zerologLogger{
		zl: zerolog.New(w).With().Timestamp().Str("app", "igmutual").Logger(),
	}
}

var levelLabels = map[string]string{
	zerolog.LevelDebugValue: "\033[37mDEBG\033[0m",
	zerolog.LevelInfoValue:  "\033[32mINFO\033[0m",
	zerolog.LevelWarnValue:  "\033[33mWARN\033[0m",
	zerolog.LevelErrorValue: "\033[31mERRO\033[0m",
	zerolog.LevelFatalValue: "\033[35mFATL\033[0m",
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			if label, ok := levelLabels[s]; ok {
				return label
			}
			return strings.ToUpper(s)
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("| %s", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[36m%s\033[0m:", i)
		},
	}
}

func openLogFile(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	case "debug", "warn", "error", "fatal":
		return zerolog.ParseLevel(strings.ToLower(level))
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", level)
}

// emit writes msg with the call's fields on top of the carried ones.
// Disabled levels yield a nil event, which zerolog treats as a no-op.
func emit(e *zerolog.Event, msg string, fields map[string]interface{}) {
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

func (l *zerologLogger) Debug(msg string) { emit(l.zl.Debug(), msg, nil) }
func (l *zerologLogger) Info(msg string)  { emit(l.zl.Info(), msg, nil) }
func (l *zerologLogger) Warn(msg string)  { emit(l.zl.Warn(), msg, nil) }
func (l *zerologLogger) Error(msg string) { emit(l.zl.Error(), msg, nil) }

// Fatal logs and exits the process
func (l *zerologLogger) Fatal(msg string) { emit(l.zl.Fatal(), msg, nil) }

func (l *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	emit(l.zl.Info(), msg, fields)
}

func (l *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	emit(l.zl.Error(), msg, fields)
}

func (l *zerologLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	emit(l.zl.Fatal(), msg, fields)
}

func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return &zerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

// WithError attaches err under "error". A nil error returns l itself.
func (l *zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zerologLogger{zl: l.zl.With().Err(err).Logger()}
}

func (l *zerologLogger) WithContext(ctx context.Context) Logger {
	return &zerologLogger{zl: l.zl.With().Ctx(ctx).Logger()}
}

func (l *zerologLogger) GetZerolog() *zerolog.Logger {
	return &l.zl
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// Initialize replaces the global logger with one built from cfg
func Initialize(cfg *config.LoggingConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetLogger(l)
	log.Logger = *l.GetZerolog()
	return nil
}

// SetLogger replaces the global logger. Nil restores the lazy default.
func SetLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetLogger returns the global logger, creating an info level console
// logger on first use
func GetLogger() Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = New(&config.LoggingConfig{Level: "info"})
	}
	return globalLogger
}

func Debug(msg string) { GetLogger().Debug(msg) }
func Info(msg string)  { GetLogger().Info(msg) }
func Warn(msg string)  { GetLogger().Warn(msg) }
func Error(msg string) { GetLogger().Error(msg) }

func WithField(key string, value interface{}) Logger {
	return GetLogger().WithField(key, value)
}

func WithFields(fields map[string]interface{}) Logger {
	return GetLogger().WithFields(fields)
}

func WithError(err error) Logger {
	return GetLogger().WithError(err)
}
