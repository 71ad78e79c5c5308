package logger

import (
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger writes one JSON object per event with the service, hostname, action
// and request id of the caller.
type Logger struct {
	service  string
	hostname string
	zl       zerolog.Logger
}

// New creates a logger for service writing to stdout. The level comes from
// SMARTDINE_LOG_LEVEL and defaults to debug.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout, os.Getenv("SMARTDINE_LOG_LEVEL"))
}

// NewWithWriter creates a logger writing to w at the given level name.
func NewWithWriter(service string, w io.Writer, level string) *Logger {
	hostname, _ := os.Hostname()

	zerolog.TimeFieldFormat = time.RFC3339
	zl := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Logger()

	return &Logger{
		service:  service,
		hostname: hostname,
		zl:       zl,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level string) {
	l.zl = l.zl.Level(parseLevel(level))
}

func (l *Logger) Info(action, message, requestID string, fields map[string]interface{}) {
	l.event(l.zl.Info(), action, requestID, fields).Msg(message)
}

func (l *Logger) Debug(action, message, requestID string, fields map[string]interface{}) {
	l.event(l.zl.Debug(), action, requestID, fields).Msg(message)
}

func (l *Logger) Warn(action, message, requestID string, fields map[string]interface{}) {
	l.event(l.zl.Warn(), action, requestID, fields).Msg(message)
}

// Error logs at error level. A nil err is allowed for failures that have no
// underlying cause.
func (l *Logger) Error(action, message, requestID string, err error, fields map[string]interface{}) {
	ev := l.event(l.zl.Error(), action, requestID, fields)
	if err != nil {
		ev = ev.Dict("error", zerolog.Dict().
			Str("msg", err.Error()).
			Str("stack", string(debug.Stack())))
	}
	ev.Msg(message)
}

func (l *Logger) event(ev *zerolog.Event, action, requestID string, fields map[string]interface{}) *zerolog.Event {
	ev = ev.Str("action", action)
	if requestID != "" {
		ev = ev.Str("request_id", requestID)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	return ev
}

// GenerateRequestID returns a new correlation id.
func GenerateRequestID() string {
	return uuid.NewString()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return zerolog.ErrorLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "", "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
