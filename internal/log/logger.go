package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Level mirrors the small set of levels the adapter logs at.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var base zerolog.Logger

func init() {
	Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)
}

// Setup (re)configures the process-wide logger. format "console" gives a
// human readable writer; anything else emits JSON lines.
func Setup(level, format string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	var w io.Writer = out
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	base = zerolog.New(w).With().Timestamp().Str("provider", "whatsmeow").Logger().Level(parseLevel(level))
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the underlying zerolog logger.
func Logger() zerolog.Logger {
	return base
}

// WA returns a whatsmeow logger writing through the same sink, tagged
// with module.
func WA(module string) waLog.Logger {
	return waLog.Zerolog(base.With().Str("module", module).Logger())
}

// Entry carries the session and message identifiers included in every
// line it logs.
type Entry struct {
	SessionID string
	MessageID string
	RequestID string
}

// WithSession constructs a new Entry with the given session ID.
func WithSession(sessionID string) *Entry {
	return &Entry{SessionID: sessionID}
}

// WithMessageID returns a copy of the entry with the supplied message ID.
func (e *Entry) WithMessageID(msgID string) *Entry {
	c := *e
	c.MessageID = msgID
	return &c
}

// WithRequestID returns a copy of the entry tagged with an HTTP request ID.
func (e *Entry) WithRequestID(reqID string) *Entry {
	c := *e
	c.RequestID = reqID
	return &c
}

func (e *Entry) event(ev *zerolog.Event) *zerolog.Event {
	if e == nil {
		return ev
	}
	if e.SessionID != "" {
		ev = ev.Str("session_id", e.SessionID)
	}
	if e.MessageID != "" {
		ev = ev.Str("message_id", e.MessageID)
	}
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	return ev
}

func (e *Entry) Info(format string, args ...interface{}) {
	e.event(base.Info()).Msg(fmt.Sprintf(format, args...))
}

func (e *Entry) Warn(format string, args ...interface{}) {
	e.event(base.Warn()).Msg(fmt.Sprintf(format, args...))
}

func (e *Entry) Error(format string, args ...interface{}) {
	e.event(base.Error()).Msg(fmt.Sprintf(format, args...))
}

func (e *Entry) Debug(format string, args ...interface{}) {
	e.event(base.Debug()).Msg(fmt.Sprintf(format, args...))
}

// Strs logs msg at level with a list-valued field, used for validation
// warnings.
func (e *Entry) Strs(level Level, msg, key string, vals []string) {
	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = base.Debug()
	case LevelInfo:
		ev = base.Info()
	case LevelError:
		ev = base.Error()
	default:
		ev = base.Warn()
	}
	e.event(ev).Strs(key, vals).Msg(msg)
}

// Package-level helpers for logs not tied to a particular Entry/session
func Debugf(format string, args ...interface{}) {
	base.Debug().Msg(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	base.Info().Msg(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	base.Warn().Msg(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	base.Error().Msg(fmt.Sprintf(format, args...))
}
