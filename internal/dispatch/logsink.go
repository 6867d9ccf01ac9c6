package dispatch

import (
	"context"
	"log/slog"

	"github.com/anstrom/livescan/internal/logging"
)

// LogSink mirrors log events to the structured logger. Success messages are
// logged at info with success=true.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink writing to logger, or to the default logger
// when nil.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger.WithComponent("dispatch")}
}

// Publish implements Sink. Non-log events are ignored.
func (s *LogSink) Publish(e Event) {
	if e.Type != EventLog || e.Log == nil {
		return
	}

	attrs := make([]any, 0, 4)
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.Log.Level == LevelSuccess {
		attrs = append(attrs, "success", true)
	}
	s.logger.Log(context.Background(), SlogLevel(e.Log.Level), e.Log.Message, attrs...)
}

// SlogLevel maps an event level to a slog level.
func SlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
