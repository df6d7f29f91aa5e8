package audit

import (
	"context"
	"io"
	"log/slog"
)

// SlogSink writes events as structured log records. Successful events log at
// Info, failures at Warn.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps logger; nil uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// NewJSONSink writes one JSON object per event to w.
func NewJSONSink(w io.Writer) *SlogSink {
	return NewSlogSink(slog.New(slog.NewJSONHandler(w, nil)))
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs,
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.Time("timestamp", event.Timestamp),
	)
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if len(event.Metadata) > 0 {
		meta := make([]any, 0, len(event.Metadata))
		for k, v := range event.Metadata {
			meta = append(meta, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}

	s.logger.LogAttrs(ctx, level, "audit", attrs...)
}
