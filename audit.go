package atlasauth

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/atlasauth/internal/audit"
)

// AuditEvent is one security-relevant outcome. Error holds an AuditErrorCode.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = audit.SinkFunc

type ChannelSink = audit.ChannelSink

type SlogSink = audit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONSink writes one JSON object per event to w.
func NewJSONSink(w io.Writer) *SlogSink {
	return audit.NewJSONSink(w)
}

// NewSlogSink logs events through logger, at Info for successes and Warn
// for failures. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
