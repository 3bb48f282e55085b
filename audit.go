package goVerify

import (
	"io"

	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"go.uber.org/zap"
)

// Audit sinks. Any [AuditSink] can be passed to [Builder.WithAuditSink];
// combine several with [NewFanoutSink].
type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	ZapSink        = internalaudit.ZapSink
)

// NewChannelSink returns a sink that buffers up to buffer events for a reader.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewJSONWriterSink writes each event to w as a JSON line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

// NewZapSink routes audit events into logger under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink { return internalaudit.NewZapSink(logger) }

// NewFanoutSink delivers each event to every non-nil sink.
func NewFanoutSink(sinks ...AuditSink) AuditSink { return internalaudit.Fanout(sinks...) }
