package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event is one security-relevant outcome. Subject is the key the operation
// acted on (lowercased email or user id); UserID is set once the user is known.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	IP        string            `json:"ip,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MarshalLogObject writes the non-empty fields of e. EventType is left to
// the log message.
func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("timestamp", e.Timestamp)
	enc.AddBool("success", e.Success)
	for _, f := range [...]struct{ key, val string }{
		{"user_id", e.UserID},
		{"subject", e.Subject},
		{"ip", e.IP},
		{"request_id", e.RequestID},
		{"error", e.Error},
	} {
		if f.val != "" {
			enc.AddString(f.key, f.val)
		}
	}
	if len(e.Metadata) > 0 {
		return enc.AddObject("metadata", zapcore.ObjectMarshalerFunc(func(m zapcore.ObjectEncoder) error {
			for k, v := range e.Metadata {
				m.AddString(k, v)
			}
			return nil
		}))
	}
	return nil
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// Fanout delivers every event to each sink in order. Nil sinks are skipped.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type fanout []Sink

func (f fanout) Emit(ctx context.Context, event Event) {
	for _, s := range f {
		s.Emit(ctx, event)
	}
}

// ChannelSink writes audit events into a buffered channel. Emit blocks
// while the channel is full, until ctx is done.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line. Write errors are dropped.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// ZapSink logs events under the "audit" logger, successes at info and
// failures at warn.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	level := zapcore.InfoLevel
	if !event.Success {
		level = zapcore.WarnLevel
	}
	if ce := s.logger.Check(level, event.EventType); ce != nil {
		ce.Write(zap.Inline(event))
	}
}
