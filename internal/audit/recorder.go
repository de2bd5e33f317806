package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexintake.org/internal/ids"
	"lexintake.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// EventWriter persists audit events.
type EventWriter interface {
	InsertAuditEvent(ctx context.Context, ev Event) error
}

// Publisher forwards audit events to an external stream.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recorder appends audit events. Record never fails the caller: every sink
// error is logged and counted, then dropped.
type Recorder struct {
	writer    EventWriter
	publisher Publisher
	now       func() time.Time
	timeout   time.Duration
}

// Option configures Recorder.
type Option func(*Recorder)

// WithPublisher mirrors every event to p after it is persisted.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// WithClock overrides the event timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder builds a Recorder writing to w.
func NewRecorder(w EventWriter, opts ...Option) *Recorder {
	r := &Recorder{
		writer:  w,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists ev. Missing ID and CreatedAt are filled in.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = ids.Entity()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	if ev.Details == nil {
		ev.Details = map[string]any{}
	}

	log := obs.Logger().With(
		zap.String("type", "audit"),
		zap.String("event", ev.EventType),
		zap.String("firm_id", ev.FirmID),
		zap.String("entity_type", ev.EntityType),
		zap.String("request_id", RequestIDFromContext(ctx)),
	)
	log.Info("audit", zap.Stringp("entity_id", ev.EntityID), zap.Stringp("user_id", ev.UserID))

	// The triggering request may already be finishing; the write gets its
	// own deadline but keeps the request's values.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if r.writer != nil {
		if err := r.writer.InsertAuditEvent(writeCtx, ev); err != nil {
			obs.RecordAuditFailure("database")
			log.Error("audit write failed", zap.Error(err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(writeCtx, ev); err != nil {
			obs.RecordAuditFailure("kafka")
			log.Error("audit publish failed", zap.Error(err))
		}
	}
}

// Sink is the recording side of Recorder, satisfied by *Recorder and by
// test doubles.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

var _ Sink = (*Recorder)(nil)
