package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds frame-scoped logging context. The node dispatch path
// stamps it once per inbound frame; every *Ctx log call below it picks the
// fields up automatically.
type LogContext struct {
	PeerID    string    // transport peer the frame arrived from
	MessageID string    // hex message id, once the header is parsed
	MsgType   string    // wire message type name
	Channel   string    // channel id for channel frames
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a frame received from peerID.
func NewLogContext(peerID string) *LogContext {
	return &LogContext{
		PeerID:    peerID,
		StartTime: time.Now(),
	}
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}

// appendContextFields prepends LogContext fields to args so they appear
// first in the output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 8+len(args))
	if lc.PeerID != "" {
		ctxArgs = append(ctxArgs, KeyPeerID, lc.PeerID)
	}
	if lc.MessageID != "" {
		ctxArgs = append(ctxArgs, KeyMessageID, lc.MessageID)
	}
	if lc.MsgType != "" {
		ctxArgs = append(ctxArgs, KeyMsgType, lc.MsgType)
	}
	if lc.Channel != "" {
		ctxArgs = append(ctxArgs, KeyChannel, lc.Channel)
	}
	return append(ctxArgs, args...)
}
