package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single client
// request as it moves through MapCache, Translator, and CopyUp.
type LogContext struct {
	RequestID string    // opaque client request identifier
	Volume    string    // volume/target name
	Op        string    // MAPR, MAPW, INFO, CLONE, ...
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a request against volume.
func NewLogContext(requestID, volume, op string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		Volume:    volume,
		Op:        op,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// DurationMs returns the elapsed time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
