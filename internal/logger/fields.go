package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently so log lines stay greppable across the
// cache, translator, copy-up, and dispatcher packages.
const (
	KeyVolume    = "volume"     // volume/target name
	KeyIndex     = "index"      // object table index
	KeyOp        = "op"         // client/backing-store operation kind
	KeyObject    = "object"     // object name (hex digest)
	KeyOffset    = "offset"     // logical offset within a volume/object
	KeySize      = "size"       // byte length of a request or volume
	KeyHandle    = "handle"     // backing-store request handle
	KeyRequestID = "request_id" // client request identifier
	KeyError     = "error"      // error message
	KeyDuration  = "duration_ms"
)

// Volume returns a slog.Attr for a volume name.
func Volume(name string) slog.Attr {
	return slog.String(KeyVolume, name)
}

// Index returns a slog.Attr for an object table index.
func Index(i uint32) slog.Attr {
	return slog.Any(KeyIndex, i)
}

// Op returns a slog.Attr for an operation kind.
func Op(op string) slog.Attr {
	return slog.String(KeyOp, op)
}

// Object returns a slog.Attr for an object name.
func Object(name string) slog.Attr {
	return slog.String(KeyObject, name)
}

// Offset returns a slog.Attr for a byte offset.
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Size returns a slog.Attr for a byte size.
func Size(size uint64) slog.Attr {
	return slog.Uint64(KeySize, size)
}

// Handle returns a slog.Attr for a backing-store request handle.
func Handle(h string) slog.Attr {
	return slog.String(KeyHandle, h)
}

// RequestID returns a slog.Attr for a client request identifier.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDuration, ms)
}
