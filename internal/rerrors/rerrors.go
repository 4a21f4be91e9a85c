// Package rerrors defines the daemon's error taxonomy so the transport
// layer can map any returned error to the right event payload without
// string-sniffing.
package rerrors

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) at the point
// an error is classified; callers check membership with errors.Is.
var (
	ErrMalformedInput  = errors.New("malformed_input")
	ErrNotFound        = errors.New("not_found")
	ErrConflict        = errors.New("conflict")
	ErrRegistryStale   = errors.New("registry_stale")
	ErrToolExecFailed  = errors.New("tool_exec_failed")
	ErrToolTimeout     = errors.New("tool_timeout")
	ErrUpstreamStream  = errors.New("upstream_stream_error")
	ErrPersistence     = errors.New("persistence_error")
)

// Reason returns the wire-level "reason" string for an error event,
// classifying err against the known sentinel kinds. Unclassified errors
// fall back to "internal_error".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRegistryStale):
		return "registry_stale"
	case errors.Is(err, ErrToolExecFailed):
		return "tool_exec_failed"
	case errors.Is(err, ErrToolTimeout):
		return "tool_timeout"
	case errors.Is(err, ErrUpstreamStream):
		return "upstream_stream_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}
