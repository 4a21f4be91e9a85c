package llmgateway

import (
	"fmt"
	"strings"
)

// FailureReason categorizes an upstream failure so callers can decide
// whether retrying is worthwhile. Ruster itself never fails over between
// providers (spec.md names no such behavior); this exists only to
// classify the terminal {end(error)} item surfaced to the client.
type FailureReason string

const (
	FailureRateLimit   FailureReason = "rate_limit"
	FailureAuth        FailureReason = "auth"
	FailureTimeout     FailureReason = "timeout"
	FailureServerError FailureReason = "server_error"
	FailureInvalid     FailureReason = "invalid_request"
	FailureUnknown     FailureReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// GatewayError wraps an upstream failure with enough context to report
// an upstream_stream_error to the client (spec.md §7).
type GatewayError struct {
	Provider string
	Model    string
	Status   int
	Reason   FailureReason
	Cause    error
}

func (e *GatewayError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// NewGatewayError classifies cause and wraps it.
func NewGatewayError(provider, model string, cause error) *GatewayError {
	return &GatewayError{Provider: provider, Model: model, Cause: cause, Reason: classify(cause)}
}

// WithStatus records status and reclassifies by HTTP status code.
func (e *GatewayError) WithStatus(status int) *GatewayError {
	e.Status = status
	switch {
	case status == 429:
		e.Reason = FailureRateLimit
	case status == 401 || status == 403:
		e.Reason = FailureAuth
	case status == 408:
		e.Reason = FailureTimeout
	case status >= 500:
		e.Reason = FailureServerError
	case status >= 400:
		e.Reason = FailureInvalid
	}
	return e
}

func classify(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "rate limit") || strings.Contains(s, "429"):
		return FailureRateLimit
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "401") || strings.Contains(s, "403"):
		return FailureAuth
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(s, "500") || strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "504"):
		return FailureServerError
	default:
		return FailureUnknown
	}
}
