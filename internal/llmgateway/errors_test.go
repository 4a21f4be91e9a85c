package llmgateway

import (
	"errors"
	"testing"
)

func TestClassifyRateLimit(t *testing.T) {
	if got := classify(errors.New("received 429 rate limit exceeded")); got != FailureRateLimit {
		t.Errorf("classify() = %v, want %v", got, FailureRateLimit)
	}
}

func TestClassifyServerError(t *testing.T) {
	if got := classify(errors.New("upstream returned 503")); got != FailureServerError {
		t.Errorf("classify() = %v, want %v", got, FailureServerError)
	}
}

func TestClassifyUnknown(t *testing.T) {
	if got := classify(errors.New("something weird happened")); got != FailureUnknown {
		t.Errorf("classify() = %v, want %v", got, FailureUnknown)
	}
}

func TestFailureReasonIsRetryable(t *testing.T) {
	cases := map[FailureReason]bool{
		FailureRateLimit:   true,
		FailureTimeout:     true,
		FailureServerError: true,
		FailureAuth:        false,
		FailureInvalid:     false,
		FailureUnknown:     false,
	}
	for reason, want := range cases {
		if got := reason.IsRetryable(); got != want {
			t.Errorf("%v.IsRetryable() = %v, want %v", reason, got, want)
		}
	}
}

func TestGatewayErrorWithStatus(t *testing.T) {
	err := NewGatewayError("anthropic", "claude", errors.New("boom")).WithStatus(429)
	if err.Reason != FailureRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailureRateLimit)
	}
	if err.Error() == "" {
		t.Error("expected non-empty Error() string")
	}
}
