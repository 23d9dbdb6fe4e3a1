package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeTransient, "timeout")); got != CodeTransient {
		t.Errorf("Expected transient, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("Unclassified errors should map to internal, got %s", got)
	}

	// Classification survives fmt wrapping.
	wrapped := fmt.Errorf("outer: %w", New(CodeValidation, "bad field"))
	if got := CodeOf(wrapped); got != CodeValidation {
		t.Errorf("Expected validation through wrapping, got %s", got)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(CodeTransient, "remote call failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Wrapped cause should be reachable via errors.Is")
	}
	if err.Error() != "[TRANSIENT_ERROR] remote call failed: connection refused" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeTransient, true},
		{CodeInternal, true},
		{CodeValidation, false},
		{CodeConflict, false},
		{CodeNotFound, false},
		{CodeTerminal, false},
		{CodeStore, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(New(tt.code, "x")); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if !IsRetryable(stderrors.New("unknown")) {
		t.Error("Unclassified errors should be retryable")
	}
}

func TestIsNilSafe(t *testing.T) {
	if Is(nil, CodeNotFound) {
		t.Error("nil error should not match any code")
	}
}
