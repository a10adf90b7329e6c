package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestConstructorsSetTypeAndCode(t *testing.T) {
	tests := []struct {
		err      *AppError
		wantType ErrorType
		wantCode string
	}{
		{NewValidationError("bad", nil), ErrorTypeValidation, "VALIDATION_ERROR"},
		{NewNotFoundError("gone", nil), ErrorTypeNotFound, "NOT_FOUND"},
		{NewProcessingError("oops", nil), ErrorTypeError, "PROCESSING_ERROR"},
		{NewUpstreamError("down", nil), ErrorTypeUpstream, "UPSTREAM_ERROR"},
		{NewTimeoutError("slow", nil), ErrorTypeTimeout, "TIMEOUT"},
		{NewTooLargeError("big", nil), ErrorTypeTooLarge, "PAYLOAD_TOO_LARGE"},
		{NewRateLimitedError("wait"), ErrorTypeRateLimited, "RATE_LIMITED"},
		{NewUnavailableError("no key", nil), ErrorTypeUnavailable, "SERVICE_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(string(tt.wantType), func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestWrapErrorKeepsAppErrorType(t *testing.T) {
	base := NewUpstreamError("gemini unreachable", errors.New("dial tcp: refused"))
	wrapped := WrapError(fmt.Errorf("send: %w", base), "chat failed", ErrorTypeError)

	if !IsUpstreamError(wrapped) {
		t.Errorf("IsUpstreamError(%v) = false", wrapped)
	}
	if IsValidationError(wrapped) {
		t.Errorf("IsValidationError(%v) = true", wrapped)
	}
	if got := wrapped.Error(); got == "" {
		t.Error("empty message")
	}

	plain := WrapError(errors.New("boom"), "parse", ErrorTypeValidation)
	if !IsValidationError(plain) {
		t.Errorf("plain error should become validation error, got %v", TypeOf(plain))
	}
	if WrapError(nil, "x", ErrorTypeError) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}
