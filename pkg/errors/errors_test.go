package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeConnect,
				Operation: "dial",
				Message:   "cannot reach pool",
				Cause:     errors.New("connection refused"),
			},
			expected: "connect operation 'dial' failed: cannot reach pool (caused by: connection refused)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeHandshake,
				Operation: "handshake",
				Message:   "unexpected reply",
			},
			expected: "handshake operation 'handshake' failed: unexpected reply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrorTypeConnection, "receive", "read failed")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", err)
	}

	if unwrapped := New(ErrorTypeProtocol, "parse", "bad").Unwrap(); unwrapped != nil {
		t.Errorf("ServiceError.Unwrap() = %v, want nil", unwrapped)
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeProtocol, "parse_job", "bad difficulty").
		WithContext("frame", "abc").
		WithContext("index", 0)

	if len(err.Context) != 2 {
		t.Fatalf("Expected 2 context items, got %d", len(err.Context))
	}
	if err.Context["frame"] != "abc" {
		t.Errorf("Expected frame = 'abc', got %v", err.Context["frame"])
	}
	if got := GetContext(fmt.Errorf("outer: %w", err)); got["index"] != 0 {
		t.Errorf("GetContext() through wrapping = %v", got)
	}
	if GetContext(errors.New("plain")) != nil {
		t.Error("Expected nil context for plain error")
	}
}

func TestNew_Retryability(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
	}{
		{ErrorTypeConnect, true},
		{ErrorTypeHandshake, true},
		{ErrorTypeConnection, true},
		{ErrorTypeProtocol, true},
		{ErrorTypeFraming, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeTelemetry, true},
		{ErrorTypeConfig, false},
		{ErrorTypeState, false},
		{ErrorTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := New(tt.errorType, "op", "msg")
			if err.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable(%s) = %v, want %v", tt.errorType, got, tt.retryable)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrorTypeConnect, "op", "msg") != nil {
		t.Error("Expected nil when wrapping nil error")
	}

	inner := New(ErrorTypeFraming, "read_header", "not a number")
	outer := Wrap(inner, ErrorTypeConnection, "fetch", "session broken")
	if !IsType(outer, ErrorTypeConnection) {
		t.Error("Expected outer type to be connection")
	}
	if TypeOf(outer) != ErrorTypeConnection {
		t.Errorf("TypeOf() = %s, want connection", TypeOf(outer))
	}
	if !errors.Is(outer, inner) {
		t.Error("Expected inner error to stay reachable")
	}

	canceled := Wrap(context.Canceled, ErrorTypeConnect, "dial", "aborted")
	if canceled.Retryable {
		t.Error("Expected wrapped context.Canceled to not be retryable")
	}
}

func TestTypeOf_PlainError(t *testing.T) {
	if got := TypeOf(errors.New("x")); got != ErrorTypeInternal {
		t.Errorf("TypeOf(plain) = %s, want internal", got)
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context timeout", context.DeadlineExceeded, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"closed", net.ErrClosed, true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"unknown error", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableByDefault(tt.err); got != tt.expected {
				t.Errorf("isRetryableByDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}
