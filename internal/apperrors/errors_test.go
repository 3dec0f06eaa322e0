package apperrors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrorTypeExtraction, "archive is empty", nil),
			want: "extraction: archive is empty",
		},
		{
			name: "with cause",
			err:  New(ErrorTypeControlPlane, "statement failed", errors.New("exit status 1")),
			want: "control_plane: statement failed (caused by: exit status 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := New(ErrorTypeRestore, "restore failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause through Unwrap")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrorTypeAvailability, "never came online", nil).
		WithContext("database", "NightlyDB").
		WithContext("attempts", 5)

	if err.Context["database"] != "NightlyDB" {
		t.Errorf("Context[database] = %v, want NightlyDB", err.Context["database"])
	}
	if err.Context["attempts"] != 5 {
		t.Errorf("Context[attempts] = %v, want 5", err.Context["attempts"])
	}
}

func TestRecoverableConstructors(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantType    ErrorType
		recoverable bool
	}{
		{"timeout is recoverable", NewControlPlaneTimeout("timed out", nil), ErrorTypeTimeout, true},
		{"naming ambiguity is recoverable", NewNamingAmbiguity("no name", nil), ErrorTypeNaming, true},
		{"availability timeout is terminal", NewAvailabilityTimeout("offline", nil), ErrorTypeAvailability, false},
		{"corruption is terminal", NewCorruptionError("bad bytes", nil), ErrorTypeCorruption, false},
		{"extraction is terminal", NewExtractionError("no payload", nil), ErrorTypeExtraction, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.wantType)
			}
			if tt.err.IsRecoverable() != tt.recoverable {
				t.Errorf("IsRecoverable() = %v, want %v", tt.err.IsRecoverable(), tt.recoverable)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		wantType ErrorType
	}{
		{
			name:     "nil stays nil",
			input:    nil,
			wantType: "",
		},
		{
			name:     "deadline exceeded",
			input:    context.DeadlineExceeded,
			wantType: ErrorTypeTimeout,
		},
		{
			name:     "canceled",
			input:    context.Canceled,
			wantType: ErrorTypeInterruption,
		},
		{
			name:     "wrapped deadline",
			input:    fmt.Errorf("call failed: %w", context.DeadlineExceeded),
			wantType: ErrorTypeTimeout,
		},
		{
			name:     "missing file",
			input:    &os.PathError{Op: "open", Path: "/tmp/gone.bak", Err: syscall.ENOENT},
			wantType: ErrorTypeExtraction,
		},
		{
			name:     "permission denied",
			input:    &os.PathError{Op: "open", Path: "/root/x", Err: syscall.EACCES},
			wantType: ErrorTypePermission,
		},
		{
			name:     "unknown error",
			input:    errors.New("something odd"),
			wantType: ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.input)
			if tt.input == nil {
				if got != nil {
					t.Errorf("Classify(nil) = %v, want nil", got)
				}
				return
			}
			if got.Type != tt.wantType {
				t.Errorf("Classify() type = %v, want %v", got.Type, tt.wantType)
			}
		})
	}
}

func TestClassifyPassesThroughAppErrors(t *testing.T) {
	original := NewRestoreError("already classified", nil)
	got := Classify(fmt.Errorf("wrapped: %w", original))

	if got.Type != ErrorTypeRestore {
		t.Errorf("Classify() type = %v, want %v", got.Type, ErrorTypeRestore)
	}
}

func TestIsType(t *testing.T) {
	err := NewExtractionError("no payload", nil)

	if !IsType(err, ErrorTypeExtraction) {
		t.Error("IsType() = false, want true for matching type")
	}
	if IsType(err, ErrorTypeRestore) {
		t.Error("IsType() = true, want false for mismatched type")
	}
	if IsType(errors.New("plain"), ErrorTypeExtraction) {
		t.Error("IsType() = true, want false for plain error")
	}
}

func TestWrapPreservesType(t *testing.T) {
	inner := NewAvailabilityTimeout("offline", nil)
	wrapped := Wrap(inner, "pipeline failed")

	if GetErrorType(wrapped) != ErrorTypeAvailability {
		t.Errorf("GetErrorType() = %v, want %v", GetErrorType(wrapped), ErrorTypeAvailability)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("expected wrapped error to unwrap to the original")
	}

	if Wrap(nil, "anything") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
