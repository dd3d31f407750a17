package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "basic error",
			appError: ConfigError("configuration is invalid"),
			want:     "config: configuration is invalid",
		},
		{
			name:     "error with code",
			appError: ValidationError("bad task").WithCode("TASK001"),
			want:     "validation: bad task: code=TASK001",
		},
		{
			name:     "error with cause",
			appError: ConnectionError("database connection failed", errors.New("network timeout")),
			want:     "connection: database connection failed: cause=network timeout",
		},
		{
			name: "error with sorted context",
			appError: NotFoundError("task").
				WithContext("task_id", "t1").
				WithContext("subject", "SEND_SMS"),
			want: "not_found: task not found: context={subject=SEND_SMS, task_id=t1}",
		},
		{
			name:     "timeout",
			appError: TimeoutError("provider lookup", nil),
			want:     "timeout: timeout during provider lookup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapped", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsType(t *testing.T) {
	notFound := NotFoundError("activity")
	wrapped := fmt.Errorf("lookup: %w", notFound)

	if !IsType(notFound, ErrTypeNotFound) {
		t.Error("expected not_found type")
	}
	if !IsType(wrapped, ErrTypeNotFound) {
		t.Error("expected wrapped error to keep its type")
	}
	if IsType(errors.New("plain"), ErrTypeNotFound) {
		t.Error("plain errors have no type")
	}
	if IsType(nil, ErrTypeNotFound) {
		t.Error("nil has no type")
	}
}

func TestGetType(t *testing.T) {
	if got := GetType(nil); got != "" {
		t.Errorf("GetType(nil) = %q", got)
	}
	if got := GetType(errors.New("plain")); got != ErrTypeInternal {
		t.Errorf("GetType(plain) = %q", got)
	}
	if got := GetType(UnavailableError("circuit open", nil)); got != ErrTypeUnavailable {
		t.Errorf("GetType(unavailable) = %q", got)
	}
	if got := GetType(fmt.Errorf("x: %w", ConflictError("already disabled"))); got != ErrTypeConflict {
		t.Errorf("GetType(wrapped conflict) = %q", got)
	}
}
