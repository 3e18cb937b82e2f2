package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "LoadConfig", "invalid config file", nil)
	expected := "[1001] LoadConfig: invalid config file"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	cause := errors.New("file not found")
	errWithCause := New(ErrCodeConfigInvalid, "LoadConfig", "invalid config file", cause)
	expectedWithCause := "[1001] LoadConfig: invalid config file (cause: file not found)"
	if errWithCause.Error() != expectedWithCause {
		t.Errorf("Expected %q, got %q", expectedWithCause, errWithCause.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("file not found")
	err := New(ErrCodeConfigInvalid, "LoadConfig", "invalid config file", cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Expected cause %v, got %v", cause, errors.Unwrap(err))
	}

	errNoCause := New(ErrCodeConfigInvalid, "LoadConfig", "invalid config file", nil)
	if errors.Unwrap(errNoCause) != nil {
		t.Errorf("Expected nil cause, got %v", errors.Unwrap(errNoCause))
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("detect: %w", New(ErrCodeAgentNotFound, "Detect", "no binary", nil))
	code, ok := CodeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrCodeAgentNotFound, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorKind_ExitCodesDistinct(t *testing.T) {
	seen := map[int]ErrorKind{}
	for _, k := range Kinds {
		code := k.ExitCode()
		assert.NotZero(t, code, "kind %s", k)
		if prev, dup := seen[code]; dup {
			t.Fatalf("exit code %d shared by %s and %s", code, prev, k)
		}
		seen[code] = k
	}
	assert.Equal(t, 0, KindNone.ExitCode())
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("NetworkError")
	assert.True(t, ok)
	assert.Equal(t, KindNetworkError, k)

	k, ok = ParseKind("bogus")
	assert.False(t, ok)
	assert.Equal(t, KindUnknown, k)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(New(ErrCodeConfigRead, "Load", "x", nil)))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("wrapped: %w", New(ErrCodeAdminRequired, "Check", "x", nil))))
	assert.Equal(t, 15, ExitCode(New(ErrCodeAgentNotFound, "Detect", "x", nil)))
	assert.Equal(t, 15, ExitCode(errors.New("plain")))
}
