package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorKind classifies why a convergence step failed. The set is closed.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindDeadlineExceeded   ErrorKind = "DeadlineExceeded"
	KindConnectionRefused  ErrorKind = "ConnectionRefused"
	KindInvalidCredential  ErrorKind = "InvalidCredential"
	KindNetworkError       ErrorKind = "NetworkError"
	KindVerificationFailed ErrorKind = "VerificationFailed"
	KindUnknown            ErrorKind = "Unknown"
)

// Kinds lists every ErrorKind in classification order.
var Kinds = []ErrorKind{
	KindDeadlineExceeded,
	KindConnectionRefused,
	KindInvalidCredential,
	KindNetworkError,
	KindVerificationFailed,
	KindUnknown,
}

func (k ErrorKind) String() string {
	if k == KindNone {
		return "None"
	}
	return string(k)
}

// ExitCode returns the process exit code reported for a run that failed with k.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindNone:
		return 0
	case KindDeadlineExceeded:
		return 10
	case KindConnectionRefused:
		return 11
	case KindInvalidCredential:
		return 12
	case KindNetworkError:
		return 13
	case KindVerificationFailed:
		return 14
	default:
		return 15
	}
}

// ParseKind maps a config or log spelling back to an ErrorKind.
func ParseKind(s string) (ErrorKind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// ErrorCode represents a unique identifier for infrastructure failures that
// happen outside the convergence state machine.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001
	ErrCodeConfigRead    ErrorCode = 1002

	// Agent discovery and installation
	ErrCodeAgentNotFound ErrorCode = 2001
	ErrCodeInstallFailed ErrorCode = 2002

	// Host
	ErrCodeAdminRequired  ErrorCode = 3001
	ErrCodeServiceControl ErrorCode = 3002
	ErrCodeStateClear     ErrorCode = 3003

	// Reporting
	ErrCodeDiagnosticsWrite ErrorCode = 4001
	ErrCodeMetricsWrite     ErrorCode = 4002
)

// Error is a structured error carrying a code, the operation being performed,
// and the underlying cause.
type Error struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &Error{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// ExitCode maps an infrastructure error to the process exit code: 2 for
// configuration problems, 3 for missing privileges, and the Unknown kind's
// code for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	code, _ := CodeOf(err)
	switch code {
	case ErrCodeConfigInvalid, ErrCodeConfigRead:
		return 2
	case ErrCodeAdminRequired:
		return 3
	default:
		return KindUnknown.ExitCode()
	}
}

// Personal.AI order the ending
