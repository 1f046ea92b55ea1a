// Package otaerr implements the error taxonomy of spec §7 as a typed
// Code plus a wrapping Error, so taxonomy codes compose with the
// standard errors.Is/As the way the rest of this codebase wraps errors
// with fmt.Errorf("...: %w", err).
package otaerr

import (
	"errors"
	"fmt"
)

// Severity buckets a Code the way the original C result type does
// (informational vs. error), kept here only to label log lines —
// propagation decisions are made on Code, not Severity.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

// Code is one entry of the spec §7 error taxonomy.
type Code int

const (
	// Programmer errors — surfaced immediately.
	BadArg Code = iota
	OutOfMemory
	Unsupported

	// Singleton violation.
	AlreadyStarted

	// Flash faults — end the session.
	OpenStorage
	ReadStorage
	WriteStorage
	CloseStorage

	// Transport setup faults — retried per spec §4.1.
	Connect
	Disconnect

	// Unexpected close during download — retried as a download failure.
	ServerDropped

	// Transport transfer faults — retried as a download failure.
	GetJob
	GetData

	// Job rejected — session ends; result may still be reported.
	MalformedJobDoc
	NotAJobDoc
	WrongBoard
	InvalidVersion

	// Verification failures — session ends.
	Verify
	BLEVerify

	// Server-change failure — session ends.
	Redirect

	// Result reporting failure — session ends, non-fatal to the device.
	SendingResult

	// Callback asked to stop — session ends cleanly.
	AppReturnedStop

	// Connect retries exhausted — session ends.
	AppExceededRetries

	// Informational, not errors.
	Exiting
	AlreadyConnected
	ChangingServer
	UseDirectFlow
	NoUpdateAvailable
)

var names = map[Code]string{
	BadArg:              "BADARG",
	OutOfMemory:         "OUT_OF_MEMORY",
	Unsupported:         "UNSUPPORTED",
	AlreadyStarted:      "ALREADY_STARTED",
	OpenStorage:         "OPEN_STORAGE",
	ReadStorage:         "READ_STORAGE",
	WriteStorage:        "WRITE_STORAGE",
	CloseStorage:        "CLOSE_STORAGE",
	Connect:             "CONNECT",
	Disconnect:          "DISCONNECT",
	ServerDropped:       "SERVER_DROPPED",
	GetJob:              "GET_JOB",
	GetData:             "GET_DATA",
	MalformedJobDoc:     "MALFORMED_JOB_DOC",
	NotAJobDoc:          "NOT_A_JOB_DOC",
	WrongBoard:          "WRONG_BOARD",
	InvalidVersion:      "INVALID_VERSION",
	Verify:              "VERIFY",
	BLEVerify:           "BLE_VERIFY",
	Redirect:            "REDIRECT",
	SendingResult:       "SENDING_RESULT",
	AppReturnedStop:     "APP_RETURNED_STOP",
	AppExceededRetries:  "APP_EXCEEDED_RETRIES",
	Exiting:             "EXITING",
	AlreadyConnected:    "ALREADY_CONNECTED",
	ChangingServer:      "CHANGING_SERVER",
	UseDirectFlow:       "USE_DIRECT_FLOW",
	NoUpdateAvailable:   "NO_UPDATE_AVAILABLE",
}

// String renders the taxonomy name, e.g. "INVALID_VERSION".
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsInformational reports whether c is one of the non-error sentinels
// (spec §7 "Informational (not errors) codes").
func (c Code) IsInformational() bool {
	switch c {
	case Exiting, AlreadyConnected, ChangingServer, UseDirectFlow, NoUpdateAvailable:
		return true
	default:
		return false
	}
}

// Error wraps a Code with context and an optional underlying cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error carrying cause, formatting message like
// fmt.Errorf's "%s: %w" idiom used throughout this codebase.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and reports ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code, true
	}
	return 0, false
}
