package smartcard

import (
	"errors"
	"fmt"
)

// Code is the public result taxonomy. Every non-nil error returned by a Service
// method wraps exactly one Code, retrievable with errors.Is or CodeOf.
type Code int

const (
	// OK is never returned as an error; CodeOf(nil) reports it.
	OK Code = iota
	// ErrNotSupported: the platform lacks the secure element capability.
	ErrNotSupported
	// ErrNotInitialized: the service lifecycle is not active.
	ErrNotInitialized
	// ErrInvalidParameter: nil or malformed argument, or a handle that was never registered.
	ErrInvalidParameter
	// ErrIllegalState: the handle is known but in the wrong phase (closed, stale, no transmit yet).
	ErrIllegalState
	// ErrIllegalReference: the reference between two handles is broken.
	ErrIllegalReference
	// ErrChannelNotAvailable: no free channel on the secure element.
	ErrChannelNotAvailable
	// ErrNoSuchElement: the requested applet could not be found.
	ErrNoSuchElement
	// ErrOperationNotSupported: the secure element refuses this specific operation.
	ErrOperationNotSupported
	// ErrIOError: transport failure.
	ErrIOError
	// ErrPermissionDenied: privilege check failed.
	ErrPermissionDenied
	// ErrGeneral: unclassified failure from the secure element service.
	ErrGeneral
)

var codeNames = map[Code]string{
	OK:                       "ok",
	ErrNotSupported:          "not supported",
	ErrNotInitialized:        "not initialized",
	ErrInvalidParameter:      "invalid parameter",
	ErrIllegalState:          "illegal state",
	ErrIllegalReference:      "illegal reference",
	ErrChannelNotAvailable:   "channel not available",
	ErrNoSuchElement:         "no such element",
	ErrOperationNotSupported: "operation not supported",
	ErrIOError:               "i/o error",
	ErrPermissionDenied:      "permission denied",
	ErrGeneral:               "general error",
}

func (c Code) Error() string {
	if name, ok := codeNames[c]; ok {
		return "smartcard: " + name
	}
	return fmt.Sprintf("smartcard: code %d", int(c))
}

// CodeOf extracts the Code carried by err. It returns OK for nil and ErrGeneral for
// errors that carry no Code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrGeneral
}

// Result is the native vocabulary of the secure element service collaborator.
// Backends return Result values (possibly wrapped); the Service translates them.
type Result int

const (
	ResultOK Result = iota
	ResultNotSupported
	ResultUnavailable
	ResultIPCFailed
	ResultIOFailed
	ResultSecurityNotAllowed
	ResultIllegalState
	ResultIllegalParam
	ResultIllegalReference
	ResultNoSuchElement
	ResultNotInitialized
	ResultSENotInitialized
	ResultOperationNotSupported
	ResultNeedMoreBuffer
	ResultOperationTimeout
	ResultNotEnoughResource
	ResultOutOfMemory
	ResultUnknown
)

var resultNames = map[Result]string{
	ResultOK:                    "SCARD_ERROR_OK",
	ResultNotSupported:          "SCARD_ERROR_NOT_SUPPORTED",
	ResultUnavailable:           "SCARD_ERROR_UNAVAILABLE",
	ResultIPCFailed:             "SCARD_ERROR_IPC_FAILED",
	ResultIOFailed:              "SCARD_ERROR_IO_FAILED",
	ResultSecurityNotAllowed:    "SCARD_ERROR_SECURITY_NOT_ALLOWED",
	ResultIllegalState:          "SCARD_ERROR_ILLEGAL_STATE",
	ResultIllegalParam:          "SCARD_ERROR_ILLEGAL_PARAM",
	ResultIllegalReference:      "SCARD_ERROR_ILLEGAL_REFERENCE",
	ResultNoSuchElement:         "SCARD_ERROR_NO_SUCH_ELEMENT",
	ResultNotInitialized:        "SCARD_ERROR_NOT_INITIALIZED",
	ResultSENotInitialized:      "SCARD_ERROR_SE_NOT_INITIALIZED",
	ResultOperationNotSupported: "SCARD_ERROR_OPERATION_NOT_SUPPORTED",
	ResultNeedMoreBuffer:        "SCARD_ERROR_NEED_MORE_BUFFER",
	ResultOperationTimeout:      "SCARD_ERROR_OPERATION_TIMEOUT",
	ResultNotEnoughResource:     "SCARD_ERROR_NOT_ENOUGH_RESOURCE",
	ResultOutOfMemory:           "SCARD_ERROR_OUT_OF_MEMORY",
	ResultUnknown:               "SCARD_ERROR_UNKNOWN",
}

func (r Result) Error() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("SCARD_ERROR(%d)", int(r))
}

var resultCodes = map[Result]Code{
	ResultOK:                 OK,
	ResultNotSupported:       ErrOperationNotSupported,
	ResultUnavailable:        ErrChannelNotAvailable,
	ResultIPCFailed:          ErrIOError,
	ResultIOFailed:           ErrIOError,
	ResultSecurityNotAllowed: ErrPermissionDenied,
	ResultIllegalState:       ErrIllegalState,
	ResultIllegalParam:       ErrInvalidParameter,
	ResultIllegalReference:   ErrIllegalReference,
	ResultNoSuchElement:      ErrNoSuchElement,
}

// Translate maps a collaborator error onto the public taxonomy. Results without an
// explicit mapping (timeouts, resource exhaustion, ...) and foreign errors become
// ErrGeneral. A Code already present in the chain is kept as is.
func Translate(err error) Code {
	if err == nil {
		return OK
	}

	var r Result
	if errors.As(err, &r) {
		if c, ok := resultCodes[r]; ok {
			return c
		}
		return ErrGeneral
	}

	var c Code
	if errors.As(err, &c) {
		return c
	}

	return ErrGeneral
}
