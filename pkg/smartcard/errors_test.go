package smartcard

import (
	"errors"
	"fmt"
	"testing"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, OK},
		{ResultOK, OK},
		{ResultNotSupported, ErrOperationNotSupported},
		{ResultUnavailable, ErrChannelNotAvailable},
		{ResultIPCFailed, ErrIOError},
		{ResultIOFailed, ErrIOError},
		{ResultSecurityNotAllowed, ErrPermissionDenied},
		{ResultIllegalState, ErrIllegalState},
		{ResultIllegalParam, ErrInvalidParameter},
		{ResultIllegalReference, ErrIllegalReference},
		{ResultNoSuchElement, ErrNoSuchElement},
		{ResultNotInitialized, ErrGeneral},
		{ResultSENotInitialized, ErrGeneral},
		{ResultOperationNotSupported, ErrGeneral},
		{ResultNeedMoreBuffer, ErrGeneral},
		{ResultOperationTimeout, ErrGeneral},
		{ResultNotEnoughResource, ErrGeneral},
		{ResultOutOfMemory, ErrGeneral},
		{ResultUnknown, ErrGeneral},
		{Result(99), ErrGeneral},
		{errors.New("boom"), ErrGeneral},
		{fmt.Errorf("select: %w", ResultNoSuchElement), ErrNoSuchElement},
		{fmt.Errorf("wrapped: %w", ErrIllegalReference), ErrIllegalReference},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := Translate(tt.err); got != tt.want {
				t.Errorf("Translate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != OK {
		t.Errorf("CodeOf(nil) = %v", got)
	}
	if got := CodeOf(errors.New("x")); got != ErrGeneral {
		t.Errorf("CodeOf(foreign) = %v", got)
	}

	err := fail("open session", ErrIllegalState)
	if got := CodeOf(err); got != ErrIllegalState {
		t.Errorf("CodeOf(wrapped) = %v", got)
	}
	if !errors.Is(err, ErrIllegalState) {
		t.Error("errors.Is should see the wrapped code")
	}
	if want := "open session: smartcard: illegal state"; err.Error() != want {
		t.Errorf("message: got %q, want %q", err.Error(), want)
	}
}

func TestResult_Error(t *testing.T) {
	if got := ResultIOFailed.Error(); got != "SCARD_ERROR_IO_FAILED" {
		t.Errorf("got %q", got)
	}
	if got := Result(42).Error(); got != "SCARD_ERROR(42)" {
		t.Errorf("got %q", got)
	}
	if got := Code(42).Error(); got != "smartcard: code 42" {
		t.Errorf("got %q", got)
	}
}
