package virtualse

import (
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/google/go-cmp/cmp"
	"github.com/pion/logging"

	"github.com/gregLibert/smartcard-service/pkg/tlv"
)

func newTestSimulator(t *testing.T) (*Simulator, *Context) {
	t.Helper()
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled

	sim := NewSimulator(Config{LoggerFactory: lf})
	ctx, err := sim.EstablishContext()
	if err != nil {
		t.Fatalf("EstablishContext() error: %v", err)
	}
	return sim, ctx.(*Context)
}

func TestContext_ListReaders(t *testing.T) {
	sim, ctx := newTestSimulator(t)

	if _, err := ctx.ListReaders(); !errors.Is(err, scard.ErrNoReadersAvailable) {
		t.Fatalf("ListReaders() without readers: error %v, want %v", err, scard.ErrNoReadersAvailable)
	}

	sim.AddReader("UICC")
	sim.AddReader("eSE")
	sim.AddReader("UICC")

	got, err := ctx.ListReaders()
	if err != nil {
		t.Fatalf("ListReaders() error: %v", err)
	}
	if diff := cmp.Diff([]string{"UICC", "eSE"}, got); diff != "" {
		t.Errorf("ListReaders() mismatch (-want +got):\n%s", diff)
	}

	sim.RemoveReader("UICC")
	got, _ = ctx.ListReaders()
	if diff := cmp.Diff([]string{"eSE"}, got); diff != "" {
		t.Errorf("ListReaders() after detach mismatch (-want +got):\n%s", diff)
	}
}

func TestContext_Connect(t *testing.T) {
	sim, ctx := newTestSimulator(t)
	sim.AddReader("eSE")

	if _, err := ctx.Connect("SIM1", scard.ShareShared, scard.ProtocolAny); !errors.Is(err, scard.ErrUnknownReader) {
		t.Errorf("Connect(unknown) error = %v, want %v", err, scard.ErrUnknownReader)
	}
	if _, err := ctx.Connect("eSE", scard.ShareShared, scard.ProtocolAny); !errors.Is(err, scard.ErrNoSmartcard) {
		t.Errorf("Connect(empty) error = %v, want %v", err, scard.ErrNoSmartcard)
	}

	e := testElement()
	if err := sim.Insert("eSE", e); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	card, err := ctx.Connect("eSE", scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	status, err := card.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if diff := cmp.Diff(e.ATR, status.Atr); diff != "" {
		t.Errorf("ATR mismatch (-want +got):\n%s", diff)
	}
	if status.Reader != "eSE" {
		t.Errorf("Reader = %q, want %q", status.Reader, "eSE")
	}

	resp, err := card.Transmit(tlv.Hex("00 70 00 00 01"))
	if err != nil {
		t.Fatalf("Transmit() error: %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("01 90 00"), resp); diff != "" {
		t.Errorf("Transmit() mismatch (-want +got):\n%s", diff)
	}
}

func TestCard_Errors(t *testing.T) {
	sim, ctx := newTestSimulator(t)
	sim.AddReader("eSE")
	if err := sim.Insert("eSE", testElement()); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	t.Run("Disconnected", func(t *testing.T) {
		card, _ := ctx.Connect("eSE", scard.ShareShared, scard.ProtocolAny)
		if err := card.Disconnect(scard.LeaveCard); err != nil {
			t.Fatalf("Disconnect() error: %v", err)
		}
		if _, err := card.Transmit(tlv.Hex("00 B0 00 00")); !errors.Is(err, scard.ErrInvalidHandle) {
			t.Errorf("Transmit() error = %v, want %v", err, scard.ErrInvalidHandle)
		}
		if err := card.Disconnect(scard.LeaveCard); !errors.Is(err, scard.ErrInvalidHandle) {
			t.Errorf("second Disconnect() error = %v, want %v", err, scard.ErrInvalidHandle)
		}
	})

	t.Run("Removed", func(t *testing.T) {
		card, _ := ctx.Connect("eSE", scard.ShareShared, scard.ProtocolAny)
		if err := sim.Remove("eSE"); err != nil {
			t.Fatalf("Remove() error: %v", err)
		}
		if _, err := card.Transmit(tlv.Hex("00 B0 00 00")); !errors.Is(err, scard.ErrRemovedCard) {
			t.Errorf("Transmit() error = %v, want %v", err, scard.ErrRemovedCard)
		}

		// a new insertion does not revive the old connection
		if err := sim.Insert("eSE", testElement()); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
		if _, err := card.Status(); !errors.Is(err, scard.ErrRemovedCard) {
			t.Errorf("Status() error = %v, want %v", err, scard.ErrRemovedCard)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		card, _ := ctx.Connect("eSE", scard.ShareShared, scard.ProtocolAny)
		card.Transmit(tlv.Hex("00 70 00 00 01"))
		if err := card.Disconnect(scard.ResetCard); err != nil {
			t.Fatalf("Disconnect() error: %v", err)
		}

		card, _ = ctx.Connect("eSE", scard.ShareShared, scard.ProtocolAny)
		resp, err := card.Transmit(tlv.Hex("01 B0 00 00"))
		if err != nil {
			t.Fatalf("Transmit() error: %v", err)
		}
		if diff := cmp.Diff(tlv.Hex("68 81"), resp); diff != "" {
			t.Errorf("Transmit() after reset mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSimulator_Errors(t *testing.T) {
	sim, _ := newTestSimulator(t)

	if err := sim.Insert("eSE", testElement()); err == nil {
		t.Error("Insert(unknown reader) succeeded")
	}
	if err := sim.Remove("eSE"); err == nil {
		t.Error("Remove(unknown reader) succeeded")
	}
	sim.AddReader("eSE")
	if err := sim.Insert("eSE", nil); err == nil {
		t.Error("Insert(nil) succeeded")
	}
	if err := sim.Remove("eSE"); err != nil {
		t.Errorf("Remove(empty reader) error: %v", err)
	}
}

func TestContext_GetStatusChange(t *testing.T) {
	sim, ctx := newTestSimulator(t)
	sim.AddReader("eSE")

	t.Run("Unaware", func(t *testing.T) {
		states := []scard.ReaderState{{Reader: "eSE", CurrentState: scard.StateUnaware}}
		if err := ctx.GetStatusChange(states, 0); err != nil {
			t.Fatalf("GetStatusChange() error: %v", err)
		}
		if states[0].EventState&scard.StateEmpty == 0 {
			t.Errorf("EventState = %#x, want StateEmpty", states[0].EventState)
		}
		if states[0].EventState&scard.StateChanged == 0 {
			t.Errorf("EventState = %#x, want StateChanged", states[0].EventState)
		}
	})

	t.Run("Unchanged", func(t *testing.T) {
		states := []scard.ReaderState{{Reader: "eSE", CurrentState: scard.StateEmpty}}
		if err := ctx.GetStatusChange(states, 0); !errors.Is(err, scard.ErrTimeout) {
			t.Errorf("GetStatusChange(0) error = %v, want %v", err, scard.ErrTimeout)
		}
		if err := ctx.GetStatusChange(states, 10*time.Millisecond); !errors.Is(err, scard.ErrTimeout) {
			t.Errorf("GetStatusChange(10ms) error = %v, want %v", err, scard.ErrTimeout)
		}
	})

	t.Run("Unknown reader", func(t *testing.T) {
		states := []scard.ReaderState{{Reader: "SIM1", CurrentState: scard.StateUnaware}}
		if err := ctx.GetStatusChange(states, 0); err != nil {
			t.Fatalf("GetStatusChange() error: %v", err)
		}
		if states[0].EventState&scard.StateUnknown == 0 {
			t.Errorf("EventState = %#x, want StateUnknown", states[0].EventState)
		}
	})

	t.Run("Insertion wakes the wait", func(t *testing.T) {
		states := []scard.ReaderState{{Reader: "eSE", CurrentState: scard.StateEmpty}}
		done := make(chan error, 1)
		go func() {
			done <- ctx.GetStatusChange(states, -1)
		}()

		e := testElement()
		if err := sim.Insert("eSE", e); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("GetStatusChange() error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("GetStatusChange() did not return after insertion")
		}
		if states[0].EventState&scard.StatePresent == 0 {
			t.Errorf("EventState = %#x, want StatePresent", states[0].EventState)
		}
		if diff := cmp.Diff(e.ATR, states[0].Atr); diff != "" {
			t.Errorf("ATR mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		states := []scard.ReaderState{{Reader: "eSE", CurrentState: scard.StatePresent}}
		done := make(chan error, 1)
		go func() {
			done <- ctx.GetStatusChange(states, -1)
		}()

		// Cancel only aborts waits already pending, so retry until the goroutine is in.
		deadline := time.After(2 * time.Second)
		for {
			if err := ctx.Cancel(); err != nil {
				t.Fatalf("Cancel() error: %v", err)
			}
			select {
			case err := <-done:
				if !errors.Is(err, scard.ErrCancelled) {
					t.Errorf("GetStatusChange() error = %v, want %v", err, scard.ErrCancelled)
				}
				return
			case <-deadline:
				t.Fatal("GetStatusChange() was not cancelled")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
}

func TestContext_Release(t *testing.T) {
	sim, ctx := newTestSimulator(t)
	sim.AddReader("eSE")

	if err := ctx.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := ctx.ListReaders(); !errors.Is(err, scard.ErrInvalidHandle) {
		t.Errorf("ListReaders() error = %v, want %v", err, scard.ErrInvalidHandle)
	}
	if err := ctx.Cancel(); !errors.Is(err, scard.ErrInvalidHandle) {
		t.Errorf("Cancel() error = %v, want %v", err, scard.ErrInvalidHandle)
	}
	if err := ctx.Release(); !errors.Is(err, scard.ErrInvalidHandle) {
		t.Errorf("second Release() error = %v, want %v", err, scard.ErrInvalidHandle)
	}

	// other contexts are unaffected
	other, _ := sim.EstablishContext()
	if _, err := other.ListReaders(); err != nil {
		t.Errorf("ListReaders() on another context error: %v", err)
	}
}
