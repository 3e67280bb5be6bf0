package smartcard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/logging"
)

func quietFactory() logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	return lf
}

func TestService_InitializeRefCount(t *testing.T) {
	backend := newMockBackend(1)
	connects := 0
	svc := New(Config{
		Connector: ConnectorFunc(func() (Backend, error) {
			connects++
			return backend, nil
		}),
		LoggerFactory: quietFactory(),
	})

	if svc.Initialized() {
		t.Fatal("new service should not be initialized")
	}

	for i := 0; i < 3; i++ {
		if err := svc.Initialize(); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if connects != 1 {
		t.Errorf("connected %d times, want 1", connects)
	}
	if got := svc.RefCount(); got != 3 {
		t.Errorf("RefCount = %d, want 3", got)
	}

	for i := 0; i < 2; i++ {
		if err := svc.Deinitialize(); err != nil {
			t.Fatalf("Deinitialize #%d: %v", i, err)
		}
	}
	if backend.closeCalls != 0 {
		t.Error("backend closed while references remain")
	}

	if err := svc.Deinitialize(); err != nil {
		t.Fatalf("last Deinitialize: %v", err)
	}
	if backend.closeCalls != 1 || !backend.shutdown {
		t.Errorf("backend not released: close=%d shutdown=%v", backend.closeCalls, backend.shutdown)
	}
	if backend.handler != nil {
		t.Error("event handler still installed on the backend")
	}

	err := svc.Deinitialize()
	assertCode(t, err, ErrNotInitialized)
	if got := svc.RefCount(); got != 0 {
		t.Errorf("RefCount went to %d", got)
	}
}

func TestService_InitializeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"security", ResultSecurityNotAllowed, ErrPermissionDenied},
		{"wrapped security", fmt.Errorf("dial: %w", ResultSecurityNotAllowed), ErrPermissionDenied},
		{"io", ResultIOFailed, ErrGeneral},
		{"foreign", errors.New("no daemon"), ErrGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(Config{
				Connector:     ConnectorFunc(func() (Backend, error) { return nil, tt.err }),
				LoggerFactory: quietFactory(),
			})
			assertCode(t, svc.Initialize(), tt.want)
			if svc.Initialized() {
				t.Error("failed Initialize must not take a reference")
			}
		})
	}

	t.Run("no connector", func(t *testing.T) {
		svc := New(Config{LoggerFactory: quietFactory()})
		assertCode(t, svc.Initialize(), ErrGeneral)
	})
}

func TestService_DeinitializeCloseError(t *testing.T) {
	backend := newMockBackend(1).WithError("Close", ResultIOFailed)
	svc := newTestService(t, backend)
	r, _ := openTestSession(t, svc)

	assertCode(t, svc.Deinitialize(), ErrGeneral)
	if svc.Initialized() {
		t.Error("teardown must complete even when release fails")
	}

	// handles from the torn-down connection are gone
	if err := svc.Initialize(); err != nil {
		t.Fatal(err)
	}
	_, err := svc.ReaderName(r)
	assertCode(t, err, ErrInvalidParameter)
}

func TestService_NotSupported(t *testing.T) {
	backend := newMockBackend(1)
	svc := New(Config{
		Connector:     ConnectorFunc(func() (Backend, error) { return backend, nil }),
		Platform:      Features{SecureElement: true},
		LoggerFactory: quietFactory(),
	})

	assertCode(t, svc.Initialize(), ErrNotSupported)
	assertCode(t, svc.Deinitialize(), ErrNotSupported)
	_, err := svc.Readers()
	assertCode(t, err, ErrNotSupported)
	_, err = svc.Version()
	assertCode(t, err, ErrNotSupported)
	if backend.totalCalls() != 0 {
		t.Error("backend contacted without capability")
	}
}

func TestFeatures(t *testing.T) {
	tests := []struct {
		f    Features
		want bool
	}{
		{Features{}, false},
		{Features{SecureElement: true}, false},
		{Features{UICC: true, ESE: true}, false},
		{Features{SecureElement: true, UICC: true}, true},
		{Features{SecureElement: true, ESE: true}, true},
		{AllFeatures, true},
	}
	for _, tt := range tests {
		if got := tt.f.SecureElementSupported(); got != tt.want {
			t.Errorf("%+v: got %v, want %v", tt.f, got, tt.want)
		}
	}
}

func TestService_NotInitialized(t *testing.T) {
	backend := newMockBackend(1)
	svc := newTestService(t, backend)
	r, s := openTestSession(t, svc)
	c, err := svc.OpenLogicalChannel(s, nil, 0x00)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Deinitialize(); err != nil {
		t.Fatal(err)
	}
	before := backend.totalCalls()

	ops := map[string]func() error{
		"Readers":                func() error { _, err := svc.Readers(); return err },
		"ReaderName":             func() error { _, err := svc.ReaderName(r); return err },
		"IsSecureElementPresent": func() error { _, err := svc.IsSecureElementPresent(r); return err },
		"OpenSession":            func() error { _, err := svc.OpenSession(r); return err },
		"CloseSessions":          func() error { return svc.CloseSessions(r) },
		"SessionReader":          func() error { _, err := svc.SessionReader(s); return err },
		"SessionATR":             func() error { _, err := svc.SessionATR(s); return err },
		"CloseSession":           func() error { return svc.CloseSession(s) },
		"SessionIsClosed":        func() error { _, err := svc.SessionIsClosed(s); return err },
		"CloseChannels":          func() error { return svc.CloseChannels(s) },
		"OpenBasicChannel":       func() error { _, err := svc.OpenBasicChannel(s, nil, 0); return err },
		"OpenLogicalChannel":     func() error { _, err := svc.OpenLogicalChannel(s, nil, 0); return err },
		"CloseChannel":           func() error { return svc.CloseChannel(c) },
		"IsBasicChannel":         func() error { _, err := svc.IsBasicChannel(c); return err },
		"ChannelIsClosed":        func() error { _, err := svc.ChannelIsClosed(c); return err },
		"SelectResponse":         func() error { _, err := svc.SelectResponse(c); return err },
		"ChannelSession":         func() error { _, err := svc.ChannelSession(c); return err },
		"Transmit":               func() error { _, err := svc.Transmit(c, nil); return err },
		"RetrieveResponse":       func() error { _, err := svc.RetrieveResponse(c); return err },
		"SelectNext":             func() error { _, err := svc.SelectNext(c); return err },
		"SetEventHandler":        func() error { return svc.SetEventHandler(nil) },
		"UnsetEventHandler":      func() error { return svc.UnsetEventHandler() },
		"Version":                func() error { _, err := svc.Version(); return err },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assertCode(t, op(), ErrNotInitialized)
		})
	}
	if backend.totalCalls() != before {
		t.Error("backend contacted while uninitialized")
	}
}

func TestService_Version(t *testing.T) {
	svc := newTestService(t, newMockBackend())
	v, err := svc.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v != APIVersion {
		t.Errorf("Version = %q, want %q", v, APIVersion)
	}
}
