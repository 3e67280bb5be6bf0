package smartcard

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// APIVersion is the SIMalliance Open Mobile API version this service implements.
const APIVersion = "3.2"

// Config configures a Service.
type Config struct {
	// Connector establishes the backend connection on the first Initialize.
	Connector Connector

	// Platform reports the secure element capability. Defaults to AllFeatures.
	Platform Platform

	// LoggerFactory is the factory for creating loggers. Defaults to
	// logging.NewDefaultLoggerFactory().
	LoggerFactory logging.LoggerFactory
}

// Service is the context object every operation runs against. It owns the lifecycle
// reference count, the connection to the backend and the local handle registry.
// A Service is safe for concurrent use.
type Service struct {
	connector Connector
	platform  Platform
	log       logging.LeveledLogger

	// lifecycle serializes Initialize and Deinitialize so that connecting and
	// tearing down happen once, without holding mu across backend calls.
	lifecycle sync.Mutex

	mu       sync.Mutex
	refCount int
	conn     Backend // non-nil iff refCount > 0
	epoch    uint64  // bumped on every teardown
	reg      registry
	onEvent  EventHandler
}

// New creates a Service. Nothing is connected until Initialize.
func New(cfg Config) *Service {
	if cfg.Platform == nil {
		cfg.Platform = AllFeatures
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Service{
		connector: cfg.Connector,
		platform:  cfg.Platform,
		log:       cfg.LoggerFactory.NewLogger("smartcard"),
	}
}

// Initialize takes a reference on the service, connecting to the backend on the
// first call.
func (s *Service) Initialize() error {
	const op = "initialize"
	if !s.platform.SecureElementSupported() {
		return fail(op, ErrNotSupported)
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.refCount > 0 {
		s.refCount++
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.connector == nil {
		s.log.Errorf("%s: no connector configured", op)
		return fail(op, ErrGeneral)
	}

	conn, err := s.connector.Connect()
	if err != nil {
		code := ErrGeneral
		if Translate(err) == ErrPermissionDenied {
			code = ErrPermissionDenied
		}
		s.log.Errorf("%s: connect failed: %v", op, err)
		return fail(op, code)
	}

	s.mu.Lock()
	s.conn = conn
	s.refCount = 1
	s.mu.Unlock()

	conn.SetEventHandler(s.dispatch)
	s.log.Infof("connected to secure element service")

	return nil
}

// Deinitialize releases a reference. The last reference shuts the backend down and
// invalidates every handle. A failing release is reported as ErrGeneral; the service
// is uninitialized afterwards either way.
func (s *Service) Deinitialize() error {
	const op = "deinitialize"
	if !s.platform.SecureElementSupported() {
		return fail(op, ErrNotSupported)
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.refCount == 0 {
		s.mu.Unlock()
		return fail(op, ErrNotInitialized)
	}
	s.refCount--
	if s.refCount > 0 {
		s.mu.Unlock()
		return nil
	}

	conn := s.conn
	s.conn = nil
	s.onEvent = nil
	s.reg.clear()
	s.epoch++
	s.mu.Unlock()

	conn.UnsetEventHandler()
	conn.Shutdown()
	if err := conn.Close(); err != nil {
		s.log.Errorf("%s: release failed: %v", op, err)
		return fail(op, ErrGeneral)
	}

	s.log.Infof("disconnected from secure element service")
	return nil
}

// Initialized reports whether at least one Initialize is outstanding.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount > 0
}

// RefCount returns the number of outstanding Initialize calls.
func (s *Service) RefCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount
}

// Version returns APIVersion.
func (s *Service) Version() (string, error) {
	_, _, err := s.begin()
	if err != nil {
		return "", fail("version", err)
	}
	s.mu.Unlock()
	return APIVersion, nil
}

// begin runs the capability and lifecycle checks shared by every operation.
// On success s.mu is held and the caller must release it.
func (s *Service) begin() (Backend, uint64, error) {
	if !s.platform.SecureElementSupported() {
		return nil, 0, ErrNotSupported
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, 0, ErrNotInitialized
	}
	return s.conn, s.epoch, nil
}

// sameEpochLocked reports whether the connection seen at epoch is still the live one.
func (s *Service) sameEpochLocked(epoch uint64) error {
	if s.conn == nil {
		return ErrNotInitialized
	}
	if s.epoch != epoch {
		return ErrIllegalReference
	}
	return nil
}

// backendError translates a backend failure for op.
func (s *Service) backendError(op string, err error) error {
	code := Translate(err)
	s.log.Debugf("%s: %v => %v", op, err, code)
	return fail(op, code)
}

func fail(op string, code error) error {
	return fmt.Errorf("%s: %w", op, code)
}
