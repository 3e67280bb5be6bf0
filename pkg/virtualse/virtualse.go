// Package virtualse simulates PC/SC readers holding virtual secure elements.
//
// A Simulator is a pcsc.ContextFactory: the PC/SC backend runs against it unchanged,
// which makes it usable in tests and in the setool demo on hosts without a reader.
//
//	sim := virtualse.NewSimulator(virtualse.Config{})
//	sim.AddReader("eSE")
//	sim.Insert("eSE", &virtualse.Element{ATR: atr, Applets: applets})
//	svc := smartcard.New(smartcard.Config{
//		Connector: pcsc.NewConnector(pcsc.Config{ContextFactory: sim}),
//	})
package virtualse

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pion/logging"

	"github.com/gregLibert/smartcard-service/pkg/pcsc"
)

// Config configures a Simulator.
type Config struct {
	// LoggerFactory is the factory for creating loggers. Defaults to
	// logging.NewDefaultLoggerFactory().
	LoggerFactory logging.LoggerFactory
}

type slot struct {
	element *Element
	// insertion changes every time an element is inserted or removed, so cards
	// connected to an earlier insertion fail with ErrRemovedCard.
	insertion uint64
}

// Simulator holds the virtual readers shared by every context it establishes.
type Simulator struct {
	log logging.LeveledLogger

	mu      sync.Mutex
	readers map[string]*slot
	// changed is closed and replaced whenever a reader or an element comes or goes.
	changed   chan struct{}
	insertion uint64
}

// NewSimulator returns a Simulator without readers.
func NewSimulator(cfg Config) *Simulator {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Simulator{
		log:     cfg.LoggerFactory.NewLogger("virtualse"),
		readers: make(map[string]*slot),
		changed: make(chan struct{}),
	}
}

// notifyLocked wakes the pending status change waits.
func (s *Simulator) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// AddReader attaches an empty reader. Adding an existing reader is a no-op.
func (s *Simulator) AddReader(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readers[name]; ok {
		return
	}
	s.readers[name] = &slot{}
	s.log.Debugf("reader %q attached", name)
	s.notifyLocked()
}

// RemoveReader detaches a reader, removing its element.
func (s *Simulator) RemoveReader(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readers[name]; !ok {
		return
	}
	delete(s.readers, name)
	s.log.Debugf("reader %q detached", name)
	s.notifyLocked()
}

// Insert puts e into the reader and powers it up. An element already in the reader
// is replaced.
func (s *Simulator) Insert(reader string, e *Element) error {
	if e == nil {
		return fmt.Errorf("virtualse: insert into %q: nil element", reader)
	}
	e.reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.readers[reader]
	if !ok {
		return fmt.Errorf("virtualse: insert: unknown reader %q", reader)
	}
	s.insertion++
	sl.element = e
	sl.insertion = s.insertion
	s.log.Debugf("reader %q: element inserted, ATR % X", reader, e.ATR)
	s.notifyLocked()
	return nil
}

// Remove takes the element out of the reader.
func (s *Simulator) Remove(reader string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.readers[reader]
	if !ok {
		return fmt.Errorf("virtualse: remove: unknown reader %q", reader)
	}
	if sl.element == nil {
		return nil
	}
	s.insertion++
	sl.element = nil
	sl.insertion = s.insertion
	s.log.Debugf("reader %q: element removed", reader)
	s.notifyLocked()
	return nil
}

// EstablishContext returns a new context on the simulated readers.
func (s *Simulator) EstablishContext() (pcsc.Context, error) {
	return &Context{
		sim:    s,
		cancel: make(chan struct{}),
	}, nil
}

// names lists the readers in a stable order.
func (s *Simulator) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.readers))
	for name := range s.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// inserted returns the element in reader and its insertion number.
func (s *Simulator) inserted(reader string) (*Element, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.readers[reader]
	if !ok {
		return nil, 0, false
	}
	return sl.element, sl.insertion, true
}
