package pcsc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/pion/logging"

	"github.com/gregLibert/smartcard-service/pkg/iso7816"
	"github.com/gregLibert/smartcard-service/pkg/smartcard"
)

// DefaultPollInterval bounds each wait of the status monitor.
const DefaultPollInterval = 500 * time.Millisecond

// Config configures the PC/SC backend.
type Config struct {
	// ContextFactory establishes PC/SC contexts. Defaults to System.
	ContextFactory ContextFactory

	// PollInterval is the timeout of each status wait of the monitor. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration

	// RestrictBasicChannel reports readers whose basic channel cannot be opened on a
	// specific applet (UICC readers). Defaults to IsUICCReader.
	RestrictBasicChannel func(reader string) bool

	// LoggerFactory is the factory for creating loggers. Defaults to
	// logging.NewDefaultLoggerFactory().
	LoggerFactory logging.LoggerFactory
}

// IsUICCReader reports readers named after a SIM or UICC slot.
func IsUICCReader(reader string) bool {
	name := strings.ToUpper(reader)
	return strings.HasPrefix(name, "SIM") || strings.HasPrefix(name, "UICC")
}

// NewConnector returns a smartcard.Connector opening a Backend with cfg.
func NewConnector(cfg Config) smartcard.Connector {
	return smartcard.ConnectorFunc(func() (smartcard.Backend, error) {
		return Open(cfg)
	})
}

// Backend implements smartcard.Backend over PC/SC.
type Backend struct {
	cfg Config
	ctx Context
	log logging.LeveledLogger

	mu          sync.Mutex
	readerIDs   map[string]smartcard.ReaderID
	readerNames map[smartcard.ReaderID]string
	sessions    map[smartcard.SessionID]*session
	channels    map[smartcard.ChannelID]*channel
	lastID      uint32
	handler     func(smartcard.ReaderID, smartcard.EventType)

	mon *monitor
}

type session struct {
	id     smartcard.SessionID
	reader smartcard.ReaderID
	card   Card
	atr    []byte
	closed bool
	basic  bool // basic channel in use

	// io serializes exchanges on the card connection.
	io     sync.Mutex
	client *iso7816.Client
}

type channel struct {
	id      smartcard.ChannelID
	session *session
	number  uint8
	aid     []byte
	p2      byte

	selectResponse []byte
	last           []byte
}

// Open establishes the PC/SC contexts and starts the status monitor.
func Open(cfg Config) (*Backend, error) {
	if cfg.ContextFactory == nil {
		cfg.ContextFactory = System
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RestrictBasicChannel == nil {
		cfg.RestrictBasicChannel = IsUICCReader
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	ctx, err := cfg.ContextFactory.EstablishContext()
	if err != nil {
		return nil, wrap("establish context", err)
	}
	monCtx, err := cfg.ContextFactory.EstablishContext()
	if err != nil {
		ctx.Release()
		return nil, wrap("establish monitor context", err)
	}

	b := &Backend{
		cfg:         cfg,
		ctx:         ctx,
		log:         cfg.LoggerFactory.NewLogger("pcsc"),
		readerIDs:   make(map[string]smartcard.ReaderID),
		readerNames: make(map[smartcard.ReaderID]string),
		sessions:    make(map[smartcard.SessionID]*session),
		channels:    make(map[smartcard.ChannelID]*channel),
	}
	b.mon = newMonitor(b, monCtx)
	b.mon.start()

	return b, nil
}

func (b *Backend) nextID() uint32 {
	b.lastID++
	return b.lastID
}

// readerID returns the id of name, assigning one on first sight. Callers hold b.mu.
func (b *Backend) readerID(name string) smartcard.ReaderID {
	if id, ok := b.readerIDs[name]; ok {
		return id
	}
	id := smartcard.ReaderID(b.nextID())
	b.readerIDs[name] = id
	b.readerNames[id] = name
	return id
}

func (b *Backend) readerName(id smartcard.ReaderID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.readerNames[id]
	if !ok {
		return "", smartcard.ResultIllegalParam
	}
	return name, nil
}

// goneLocked is the result for an id missing from the tables: one issued earlier was
// closed or lost with its element, any other was never valid.
func (b *Backend) goneLocked(id uint32) smartcard.Result {
	if id != 0 && id <= b.lastID {
		return smartcard.ResultIllegalState
	}
	return smartcard.ResultIllegalParam
}

func (b *Backend) session(id smartcard.SessionID) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, b.goneLocked(uint32(id))
	}
	if s.closed {
		return nil, smartcard.ResultIllegalState
	}
	return s, nil
}

func (b *Backend) channel(id smartcard.ChannelID) (*channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.channels[id]
	if !ok {
		return nil, b.goneLocked(uint32(id))
	}
	if c.session.closed {
		return nil, smartcard.ResultIllegalState
	}
	return c, nil
}

// Readers lists the PC/SC readers. No reader attached is an empty list.
func (b *Backend) Readers() ([]smartcard.ReaderID, error) {
	names, err := b.ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("list readers", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]smartcard.ReaderID, 0, len(names))
	for _, name := range names {
		ids = append(ids, b.readerID(name))
	}
	return ids, nil
}

// ReaderName returns the PC/SC name of the reader.
func (b *Backend) ReaderName(id smartcard.ReaderID) (string, error) {
	return b.readerName(id)
}

// ReaderHasElement polls the current reader state without blocking.
func (b *Backend) ReaderHasElement(id smartcard.ReaderID) (bool, error) {
	name, err := b.readerName(id)
	if err != nil {
		return false, err
	}

	rs := []scard.ReaderState{{Reader: name, CurrentState: scard.StateUnaware}}
	if err := b.ctx.GetStatusChange(rs, 0); err != nil && !errors.Is(err, scard.ErrTimeout) {
		return false, wrap("reader state", err)
	}
	return rs[0].EventState&scard.StatePresent != 0, nil
}

// OpenSession connects to the element in shared mode.
func (b *Backend) OpenSession(id smartcard.ReaderID) (smartcard.SessionID, error) {
	name, err := b.readerName(id)
	if err != nil {
		return 0, err
	}

	card, err := b.ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return 0, wrap("connect", err)
	}
	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		return 0, wrap("card status", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s := &session{
		id:     smartcard.SessionID(b.nextID()),
		reader: id,
		card:   card,
		atr:    append([]byte(nil), status.Atr...),
		client: iso7816.NewClient(card),
	}
	b.sessions[s.id] = s

	b.log.Debugf("session %d on %q, ATR % X", s.id, name, s.atr)
	return s.id, nil
}

// CloseSession closes the logical channels of the session and disconnects. A
// session already dropped, by an earlier close or by the removal of its element, is
// closed.
func (b *Backend) CloseSession(id smartcard.SessionID) error {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if !ok {
		err := b.goneLocked(uint32(id))
		b.mu.Unlock()
		if err == smartcard.ResultIllegalState {
			return nil
		}
		return err
	}
	open := b.dropSessionLocked(s)
	b.mu.Unlock()

	for _, c := range open {
		if err := b.manageClose(s, c.number); err != nil {
			b.log.Warnf("session %d: closing channel %d: %v", id, c.number, err)
		}
	}

	if err := s.card.Disconnect(scard.LeaveCard); err != nil {
		return wrap("disconnect", err)
	}
	return nil
}

// SessionATR returns the ATR read when the session was opened.
func (b *Backend) SessionATR(id smartcard.SessionID) ([]byte, error) {
	s, err := b.session(id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s.atr...), nil
}

// Transmit exchanges a raw command on the channel. The CLA byte is expected to carry
// the channel number already. 61XX and 6CXX procedures are followed.
func (b *Backend) Transmit(id smartcard.ChannelID, cmd []byte) ([]byte, error) {
	c, err := b.channel(id)
	if err != nil {
		return nil, err
	}

	c.session.io.Lock()
	resp, err := c.session.client.Transmit(cmd)
	c.session.io.Unlock()
	if err != nil {
		return nil, wrap("transmit", err)
	}

	b.mu.Lock()
	c.last = resp
	b.mu.Unlock()

	return append([]byte(nil), resp...), nil
}

// LastResponse returns the response of the last Transmit on the channel.
func (b *Backend) LastResponse(id smartcard.ChannelID) ([]byte, error) {
	c, err := b.channel(id)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c.last == nil {
		return nil, smartcard.ResultIllegalState
	}
	return append([]byte(nil), c.last...), nil
}

// SetEventHandler installs the reader event handler.
func (b *Backend) SetEventHandler(h func(smartcard.ReaderID, smartcard.EventType)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// UnsetEventHandler removes the reader event handler.
func (b *Backend) UnsetEventHandler() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = nil
}

func (b *Backend) emit(name string, ev smartcard.EventType) {
	b.mu.Lock()
	id := b.readerID(name)
	if ev == smartcard.EventRemoved {
		b.invalidateLocked(id)
	}
	h := b.handler
	b.mu.Unlock()

	b.log.Infof("reader %q: %v", name, ev)
	if h != nil {
		h(id, ev)
	}
}

// dropSessionLocked forgets s and its channels and marks it closed for the calls
// still holding it. It returns the dropped channels.
func (b *Backend) dropSessionLocked(s *session) []*channel {
	var dropped []*channel
	for _, c := range b.channels {
		if c.session == s {
			dropped = append(dropped, c)
			delete(b.channels, c.id)
		}
	}
	delete(b.sessions, s.id)
	s.closed = true
	return dropped
}

// invalidateLocked drops the sessions of a reader whose element was removed.
func (b *Backend) invalidateLocked(id smartcard.ReaderID) {
	for _, s := range b.sessions {
		if s.reader == id {
			b.dropSessionLocked(s)
			s.card.Disconnect(scard.LeaveCard)
		}
	}
}

// Shutdown stops the status monitor and waits for it.
func (b *Backend) Shutdown() {
	b.mon.stop()
}

// Close disconnects every session and releases the PC/SC contexts.
func (b *Backend) Close() error {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[smartcard.SessionID]*session)
	b.channels = make(map[smartcard.ChannelID]*channel)
	b.mu.Unlock()

	for _, s := range sessions {
		if !s.closed {
			s.card.Disconnect(scard.LeaveCard)
		}
	}

	var errs []error
	if err := b.mon.ctx.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release monitor context: %w", err))
	}
	if err := b.ctx.Release(); err != nil {
		errs = append(errs, wrap("release context", err))
	}
	return errors.Join(errs...)
}
