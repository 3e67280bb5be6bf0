package smartcard

import (
	"sync"
	"testing"
)

// mockBackend implements Backend for testing
type mockBackend struct {
	mu sync.Mutex

	readers  []ReaderID
	names    map[ReaderID]string
	present  map[ReaderID]bool
	atr      []byte
	errs     map[string]error // operation name -> error to return
	calls    map[string]int
	nextID   uint32
	numbers  map[SessionID]uint8
	sessions map[SessionID]ReaderID
	channels map[ChannelID]SessionID
	sent     map[ChannelID][][]byte
	last     map[ChannelID][]byte
	reply    []byte
	selected []byte
	nextOK   bool

	// hook runs inside OpenSession/OpenChannel after the id is allocated.
	hook func()

	handler    func(ReaderID, EventType)
	shutdown   bool
	closeCalls int
}

func newMockBackend(readers ...ReaderID) *mockBackend {
	return &mockBackend{
		readers:  readers,
		names:    map[ReaderID]string{},
		present:  map[ReaderID]bool{},
		atr:      []byte{0x3B, 0x8F, 0x80, 0x01},
		errs:     map[string]error{},
		calls:    map[string]int{},
		numbers:  map[SessionID]uint8{},
		sessions: map[SessionID]ReaderID{},
		channels: map[ChannelID]SessionID{},
		sent:     map[ChannelID][][]byte{},
		last:     map[ChannelID][]byte{},
		reply:    []byte{0x90, 0x00},
		selected: []byte{0x6F, 0x00, 0x90, 0x00},
		nextOK:   true,
	}
}

// WithError makes the named operation fail.
func (m *mockBackend) WithError(op string, err error) *mockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
	return m
}

func (m *mockBackend) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.errs[op]
}

func (m *mockBackend) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockBackend) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockBackend) Readers() ([]ReaderID, error) {
	if err := m.enter("Readers"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReaderID(nil), m.readers...), nil
}

func (m *mockBackend) ReaderName(id ReaderID) (string, error) {
	if err := m.enter("ReaderName"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[id], nil
}

func (m *mockBackend) ReaderHasElement(id ReaderID) (bool, error) {
	if err := m.enter("ReaderHasElement"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present[id], nil
}

func (m *mockBackend) OpenSession(id ReaderID) (SessionID, error) {
	if err := m.enter("OpenSession"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.nextID++
	sid := SessionID(m.nextID)
	m.sessions[sid] = id
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sid, nil
}

func (m *mockBackend) CloseSession(id SessionID) error {
	return m.enter("CloseSession")
}

func (m *mockBackend) SessionATR(id SessionID) ([]byte, error) {
	if err := m.enter("SessionATR"); err != nil {
		return nil, err
	}
	return m.atr, nil
}

func (m *mockBackend) OpenChannel(s SessionID, aid []byte, p2 byte, basic bool) (ChannelInfo, error) {
	if err := m.enter("OpenChannel"); err != nil {
		return ChannelInfo{}, err
	}
	m.mu.Lock()
	m.nextID++
	info := ChannelInfo{ID: ChannelID(m.nextID)}
	if !basic {
		m.numbers[s]++
		info.Number = m.numbers[s]
	}
	if aid != nil {
		info.SelectResponse = m.selected
	}
	m.channels[info.ID] = s
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return info, nil
}

func (m *mockBackend) CloseChannel(id ChannelID) error {
	return m.enter("CloseChannel")
}

func (m *mockBackend) Transmit(id ChannelID, cmd []byte) ([]byte, error) {
	if err := m.enter("Transmit"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[id] = append(m.sent[id], append([]byte(nil), cmd...))
	m.last[id] = m.reply
	return m.reply, nil
}

func (m *mockBackend) LastResponse(id ChannelID) ([]byte, error) {
	if err := m.enter("LastResponse"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[id], nil
}

func (m *mockBackend) SelectNext(id ChannelID) (bool, error) {
	if err := m.enter("SelectNext"); err != nil {
		return false, err
	}
	return m.nextOK, nil
}

func (m *mockBackend) SetEventHandler(h func(ReaderID, EventType)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockBackend) UnsetEventHandler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
}

// emit delivers an event the way a monitor goroutine would.
func (m *mockBackend) emit(id ReaderID, ev EventType) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(id, ev)
	}
}

func (m *mockBackend) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}

func (m *mockBackend) Close() error {
	m.mu.Lock()
	m.closeCalls++
	m.mu.Unlock()
	return m.enter("Close")
}

// newTestService returns an initialized Service over backend.
func newTestService(t *testing.T, backend *mockBackend) *Service {
	t.Helper()

	svc := New(Config{
		Connector:     ConnectorFunc(func() (Backend, error) { return backend, nil }),
		LoggerFactory: quietFactory(),
	})
	if err := svc.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return svc
}

// openTestSession enumerates readers and opens a session on the first one.
func openTestSession(t *testing.T, svc *Service) (Reader, Session) {
	t.Helper()

	readers, err := svc.Readers()
	if err != nil {
		t.Fatalf("Readers failed: %v", err)
	}
	if len(readers) == 0 {
		t.Fatal("no readers")
	}
	s, err := svc.OpenSession(readers[0])
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	return readers[0], s
}

func assertCode(t *testing.T, err error, want Code) {
	t.Helper()
	if got := CodeOf(err); got != want {
		t.Errorf("error code: got %v, want %v (err: %v)", got, want, err)
	}
}
