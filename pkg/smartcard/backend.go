package smartcard

// Identifiers issued by the secure element service. They are opaque to this package.
type (
	ReaderID  uint32
	SessionID uint32
	ChannelID uint32
)

// EventType is the kind of reader event delivered to the event handler.
type EventType int

const (
	EventIOError EventType = iota
	EventInserted
	EventRemoved
)

func (e EventType) String() string {
	switch e {
	case EventIOError:
		return "io-error"
	case EventInserted:
		return "inserted"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChannelInfo describes a channel freshly opened by the backend.
type ChannelInfo struct {
	ID ChannelID
	// Number is the logical channel number on the card: 0 for the basic channel, 1-19 otherwise.
	Number uint8
	// SelectResponse is the raw response (data + SW) of the SELECT executed while opening.
	// Empty when no AID was given.
	SelectResponse []byte
}

// Backend is the secure element service collaborator. Implementations own the
// transport and the real state of readers, sessions and channels; errors should be
// Result values so they can be translated.
//
// Calls may block on I/O. The Service never holds its lock while calling a Backend.
type Backend interface {
	Readers() ([]ReaderID, error)
	ReaderName(ReaderID) (string, error)
	ReaderHasElement(ReaderID) (bool, error)

	OpenSession(ReaderID) (SessionID, error)
	CloseSession(SessionID) error
	SessionATR(SessionID) ([]byte, error)

	// OpenChannel opens the basic (basic = true) or a logical channel. A nil aid means
	// no SELECT: the default applet stays selected.
	OpenChannel(s SessionID, aid []byte, p2 byte, basic bool) (ChannelInfo, error)
	CloseChannel(ChannelID) error

	Transmit(ChannelID, []byte) ([]byte, error)
	LastResponse(ChannelID) ([]byte, error)
	SelectNext(ChannelID) (bool, error)

	SetEventHandler(func(ReaderID, EventType))
	UnsetEventHandler()

	// Shutdown stops background activity; Close releases the connection.
	Shutdown()
	Close() error
}

// Connector establishes the connection to the secure element service.
type Connector interface {
	Connect() (Backend, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func() (Backend, error)

// Connect calls f.
func (f ConnectorFunc) Connect() (Backend, error) {
	return f()
}

// Platform reports whether the device can host secure element access at all.
type Platform interface {
	SecureElementSupported() bool
}

// Features are the platform feature flags: the generic secure element feature plus at
// least one element type must be present.
type Features struct {
	SecureElement bool
	UICC          bool
	ESE           bool
}

// SecureElementSupported implements Platform.
func (f Features) SecureElementSupported() bool {
	return f.SecureElement && (f.UICC || f.ESE)
}

// AllFeatures is the Platform used when Config.Platform is nil.
var AllFeatures = Features{SecureElement: true, UICC: true, ESE: true}
