package virtualse

import (
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/gregLibert/smartcard-service/pkg/pcsc"
)

// Context is a PC/SC context on the readers of a Simulator.
type Context struct {
	sim *Simulator

	mu       sync.Mutex
	released bool
	// cancel is closed and replaced by Cancel, aborting the pending waits.
	cancel chan struct{}
}

var _ pcsc.Context = (*Context)(nil)

func (c *Context) cancelChan() (chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, scard.ErrInvalidHandle
	}
	return c.cancel, nil
}

// ListReaders lists the attached readers.
func (c *Context) ListReaders() ([]string, error) {
	if _, err := c.cancelChan(); err != nil {
		return nil, err
	}
	names := c.sim.names()
	if len(names) == 0 {
		return nil, scard.ErrNoReadersAvailable
	}
	return names, nil
}

// Connect connects to the element in reader. Share mode and protocols are ignored;
// the connection always runs T=1.
func (c *Context) Connect(reader string, _ scard.ShareMode, _ scard.Protocol) (pcsc.Card, error) {
	if _, err := c.cancelChan(); err != nil {
		return nil, err
	}
	e, insertion, ok := c.sim.inserted(reader)
	if !ok {
		return nil, scard.ErrUnknownReader
	}
	if e == nil {
		return nil, scard.ErrNoSmartcard
	}
	return &Card{
		sim:       c.sim,
		reader:    reader,
		element:   e,
		insertion: insertion,
	}, nil
}

func readerState(s *Simulator, name string) scard.StateFlag {
	sl, ok := s.readers[name]
	switch {
	case !ok:
		return scard.StateUnknown
	case sl.element == nil:
		return scard.StateEmpty
	default:
		return scard.StatePresent
	}
}

// GetStatusChange blocks until the state of one of the readers differs from its
// CurrentState, the timeout expires or Cancel is called. A negative timeout waits
// forever.
func (c *Context) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	cancel, err := c.cancelChan()
	if err != nil {
		return err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		c.sim.mu.Lock()
		changed := false
		for i := range states {
			st := readerState(c.sim, states[i].Reader)
			states[i].EventState = st
			if states[i].CurrentState&^scard.StateChanged != st {
				states[i].EventState |= scard.StateChanged
				changed = true
			}
			if sl := c.sim.readers[states[i].Reader]; sl != nil && sl.element != nil {
				states[i].Atr = append([]byte(nil), sl.element.ATR...)
			} else {
				states[i].Atr = nil
			}
		}
		wake := c.sim.changed
		c.sim.mu.Unlock()

		if changed {
			return nil
		}
		if timeout == 0 {
			return scard.ErrTimeout
		}

		select {
		case <-wake:
		case <-expired:
			return scard.ErrTimeout
		case <-cancel:
			return scard.ErrCancelled
		}
	}
}

// Cancel aborts the GetStatusChange calls pending on the context.
func (c *Context) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return scard.ErrInvalidHandle
	}
	close(c.cancel)
	c.cancel = make(chan struct{})
	return nil
}

// Release invalidates the context.
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return scard.ErrInvalidHandle
	}
	c.released = true
	close(c.cancel)
	return nil
}

// Card is a connection to a virtual element.
type Card struct {
	sim       *Simulator
	reader    string
	element   *Element
	insertion uint64

	mu           sync.Mutex
	disconnected bool
}

var _ pcsc.Card = (*Card)(nil)

// check fails when the connection was closed or the element left the reader.
func (c *Card) check() error {
	c.mu.Lock()
	disconnected := c.disconnected
	c.mu.Unlock()
	if disconnected {
		return scard.ErrInvalidHandle
	}

	_, insertion, ok := c.sim.inserted(c.reader)
	if !ok {
		return scard.ErrReaderUnavailable
	}
	if insertion != c.insertion {
		return scard.ErrRemovedCard
	}
	return nil
}

// Transmit sends a command APDU to the element.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.element.Process(cmd), nil
}

// Status returns the reader name, the protocol and the ATR of the element.
func (c *Card) Status() (*scard.CardStatus, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return &scard.CardStatus{
		Reader:         c.reader,
		ActiveProtocol: scard.ProtocolT1,
		Atr:            append([]byte(nil), c.element.ATR...),
	}, nil
}

// Disconnect closes the connection. ResetCard and UnpowerCard power the element
// up again, closing all its logical channels.
func (c *Card) Disconnect(d scard.Disposition) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return scard.ErrInvalidHandle
	}
	c.disconnected = true
	c.mu.Unlock()

	if d != scard.ResetCard && d != scard.UnpowerCard {
		return nil
	}
	if _, insertion, ok := c.sim.inserted(c.reader); ok && insertion == c.insertion {
		c.element.reset()
	}
	return nil
}
