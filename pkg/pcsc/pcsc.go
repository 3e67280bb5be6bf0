// Package pcsc implements smartcard.Backend over the PC/SC stack (pcsc-lite, WinSCard).
//
// Each PC/SC reader with an element is a secure element reader. A session is a shared
// card connection; channel 0 is the basic channel and logical channels are obtained
// with MANAGE CHANNEL. A background monitor watches reader states and reports element
// insertion and removal.
package pcsc

import (
	"time"

	"github.com/ebfe/scard"
)

// Context is the subset of *scard.Context the backend uses. It lets tests and the
// virtual secure element stand in for the PC/SC daemon.
type Context interface {
	ListReaders() ([]string, error)
	Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (Card, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Cancel() error
	Release() error
}

// Card is the subset of *scard.Card the backend uses.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (*scard.CardStatus, error)
	Disconnect(d scard.Disposition) error
}

// ContextFactory establishes PC/SC contexts. The backend opens two: one for card
// operations and one for the blocking status monitor.
type ContextFactory interface {
	EstablishContext() (Context, error)
}

// ContextFactoryFunc adapts a function to ContextFactory.
type ContextFactoryFunc func() (Context, error)

// EstablishContext calls f.
func (f ContextFactoryFunc) EstablishContext() (Context, error) {
	return f()
}

// System is the ContextFactory backed by the PC/SC daemon of the host.
var System ContextFactory = ContextFactoryFunc(func() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return scardContext{ctx}, nil
})

type scardContext struct {
	*scard.Context
}

func (c scardContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (Card, error) {
	card, err := c.Context.Connect(reader, mode, proto)
	if err != nil {
		return nil, err
	}
	return card, nil
}
