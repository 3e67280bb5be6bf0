package pcsc

import (
	"errors"
	"fmt"

	"github.com/gregLibert/smartcard-service/pkg/iso7816"
	"github.com/gregLibert/smartcard-service/pkg/smartcard"
)

// OpenChannel opens the basic channel or a new logical channel and selects aid on it.
func (b *Backend) OpenChannel(id smartcard.SessionID, aid []byte, p2 byte, basic bool) (smartcard.ChannelInfo, error) {
	s, err := b.session(id)
	if err != nil {
		return smartcard.ChannelInfo{}, err
	}

	if basic {
		return b.openBasic(s, aid, p2)
	}
	return b.openLogical(s, aid, p2)
}

func (b *Backend) openBasic(s *session, aid []byte, p2 byte) (smartcard.ChannelInfo, error) {
	b.mu.Lock()
	if s.basic {
		b.mu.Unlock()
		return smartcard.ChannelInfo{}, smartcard.ResultUnavailable
	}
	name := b.readerNames[s.reader]
	if aid != nil && b.cfg.RestrictBasicChannel(name) {
		b.mu.Unlock()
		return smartcard.ChannelInfo{}, smartcard.ResultNotSupported
	}
	s.basic = true
	b.mu.Unlock()

	var resp []byte
	if aid != nil {
		var err error
		resp, err = b.selectApplication(s, 0, aid, p2)
		if err != nil {
			b.mu.Lock()
			s.basic = false
			b.mu.Unlock()
			return smartcard.ChannelInfo{}, err
		}
	}

	return b.addChannel(s, 0, aid, p2, resp), nil
}

func (b *Backend) openLogical(s *session, aid []byte, p2 byte) (smartcard.ChannelInfo, error) {
	number, err := b.manageOpen(s)
	if err != nil {
		return smartcard.ChannelInfo{}, err
	}

	var resp []byte
	if aid != nil {
		resp, err = b.selectApplication(s, number, aid, p2)
		if err != nil {
			if cerr := b.manageClose(s, number); cerr != nil {
				b.log.Warnf("session %d: releasing channel %d: %v", s.id, number, cerr)
			}
			return smartcard.ChannelInfo{}, err
		}
	}

	return b.addChannel(s, number, aid, p2, resp), nil
}

func (b *Backend) addChannel(s *session, number uint8, aid []byte, p2 byte, resp []byte) smartcard.ChannelInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &channel{
		id:             smartcard.ChannelID(b.nextID()),
		session:        s,
		number:         number,
		aid:            append([]byte(nil), aid...),
		p2:             p2,
		selectResponse: resp,
	}
	// a session dropped meanwhile keeps no channel
	if !s.closed {
		b.channels[c.id] = c
	}

	b.log.Debugf("session %d: channel %d is logical channel %d", s.id, c.id, number)
	return smartcard.ChannelInfo{
		ID:             c.id,
		Number:         number,
		SelectResponse: append([]byte(nil), resp...),
	}
}

// CloseChannel releases the channel. Logical channels are closed on the card; the
// basic channel only becomes available again. A channel already dropped is closed.
func (b *Backend) CloseChannel(id smartcard.ChannelID) error {
	b.mu.Lock()
	c, ok := b.channels[id]
	if !ok {
		err := b.goneLocked(uint32(id))
		b.mu.Unlock()
		if err == smartcard.ResultIllegalState {
			return nil
		}
		return err
	}
	delete(b.channels, id)
	s := c.session
	if c.number == 0 {
		s.basic = false
	}
	closed := s.closed
	b.mu.Unlock()

	if c.number == 0 || closed {
		return nil
	}
	return b.manageClose(s, c.number)
}

// SelectNext selects the next applet matching the AID the channel was opened with.
func (b *Backend) SelectNext(id smartcard.ChannelID) (bool, error) {
	c, err := b.channel(id)
	if err != nil {
		return false, err
	}
	if len(c.aid) == 0 {
		return false, smartcard.ResultNotSupported
	}

	p2 := iso7816.WithOccurrence(c.p2, iso7816.NextOccurrence)
	resp, err := b.selectApplication(c.session, c.number, c.aid, p2)
	switch {
	case err == nil:
	case errors.Is(err, smartcard.ResultNoSuchElement):
		return false, nil
	default:
		return false, err
	}

	b.mu.Lock()
	c.selectResponse = resp
	b.mu.Unlock()
	return true, nil
}

// manageOpen asks the card for a free logical channel.
func (b *Backend) manageOpen(s *session) (uint8, error) {
	cls, _ := iso7816.NewClass(0x00)

	s.io.Lock()
	trace, err := s.client.Send(iso7816.OpenChannel(cls))
	s.io.Unlock()
	if err != nil {
		return 0, wrap("manage channel", err)
	}

	last := trace.Last().Response
	if !last.Status.IsSuccess() {
		b.log.Debugf("session %d: manage channel: %s", s.id, last.Status.Verbose())
		return 0, manageChannelResult(last.Status)
	}
	number, err := iso7816.ParseOpenedChannel(last)
	if err != nil {
		return 0, fmt.Errorf("manage channel: %w (%v)", smartcard.ResultIOFailed, err)
	}
	return number, nil
}

func (b *Backend) manageClose(s *session, number uint8) error {
	cls, _ := iso7816.NewClass(0x00)
	cmd, err := iso7816.CloseChannel(cls, number)
	if err != nil {
		return fmt.Errorf("manage channel: %w (%v)", smartcard.ResultIllegalParam, err)
	}

	s.io.Lock()
	trace, err := s.client.Send(cmd)
	s.io.Unlock()
	if err != nil {
		return wrap("manage channel", err)
	}
	if !trace.IsSuccess() {
		return fmt.Errorf("manage channel close %d: %w (%s)", number, smartcard.ResultIOFailed, trace.Status())
	}
	return nil
}

// selectApplication selects aid on the given channel and returns the response data
// followed by the status word.
func (b *Backend) selectApplication(s *session, number uint8, aid []byte, p2 byte) ([]byte, error) {
	cls, err := iso7816.NewInterindustryClass(false, iso7816.SMNone, number)
	if err != nil {
		return nil, fmt.Errorf("select: %w (%v)", smartcard.ResultIllegalParam, err)
	}

	s.io.Lock()
	trace, err := s.client.Send(iso7816.SelectApplication(cls, aid, p2))
	s.io.Unlock()
	if err != nil {
		return nil, wrap("select", err)
	}

	if err := selectResult(trace.Status()); err != nil {
		b.log.Debugf("session %d: select % X on channel %d: %s", s.id, aid, number, trace.Status())
		return nil, err
	}
	return trace.Raw(), nil
}
