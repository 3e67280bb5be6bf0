package smartcard

import "github.com/gregLibert/smartcard-service/pkg/iso7816"

const maxChannelNumber = iso7816.MaxLogicalChannel

// CloseChannel closes the channel. The owning session is not affected. Closing a
// closed channel is a no-op.
func (s *Service) CloseChannel(c Channel) error {
	const op = "close channel"
	conn, epoch, err := s.begin()
	if err != nil {
		return fail(op, err)
	}
	ce, err := s.reg.channels.lookup(c.id, c.gen)
	if err != nil {
		s.mu.Unlock()
		return fail(op, err)
	}
	if ce.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.closeChannel(conn, epoch, c); err != nil {
		return s.backendError(op, err)
	}
	return nil
}

// IsBasicChannel reports whether c is the basic channel of its session.
func (s *Service) IsBasicChannel(c Channel) (bool, error) {
	ce, err := s.channelEntry("is basic channel", c)
	if err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return ce.basic, nil
}

// ChannelIsClosed reports whether the channel was closed, directly or by cascade.
func (s *Service) ChannelIsClosed(c Channel) (bool, error) {
	ce, err := s.channelEntry("channel is closed", c)
	if err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return ce.closed, nil
}

// SelectResponse returns the response to the SELECT issued when the channel was
// opened. It is empty when the channel was opened without an AID.
func (s *Service) SelectResponse(c Channel) ([]byte, error) {
	ce, err := s.channelEntry("select response", c)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return clone(ce.selectResponse), nil
}

// ChannelSession returns the session the channel was opened on.
func (s *Service) ChannelSession(c Channel) (Session, error) {
	const op = "channel session"
	ce, err := s.channelEntry(op, c)
	if err != nil {
		return Session{}, err
	}
	defer s.mu.Unlock()

	_, gen, ok := s.reg.sessions.get(ce.session)
	if !ok {
		return Session{}, fail(op, ErrIllegalReference)
	}
	return Session{id: ce.session, gen: gen}, nil
}

// SelectNext selects the next applet matching the partial AID the channel was opened
// with. It reports false when no further applet matches; the channel stays open.
func (s *Service) SelectNext(c Channel) (bool, error) {
	const op = "select next"
	conn, _, err := s.begin()
	if err != nil {
		return false, fail(op, err)
	}
	ce, err := s.reg.channels.lookup(c.id, c.gen)
	if err == nil && ce.closed {
		err = ErrIllegalState
	}
	s.mu.Unlock()
	if err != nil {
		return false, fail(op, err)
	}

	ok, err := conn.SelectNext(c.id)
	if err != nil {
		return false, s.backendError(op, err)
	}
	return ok, nil
}

// channelEntry resolves c for a read-only query. On success s.mu is held.
func (s *Service) channelEntry(op string, c Channel) (*channelEntry, error) {
	if _, _, err := s.begin(); err != nil {
		return nil, fail(op, err)
	}
	ce, err := s.reg.channels.lookup(c.id, c.gen)
	if err != nil {
		s.mu.Unlock()
		return nil, fail(op, err)
	}
	return ce, nil
}

// closeChannel closes c on the backend, then marks it closed locally.
// The returned error is the raw backend error.
func (s *Service) closeChannel(conn Backend, epoch uint64, c Channel) error {
	if err := conn.CloseChannel(c.id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil
	}
	if _, err := s.reg.channels.lookup(c.id, c.gen); err == nil {
		s.reg.markChannelClosed(c.id)
	}
	return nil
}
