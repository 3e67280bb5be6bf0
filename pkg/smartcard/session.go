package smartcard

// SessionReader returns the reader the session was opened on. The answer is the same
// for the whole lifetime of the session, closed or not.
func (s *Service) SessionReader(h Session) (Reader, error) {
	const op = "session reader"
	_, _, err := s.begin()
	if err != nil {
		return Reader{}, fail(op, err)
	}
	defer s.mu.Unlock()

	se, err := s.reg.sessions.lookup(h.id, h.gen)
	if err != nil {
		return Reader{}, fail(op, err)
	}
	_, gen, ok := s.reg.readers.get(se.reader)
	if !ok {
		return Reader{}, fail(op, ErrIllegalReference)
	}
	return Reader{id: se.reader, gen: gen}, nil
}

// SessionATR returns the Answer To Reset of the element behind the session.
func (s *Service) SessionATR(h Session) ([]byte, error) {
	const op = "session atr"
	conn, _, err := s.begin()
	if err != nil {
		return nil, fail(op, err)
	}
	se, err := s.reg.sessions.lookup(h.id, h.gen)
	if err == nil && se.closed {
		err = ErrIllegalState
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fail(op, err)
	}

	atr, err := conn.SessionATR(h.id)
	if err != nil {
		return nil, s.backendError(op, err)
	}
	return clone(atr), nil
}

// CloseSession closes the session and every channel opened under it. Closing a closed
// session is a no-op.
func (s *Service) CloseSession(h Session) error {
	const op = "close session"
	conn, epoch, err := s.begin()
	if err != nil {
		return fail(op, err)
	}
	se, err := s.reg.sessions.lookup(h.id, h.gen)
	if err != nil {
		s.mu.Unlock()
		return fail(op, err)
	}
	if se.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.closeSession(conn, epoch, h); err != nil {
		return s.backendError(op, err)
	}
	return nil
}

// SessionIsClosed reports whether the session was closed, directly or by cascade.
func (s *Service) SessionIsClosed(h Session) (bool, error) {
	const op = "session is closed"
	_, _, err := s.begin()
	if err != nil {
		return false, fail(op, err)
	}
	defer s.mu.Unlock()

	se, err := s.reg.sessions.lookup(h.id, h.gen)
	if err != nil {
		return false, fail(op, err)
	}
	return se.closed, nil
}

// CloseChannels closes every open channel of the session. The session stays open.
func (s *Service) CloseChannels(h Session) error {
	const op = "close channels"
	conn, epoch, err := s.begin()
	if err != nil {
		return fail(op, err)
	}
	if _, err := s.reg.sessions.lookup(h.id, h.gen); err != nil {
		s.mu.Unlock()
		return fail(op, err)
	}
	channels := s.reg.openChannels(h.id)
	s.mu.Unlock()

	var first error
	for _, c := range channels {
		if err := s.closeChannel(conn, epoch, c); err != nil && first == nil {
			first = s.backendError(op, err)
		}
	}
	return first
}

// OpenBasicChannel opens the basic channel (number 0) of the session. A nil or empty
// aid keeps the default applet selected. Only one basic channel can be open per
// session; a second attempt fails with ErrChannelNotAvailable.
func (s *Service) OpenBasicChannel(h Session, aid []byte, p2 byte) (Channel, error) {
	return s.openChannel("open basic channel", h, aid, p2, true)
}

// OpenLogicalChannel opens a new logical channel and selects aid on it. A nil or
// empty aid keeps the default applet selected.
func (s *Service) OpenLogicalChannel(h Session, aid []byte, p2 byte) (Channel, error) {
	return s.openChannel("open logical channel", h, aid, p2, false)
}

func (s *Service) openChannel(op string, h Session, aid []byte, p2 byte, basic bool) (Channel, error) {
	conn, epoch, err := s.begin()
	if err != nil {
		return Channel{}, fail(op, err)
	}
	se, err := s.reg.sessions.lookup(h.id, h.gen)
	switch {
	case err != nil:
	case se.closed:
		err = ErrIllegalState
	case basic && se.hasBasic:
		err = ErrChannelNotAvailable
	}
	s.mu.Unlock()
	if err != nil {
		return Channel{}, fail(op, err)
	}

	if len(aid) == 0 {
		aid = nil
	} else {
		aid = clone(aid)
	}

	info, err := conn.OpenChannel(h.id, aid, p2, basic)
	if err != nil {
		return Channel{}, s.backendError(op, err)
	}
	if !validChannelNumber(info.Number, basic) {
		s.log.Errorf("%s: backend assigned channel number %d (basic=%v)", op, info.Number, basic)
		s.release(op, conn.CloseChannel(info.ID))
		return Channel{}, fail(op, ErrGeneral)
	}

	s.mu.Lock()
	if err := s.sameEpochLocked(epoch); err != nil {
		s.mu.Unlock()
		return Channel{}, fail(op, err)
	}
	se, err = s.reg.sessions.lookup(h.id, h.gen)
	if err != nil || se.closed {
		s.mu.Unlock()
		s.release(op, conn.CloseChannel(info.ID))
		return Channel{}, fail(op, ErrIllegalReference)
	}
	if basic && se.hasBasic {
		other := se.basic
		s.mu.Unlock()
		if other != info.ID {
			s.release(op, conn.CloseChannel(info.ID))
		}
		return Channel{}, fail(op, ErrChannelNotAvailable)
	}
	c := s.reg.registerChannel(info.ID, h.id, info, basic)
	s.mu.Unlock()

	s.log.Debugf("%s: %v (number %d) on %v", op, c, info.Number, h)
	return c, nil
}

func validChannelNumber(number uint8, basic bool) bool {
	if basic {
		return number == 0
	}
	return number >= 1 && number <= maxChannelNumber
}

// closeSession closes h on the backend, then marks it and its channels closed locally.
// The returned error is the raw backend error.
func (s *Service) closeSession(conn Backend, epoch uint64, h Session) error {
	if err := conn.CloseSession(h.id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil
	}
	if _, err := s.reg.sessions.lookup(h.id, h.gen); err == nil {
		s.reg.markSessionClosed(h.id)
	}
	return nil
}
