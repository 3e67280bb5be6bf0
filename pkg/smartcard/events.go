package smartcard

// EventHandler receives reader events. It runs on the backend's event goroutine,
// outside the service lock, so it may call back into the Service.
type EventHandler func(Reader, EventType)

// SetEventHandler installs h, replacing any previous handler.
func (s *Service) SetEventHandler(h EventHandler) error {
	const op = "set event handler"
	if _, _, err := s.begin(); err != nil {
		return fail(op, err)
	}
	defer s.mu.Unlock()

	if h == nil {
		return fail(op, ErrInvalidParameter)
	}
	s.onEvent = h
	return nil
}

// UnsetEventHandler removes the installed handler, if any.
func (s *Service) UnsetEventHandler() error {
	if _, _, err := s.begin(); err != nil {
		return fail("unset event handler", err)
	}
	defer s.mu.Unlock()

	s.onEvent = nil
	return nil
}

// dispatch is the handler installed on the backend. It updates the registry before
// forwarding the event: an inserted reader becomes known, a removed element closes
// every session of its reader.
func (s *Service) dispatch(id ReaderID, ev EventType) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return
	}

	known := s.reg.readers.isMember(id)
	r := s.reg.registerReader(id)
	if ev == EventRemoved {
		s.reg.markReaderClosed(id)
	}
	h := s.onEvent
	s.mu.Unlock()

	s.log.Debugf("event %v on %v (known=%v)", ev, r, known)
	if h != nil {
		h(r, ev)
	}
}
