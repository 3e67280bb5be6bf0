package smartcard

// Readers enumerates the readers known to the backend and registers them.
// A reader seen before keeps its handle.
func (s *Service) Readers() ([]Reader, error) {
	const op = "readers"
	conn, epoch, err := s.begin()
	if err != nil {
		return nil, fail(op, err)
	}
	s.mu.Unlock()

	ids, err := conn.Readers()
	if err != nil {
		return nil, s.backendError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sameEpochLocked(epoch); err != nil {
		return nil, fail(op, err)
	}

	readers := make([]Reader, 0, len(ids))
	for _, id := range ids {
		readers = append(readers, s.reg.registerReader(id))
	}
	return readers, nil
}

// ReaderName returns the reader name, cached after the first successful query.
func (s *Service) ReaderName(r Reader) (string, error) {
	const op = "reader name"
	conn, epoch, err := s.begin()
	if err != nil {
		return "", fail(op, err)
	}
	re, err := s.reg.readers.lookup(r.id, r.gen)
	if err != nil {
		s.mu.Unlock()
		return "", fail(op, err)
	}
	if name := re.name; name != "" {
		s.mu.Unlock()
		return name, nil
	}
	s.mu.Unlock()

	name, err := conn.ReaderName(r.id)
	if err != nil {
		return "", s.backendError(op, err)
	}
	if name == "" {
		return "", fail(op, ErrGeneral)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		if re, err := s.reg.readers.lookup(r.id, r.gen); err == nil {
			re.name = name
		}
	}
	s.mu.Unlock()

	return name, nil
}

// IsSecureElementPresent asks the backend whether an element sits in the reader.
// The answer is not cached.
func (s *Service) IsSecureElementPresent(r Reader) (bool, error) {
	const op = "is secure element present"
	conn, _, err := s.begin()
	if err != nil {
		return false, fail(op, err)
	}
	if _, err := s.reg.readers.lookup(r.id, r.gen); err != nil {
		s.mu.Unlock()
		return false, fail(op, err)
	}
	s.mu.Unlock()

	present, err := conn.ReaderHasElement(r.id)
	if err != nil {
		return false, s.backendError(op, err)
	}
	return present, nil
}

// OpenSession opens a session on the reader.
func (s *Service) OpenSession(r Reader) (Session, error) {
	const op = "open session"
	conn, epoch, err := s.begin()
	if err != nil {
		return Session{}, fail(op, err)
	}
	if _, err := s.reg.readers.lookup(r.id, r.gen); err != nil {
		s.mu.Unlock()
		return Session{}, fail(op, err)
	}
	s.mu.Unlock()

	id, err := conn.OpenSession(r.id)
	if err != nil {
		return Session{}, s.backendError(op, err)
	}

	s.mu.Lock()
	if err := s.sameEpochLocked(epoch); err != nil {
		s.mu.Unlock()
		return Session{}, fail(op, err)
	}
	if _, err := s.reg.readers.lookup(r.id, r.gen); err != nil {
		s.mu.Unlock()
		s.release(op, conn.CloseSession(id))
		return Session{}, fail(op, ErrIllegalReference)
	}
	h := s.reg.registerSession(id, r.id)
	s.mu.Unlock()

	s.log.Debugf("%s: %v on %v", op, h, r)
	return h, nil
}

// CloseSessions closes every open session of the reader along with their channels.
// All sessions are attempted; the first failure is returned.
func (s *Service) CloseSessions(r Reader) error {
	const op = "close sessions"
	conn, epoch, err := s.begin()
	if err != nil {
		return fail(op, err)
	}
	if _, err := s.reg.readers.lookup(r.id, r.gen); err != nil {
		s.mu.Unlock()
		return fail(op, err)
	}
	sessions := s.reg.openSessions(r.id)
	s.mu.Unlock()

	var first error
	for _, h := range sessions {
		if err := s.closeSession(conn, epoch, h); err != nil && first == nil {
			first = s.backendError(op, err)
		}
	}
	return first
}

// release logs the failure to hand back an identifier that could not be registered.
func (s *Service) release(op string, err error) {
	if err != nil {
		s.log.Warnf("%s: releasing unregistered identifier: %v", op, err)
	}
}
