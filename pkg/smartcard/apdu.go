package smartcard

import "github.com/gregLibert/smartcard-service/pkg/iso7816"

// Transmit sends a raw command APDU on the channel and returns the raw response
// (data followed by SW1 SW2). The channel bits of an interindustry CLA are rewritten
// to the channel's logical number; cmd itself is not modified.
//
// MANAGE CHANNEL and SELECT by DF name with an interindustry CLA are refused with
// ErrInvalidParameter: channel management and applet selection belong to the service.
func (s *Service) Transmit(c Channel, cmd []byte) ([]byte, error) {
	const op = "transmit"
	conn, epoch, err := s.begin()
	if err != nil {
		return nil, fail(op, err)
	}
	if err := checkCommand(cmd); err != nil {
		s.mu.Unlock()
		return nil, fail(op, err)
	}
	ce, err := s.reg.channels.lookup(c.id, c.gen)
	if err == nil && ce.closed {
		err = ErrIllegalState
	}
	if err != nil {
		s.mu.Unlock()
		return nil, fail(op, err)
	}
	number := ce.number
	s.mu.Unlock()

	wire, err := iso7816.WithChannel(cmd, number)
	if err != nil {
		s.log.Debugf("%s: %v", op, err)
		return nil, fail(op, ErrInvalidParameter)
	}

	resp, err := conn.Transmit(c.id, wire)
	if err != nil {
		return nil, s.backendError(op, err)
	}
	if len(resp) < 2 {
		s.log.Debugf("%s: response of %d bytes has no status word", op, len(resp))
		return nil, fail(op, ErrGeneral)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		if ce, err := s.reg.channels.lookup(c.id, c.gen); err == nil {
			ce.transmitted = true
		}
	}
	s.mu.Unlock()

	return clone(resp), nil
}

// RetrieveResponse returns the response of the last Transmit on the channel again.
func (s *Service) RetrieveResponse(c Channel) ([]byte, error) {
	const op = "retrieve response"
	conn, _, err := s.begin()
	if err != nil {
		return nil, fail(op, err)
	}
	ce, err := s.reg.channels.lookup(c.id, c.gen)
	if err == nil && (ce.closed || !ce.transmitted) {
		err = ErrIllegalState
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fail(op, err)
	}

	resp, err := conn.LastResponse(c.id)
	if err != nil {
		return nil, s.backendError(op, err)
	}
	return clone(resp), nil
}

// checkCommand applies the local access rules to a raw command.
func checkCommand(cmd []byte) error {
	hdr, err := iso7816.ParseHeader(cmd)
	if err != nil {
		// short command, CLA FF, interindustry INS 6X/9X
		return ErrInvalidParameter
	}
	if !hdr.Class.IsInterindustry() {
		return nil
	}
	if hdr.Instruction.IsChannelManagement() || hdr.IsSelectByDFName() {
		return ErrInvalidParameter
	}
	return nil
}
