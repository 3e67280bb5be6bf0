/*
Package smartcard gives applications access to secure elements (UICC, eSE, SD) through
a strict hierarchy of handles: Service -> Reader -> Session -> Channel.

The transport is not implemented here. A Backend (see package pcsc) owns the real
readers, sessions and channels; the Service keeps a local registry of the identifiers
the backend issued and checks every call against it before any byte reaches the card.

# Handles

Reader, Session and Channel are small values carrying the backend identifier and a
generation number. A handle the registry has never seen fails with ErrInvalidParameter.
A closed handle, or one whose identifier was reissued by the backend since, fails with
ErrIllegalState. Closing a session closes its channels; CloseSessions on a reader closes
its sessions. Closing a child never touches its parent.

# Checks

Every operation runs the same checks, in this order, before calling the backend:

 1. platform capability (ErrNotSupported)
 2. lifecycle initialized (ErrNotInitialized)
 3. arguments (ErrInvalidParameter)
 4. handle membership (ErrInvalidParameter)
 5. handle phase (ErrIllegalState)

Backend failures are translated to the same Code taxonomy; use errors.Is or CodeOf.

# Usage

	svc := smartcard.New(smartcard.Config{Connector: pcsc.NewConnector(pcsc.Config{})})
	if err := svc.Initialize(); err != nil {
	    log.Fatal(err)
	}
	defer svc.Deinitialize()

	readers, _ := svc.Readers()
	session, _ := svc.OpenSession(readers[0])
	channel, err := svc.OpenLogicalChannel(session, aid, 0x00)
	if err != nil {
	    log.Fatal(err)
	}
	resp, err := svc.Transmit(channel, []byte{0x00, 0x28, 0x00, 0x00})
*/
package smartcard
