package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"

	"github.com/gregLibert/smartcard-service/pkg/iso7816"
	"github.com/gregLibert/smartcard-service/pkg/smartcard"
)

// resultOf classifies a PC/SC error in the secure element service vocabulary.
func resultOf(err error) smartcard.Result {
	var r smartcard.Result
	if errors.As(err, &r) {
		return r
	}

	var se scard.Error
	if !errors.As(err, &se) {
		return smartcard.ResultUnknown
	}

	switch se {
	case scard.ErrNoService, scard.ErrServiceStopped, scard.ErrCommError,
		scard.ErrRemovedCard, scard.ErrNoSmartcard, scard.ErrReaderUnavailable,
		scard.ErrUnpoweredCard, scard.ErrUnresponsiveCard, scard.ErrResetCard:
		return smartcard.ResultIOFailed
	case scard.ErrSharingViolation:
		return smartcard.ResultUnavailable
	case scard.ErrNoAccess:
		return smartcard.ResultSecurityNotAllowed
	case scard.ErrTimeout:
		return smartcard.ResultOperationTimeout
	case scard.ErrNoMemory:
		return smartcard.ResultOutOfMemory
	case scard.ErrInvalidHandle, scard.ErrInvalidParameter, scard.ErrUnknownReader:
		return smartcard.ResultIllegalParam
	default:
		return smartcard.ResultUnknown
	}
}

// wrap annotates err with op and its Result so the service can translate it.
func wrap(op string, err error) error {
	r := resultOf(err)
	if errors.Is(err, r) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w (%v)", op, r, err)
}

// selectResult classifies the status word answering a SELECT by AID.
func selectResult(sw iso7816.StatusWord) error {
	switch {
	case sw.IsSuccess(), sw.IsWarning():
		return nil
	case sw.IsNotFound():
		return smartcard.ResultNoSuchElement
	case sw == iso7816.SW_ERR_FUNC_NOT_SUPPORTED, sw == iso7816.SW_ERR_INCORRECT_PARAMS_P1P2:
		return smartcard.ResultNotSupported
	default:
		return smartcard.ResultIOFailed
	}
}

// manageChannelResult classifies a failed MANAGE CHANNEL open.
func manageChannelResult(sw iso7816.StatusWord) error {
	switch sw {
	case iso7816.SW_ERR_LOGICAL_CHANNEL_NOT_SUPP, iso7816.SW_ERR_FUNC_NOT_SUPPORTED:
		return smartcard.ResultUnavailable
	default:
		return smartcard.ResultIOFailed
	}
}
