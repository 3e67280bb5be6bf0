package virtualse

import (
	"bytes"
	"sync"

	"github.com/gregLibert/smartcard-service/pkg/iso7816"
	"github.com/gregLibert/smartcard-service/pkg/tlv"
)

// Applet is an application installed on an Element.
type Applet struct {
	AID   []byte
	Label string

	// Handle answers the commands sent while the applet is selected, SELECT and
	// MANAGE CHANNEL excepted. The response must end with a status word.
	// A nil Handle answers 90 00 to everything.
	Handle func(cmd *iso7816.CommandAPDU) []byte
}

// DefaultLogicalChannels is the number of logical channels of an Element that does
// not set LogicalChannels.
const DefaultLogicalChannels = 3

// Element is a virtual secure element: an ATR and a set of applets reachable on the
// basic channel and on up to 19 logical channels.
type Element struct {
	ATR     []byte
	Applets []*Applet

	// Default is the applet selected on a channel that was opened without SELECT.
	// It may be nil.
	Default *Applet

	// LogicalChannels is the number of logical channels besides the basic channel.
	LogicalChannels int

	mu       sync.Mutex
	powered  bool
	open     [iso7816.MaxLogicalChannel + 1]bool
	selected [iso7816.MaxLogicalChannel + 1]int // index into Applets, -1 for Default
}

func sw(status iso7816.StatusWord) []byte {
	return []byte{status.SW1(), status.SW2()}
}

// reset powers the element up: only the basic channel is open and the default
// applet is selected everywhere.
func (e *Element) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.powerUpLocked()
}

func (e *Element) powerUpLocked() {
	e.powered = true
	for i := range e.open {
		e.open[i] = i == 0
		e.selected[i] = -1
	}
}

func (e *Element) logicalChannels() int {
	n := e.LogicalChannels
	if n <= 0 {
		n = DefaultLogicalChannels
	}
	if n > iso7816.MaxLogicalChannel {
		n = iso7816.MaxLogicalChannel
	}
	return n
}

// Process executes one command APDU and returns the response APDU.
func (e *Element) Process(raw []byte) []byte {
	if len(raw) < iso7816.HeaderLength {
		return sw(iso7816.SW_ERR_WRONG_LENGTH)
	}
	if raw[0] == 0xFF {
		return sw(iso7816.SW_ERR_CLA_NOT_SUPPORTED)
	}
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		if _, herr := iso7816.ParseHeader(raw); herr != nil {
			return sw(iso7816.SW_ERR_INS_INVALID)
		}
		return sw(iso7816.SW_ERR_WRONG_LENGTH)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.powered {
		e.powerUpLocked()
	}

	ch := cmd.Class.Channel
	if !cmd.Class.IsInterindustry() {
		ch = 0
	}
	if !e.open[ch] {
		return sw(iso7816.SW_ERR_LOGICAL_CHANNEL_NOT_SUPP)
	}

	switch {
	case cmd.Class.IsInterindustry() && cmd.Instruction.IsChannelManagement():
		return e.manageChannel(cmd)
	case cmd.Instruction.Raw == iso7816.INS_SELECT && iso7816.SelectionMethod(cmd.P1) == iso7816.SelectByDFName:
		return e.selectByName(ch, cmd)
	case cmd.Instruction.Raw == iso7816.INS_GET_RESPONSE:
		// responses are never chained
		return sw(iso7816.SW_ERR_INS_INVALID)
	}

	applet := e.Default
	if i := e.selected[ch]; i >= 0 {
		applet = e.Applets[i]
	}
	if applet == nil {
		return sw(iso7816.SW_ERR_INS_INVALID)
	}
	if applet.Handle == nil {
		return sw(iso7816.SW_NO_ERROR)
	}
	return applet.Handle(cmd)
}

func (e *Element) manageChannel(cmd *iso7816.CommandAPDU) []byte {
	switch iso7816.ManageChannelOperation(cmd.P1) {
	case iso7816.ManageChannelOpen:
		if cmd.P2 != 0 {
			return e.openChannel(cmd.P2, false)
		}
		for ch := 1; ch <= e.logicalChannels(); ch++ {
			if !e.open[ch] {
				return e.openChannel(byte(ch), true)
			}
		}
		return sw(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)

	case iso7816.ManageChannelClose:
		ch := int(cmd.P2)
		if ch == 0 || ch > e.logicalChannels() || !e.open[ch] {
			return sw(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
		}
		e.open[ch] = false
		e.selected[ch] = -1
		return sw(iso7816.SW_NO_ERROR)

	default:
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
	}
}

func (e *Element) openChannel(ch byte, assigned bool) []byte {
	if int(ch) > e.logicalChannels() || e.open[ch] {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
	}
	e.open[ch] = true
	e.selected[ch] = -1
	if assigned {
		return []byte{ch, 0x90, 0x00}
	}
	return sw(iso7816.SW_NO_ERROR)
}

// selectByName selects the first, or next, applet whose AID starts with the
// given name.
func (e *Element) selectByName(ch uint8, cmd *iso7816.CommandAPDU) []byte {
	name := cmd.Data
	if len(name) == 0 {
		if e.Default == nil {
			return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		e.selected[ch] = -1
		return e.fci(e.Default, cmd.P2)
	}

	start := 0
	switch iso7816.FileOccurrence(cmd.P2 & 0x03) {
	case iso7816.FirstOrOnlyOccurrence:
	case iso7816.NextOccurrence:
		start = e.selected[ch] + 1
	default:
		return sw(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}

	for i := start; i < len(e.Applets); i++ {
		if bytes.HasPrefix(e.Applets[i].AID, name) {
			e.selected[ch] = i
			return e.fci(e.Applets[i], cmd.P2)
		}
	}
	return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
}

func (e *Element) fci(a *Applet, p2 byte) []byte {
	if iso7816.SelectionControl(p2&0x0C) == iso7816.ReturnNoData {
		return sw(iso7816.SW_NO_ERROR)
	}

	fci, err := tlv.FCI{DFName: a.AID, Label: a.Label}.Encode()
	if err != nil {
		return sw(iso7816.SW_ERR_UNKNOWN)
	}
	return append(fci, 0x90, 0x00)
}
