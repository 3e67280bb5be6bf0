package iso7816

import "fmt"

// MANAGE CHANNEL COMMAND LOGIC (ISO 7816-4):
// The MANAGE CHANNEL command (INS '70') opens and closes logical channels.
//
// P1:
// - 00: Open. P2 = 00 lets the card assign the channel number, returned in one data byte.
// - 80: Close. P2 = number of the channel to close.
//
// The command is always sent on the basic channel (or on the channel it refers to);
// channel 0 itself can never be closed.

// ManageChannelOperation is the P1 value of MANAGE CHANNEL.
type ManageChannelOperation byte

const (
	ManageChannelOpen  ManageChannelOperation = 0x00
	ManageChannelClose ManageChannelOperation = 0x80
)

// OpenChannel builds a MANAGE CHANNEL command asking the card for a free logical channel.
func OpenChannel(cla Class) *CommandAPDU {
	ins, _ := NewInstruction(INS_MANAGE_CHANNEL)
	return NewCommandAPDU(cla, ins, byte(ManageChannelOpen), 0x00, nil, 1)
}

// CloseChannel builds a MANAGE CHANNEL command releasing the given logical channel.
func CloseChannel(cla Class, channel uint8) (*CommandAPDU, error) {
	if channel == 0 || channel > MaxLogicalChannel {
		return nil, fmt.Errorf("cannot close channel %d", channel)
	}
	ins, _ := NewInstruction(INS_MANAGE_CHANNEL)
	return NewCommandAPDU(cla, ins, byte(ManageChannelClose), channel, nil, 0), nil
}

// ParseOpenedChannel extracts the channel number from a successful MANAGE CHANNEL open response.
func ParseOpenedChannel(resp *ResponseAPDU) (uint8, error) {
	if !resp.Status.IsSuccess() {
		return 0, fmt.Errorf("manage channel failed: %s", resp.Status.Verbose())
	}
	if len(resp.Data) != 1 {
		return 0, fmt.Errorf("manage channel returned %d bytes, want 1", len(resp.Data))
	}
	ch := resp.Data[0]
	if ch == 0 || ch > MaxLogicalChannel {
		return 0, fmt.Errorf("manage channel returned invalid channel %d", ch)
	}
	return ch, nil
}
