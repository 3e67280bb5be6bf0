package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It implements the automatic handling of ISO 7816-3 transport behaviors that are
// often exposed to the application layer in T=0 protocols:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command on the same logical channel to retrieve them.
//
// 2. "6C XX" (Wrong Length):
//    The card indicates that the expected length (Le) was incorrect and suggests XX.
//    The client automatically re-sends the original command with Le = XX.
//
// Send() works on structured commands and returns a Trace of every atomic transaction.
// Transmit() works on raw bytes handed over by an application and returns the
// reassembled response (all data chunks followed by the final status word).

// maxResponseChain bounds the number of GET RESPONSE rounds for one command.
const maxResponseChain = 64

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	return c.send(cmd, 0)
}

func (c *Client) send(cmd *CommandAPDU, depth int) (Trace, error) {
	if depth > maxResponseChain {
		return nil, fmt.Errorf("response chain exceeds %d rounds", maxResponseChain)
	}

	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	var next *CommandAPDU

	switch sw1 {
	case 0x61:
		next = getResponseCommand(cmd.Class, int(sw2))
	case 0x6C:
		retry := *cmd
		retry.Ne = int(sw2)
		if retry.Ne == 0 {
			retry.Ne = MaxShortLe
		}
		next = &retry
	default:
		return trace, nil
	}

	subTrace, err := c.send(next, depth+1)
	if err != nil {
		return trace, err
	}

	return append(trace, subTrace...), nil
}

// Transmit sends a raw command and follows 61XX/6CXX procedures.
// The returned slice holds the concatenated response data and the last status word.
func (c *Client) Transmit(raw []byte) ([]byte, error) {
	hdr, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	resp, err := c.Card.Transmit(raw)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(resp))
	}

	sw1 := resp[len(resp)-2]
	sw2 := resp[len(resp)-1]

	if sw1 == 0x6C && len(raw) > HeaderLength {
		retry := make([]byte, len(raw))
		copy(retry, raw)
		retry[len(retry)-1] = sw2

		resp, err = c.Card.Transmit(retry)
		if err != nil {
			return nil, fmt.Errorf("transmission error: %w", err)
		}
		if len(resp) < 2 {
			return nil, fmt.Errorf("response too short: length %d", len(resp))
		}
	}

	data := append([]byte(nil), resp[:len(resp)-2]...)
	status := resp[len(resp)-2:]

	for i := 0; status[0] == 0x61; i++ {
		if i == maxResponseChain {
			return nil, fmt.Errorf("response chain exceeds %d rounds", maxResponseChain)
		}

		getResp, err := getResponseCommand(hdr.Class, int(status[1])).Bytes()
		if err != nil {
			return nil, fmt.Errorf("encoding error: %w", err)
		}

		part, err := c.Card.Transmit(getResp)
		if err != nil {
			return nil, fmt.Errorf("transmission error: %w", err)
		}
		if len(part) < 2 {
			return nil, fmt.Errorf("response too short: length %d", len(part))
		}

		data = append(data, part[:len(part)-2]...)
		status = part[len(part)-2:]
	}

	return append(data, status...), nil
}

// getResponseCommand builds a GET RESPONSE on the channel of cls.
// ISO 7816-4: GET RESPONSE must use the same logical channel as the original command.
func getResponseCommand(cls Class, available int) *CommandAPDU {
	cls.IsChained = false
	if cls.IsInterindustry() {
		if raw, err := cls.Encode(); err == nil {
			cls.Raw = raw
		}
	}

	if available == 0 {
		available = MaxShortLe
	}

	ins, _ := NewInstruction(INS_GET_RESPONSE)
	return NewCommandAPDU(cls, ins, 0x00, 0x00, nil, available)
}
