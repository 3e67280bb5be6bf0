package iso7816

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Security, Chaining, Logical Channel.
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: No Data, No Response (Header only).
// - Case 2: No Data, Response Expected (Header + Le).
// - Case 3: Data Present, No Response (Header + Lc + Data).
// - Case 4: Data Present, Response Expected (Header + Lc + Data + Le).
//
// LENGTH MODES:
//   - Short Length: Lc/Le encoded on 1 byte (Max 255/256).
//   - Extended Length: Lc/Le encoded on multiple bytes (Max 65535/65536).
//     Extended mode is triggered if Lc > 255 or Le > 256.
//
// RESPONSE APDU (R-APDU):
// A response sent by the card consists of an optional Body and a mandatory Trailer.
//
// 1. Body (Data Field):
//   - Variable length sequence of bytes containing the response data.
//
// 2. Trailer (Status Word):
//   - SW1 (1 byte): Command processing status (High byte).
//   - SW2 (1 byte): Command processing qualification (Low byte).
//   - Example: 0x9000 indicates success.
//
// HEADER SCREENING:
// Access control decisions (which commands an application may send on its channel) are
// taken on the 4-byte header alone, without decoding the body. ParseHeader splits the
// header and decodes CLA/INS so the caller can inspect channel bits and the instruction.

// APDU Limits and Constants according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// MaxExtendedLc is the theoretical limit for Lc in Extended mode (16-bit unsigned).
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended Length mode.
	// In Extended mode, 0x0000 encodes 65536.
	MaxExtendedLe = 65536

	// MaxAPDUBufferSize defines a safe buffer limit for Extended APDUs.
	// Calculation: Header(4) + ExtLc(3) + MaxData(65535) + ExtLe(2) + Safety Margin(1).
	MaxAPDUBufferSize = 4 + 3 + MaxExtendedLc + 2 + 1
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the CommandAPDU into its byte representation (C-APDU).
// It automatically handles the selection between Short and Extended encoding
// based on the length of Data (Nc) and the expected response length (Ne).
func (c *CommandAPDU) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	// 1. Encode Header
	class, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}
	buf.WriteByte(class)
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	nc := len(c.Data)
	ne := c.Ne

	// Determine encoding mode
	isExtended := nc > MaxShortLc || ne > MaxShortLe

	// 2. Encode Lc Field & Data Field
	if nc > 0 {
		if !isExtended {
			// Case 3/4 Short: Lc (1 byte) + Data
			buf.WriteByte(byte(nc))
		} else {
			// Case 3/4 Extended: 00 + Lc (2 bytes) + Data
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	// 3. Encode Le Field
	if ne > 0 {
		if !isExtended {
			// Case 2/4 Short: Le (1 byte)
			if ne == MaxShortLe {
				buf.WriteByte(0x00) // 0x00 represents 256
			} else {
				buf.WriteByte(byte(ne))
			}
		} else {
			// Case 2/4 Extended
			// If Lc was absent (Case 2 Extended), we need a leading 00 to distinguish Le from Lc.
			if nc == 0 {
				buf.WriteByte(0x00)
			}

			if ne == MaxExtendedLe {
				// 0x0000 represents 65536
				buf.WriteByte(0x00)
				buf.WriteByte(0x00)
			} else {
				// Le (2 bytes Big Endian)
				buf.WriteByte(byte(ne >> 8))
				buf.WriteByte(byte(ne))
			}
		}
	}

	return buf.Bytes(), nil
}

// ParseCommandAPDU decodes a raw C-APDU. It is the inverse of Bytes and accepts the
// four encoding cases in short and extended length.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	hdr, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	cmd := NewCommandAPDU(hdr.Class, hdr.Instruction, hdr.P1, hdr.P2, nil, 0)
	body := raw[HeaderLength:]

	switch {
	case len(body) == 0:
		// Case 1
	case len(body) == 1:
		// Case 2 Short
		cmd.Ne = decodeLe(body)
	case body[0] != 0x00:
		// Case 3/4 Short
		nc := int(body[0])
		switch len(body) - 1 - nc {
		case 0:
		case 1:
			cmd.Ne = decodeLe(body[len(body)-1:])
		default:
			return nil, fmt.Errorf("malformed command: Lc %d for %d body bytes", nc, len(body))
		}
		cmd.Data = body[1 : 1+nc]
	case len(body) == 3:
		// Case 2 Extended
		cmd.Ne = decodeLe(body[1:])
	case len(body) > 3:
		// Case 3/4 Extended
		nc := int(body[1])<<8 | int(body[2])
		switch len(body) - 3 - nc {
		case 0:
		case 2:
			cmd.Ne = decodeLe(body[len(body)-2:])
		default:
			return nil, fmt.Errorf("malformed command: Lc %d for %d body bytes", nc, len(body))
		}
		if nc == 0 {
			return nil, fmt.Errorf("malformed command: extended Lc of 0")
		}
		cmd.Data = body[3 : 3+nc]
	default:
		return nil, fmt.Errorf("malformed command: body % X", body)
	}

	return cmd, nil
}

// decodeLe reads a 1-byte (short) or 2-byte (extended) Le field.
func decodeLe(le []byte) int {
	if len(le) == 1 {
		if le[0] == 0 {
			return MaxShortLe
		}
		return int(le[0])
	}
	n := int(le[0])<<8 | int(le[1])
	if n == 0 {
		return MaxExtendedLe
	}
	return n
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2
	data := raw[:indexSW1]
	sw1 := raw[indexSW1]
	sw2 := raw[indexSW1+1]

	return &ResponseAPDU{
		Data:   data,
		Status: NewStatusWord(sw1, sw2),
	}, nil
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}

// HeaderLength is the size of the mandatory C-APDU header (CLA INS P1 P2).
const HeaderLength = 4

// Header is the decoded mandatory part of a raw command.
type Header struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
}

// ParseHeader decodes the first four bytes of a raw command APDU.
// The body (Lc, data, Le) is not inspected. INS codes are only validated under an
// interindustry class; a proprietary class defines its own.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderLength {
		return Header{}, fmt.Errorf("command too short: length %d", len(raw))
	}

	cla, err := NewClass(raw[0])
	if err != nil {
		return Header{}, err
	}

	ins := Instruction{Raw: InsCode(raw[1])}
	if cla.IsInterindustry() {
		if ins, err = NewInstruction(ins.Raw); err != nil {
			return Header{}, err
		}
	}

	return Header{Class: cla, Instruction: ins, P1: raw[2], P2: raw[3]}, nil
}

// IsSelectByDFName reports whether the header is a SELECT addressing an application by name.
func (h Header) IsSelectByDFName() bool {
	return h.Instruction.Raw == INS_SELECT && SelectionMethod(h.P1) == SelectByDFName
}

// WithChannel returns a copy of raw whose CLA byte addresses the given logical channel.
// The input slice is left untouched.
func WithChannel(raw []byte, channel uint8) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cla, err := NewClass(raw[0])
	if err != nil {
		return nil, err
	}

	cla, err = cla.WithChannel(channel)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	out[0] = cla.Raw
	return out, nil
}
