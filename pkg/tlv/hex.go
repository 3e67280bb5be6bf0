package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseHex decodes a series of hex strings, ignoring spaces and ':' separators.
// "00 A4 04 00", "00A40400" and "00:A4:04:00" decode to the same bytes.
func ParseHex(parts ...string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "").Replace(strings.Join(parts, ""))

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex '%s': %w", clean, err)
	}
	return data, nil
}

// Hex is ParseHex for fixtures: it panics on malformed input.
func Hex(parts ...string) []byte {
	data, err := ParseHex(parts...)
	if err != nil {
		panic(err.Error())
	}
	return data
}
