// Package bits holds the 1-indexed bit helpers used to decode ISO 7816 header bytes.
// Bit 1 is the least significant bit, bit 8 the most significant, matching the
// numbering used by the standard's tables.
package bits

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// Mask returns a byte with bits high..low set.
// Example: Mask(4, 3) returns 0b00001100.
func Mask(high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}
	width := high - low + 1
	return byte((1<<width)-1) << (low - 1)
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}
	return (b & Mask(high, low)) >> (low - 1)
}

// SetRange replaces bits high..low of b with v. Extra high bits of v are dropped.
func SetRange(b byte, high, low uint, v byte) byte {
	m := Mask(high, low)
	if m == 0 {
		return b
	}
	return (b &^ m) | ((v << (low - 1)) & m)
}

// Set returns b with bit n set.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}
