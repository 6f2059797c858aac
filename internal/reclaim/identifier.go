package reclaim

import (
	"fmt"
	"strconv"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/mqtt"
)

// Identifier constants.
const (
	// IdentifierLength is the number of decimal digits in a device identifier.
	IdentifierLength = 17

	// DefaultChecksumWidth is the hex width the identifier is expanded to
	// before the checksum is computed (56 bits).
	DefaultChecksumWidth = 14

	// checksumChars is the number of trailing hex characters holding the checksum.
	checksumChars = 2

	// checksumPolynomial is the CRC-8 generator polynomial.
	checksumPolynomial = 47
)

// crcTable is the CRC-8 lookup table for checksumPolynomial.
var crcTable = buildCRCTable(checksumPolynomial)

// buildCRCTable builds an MSB-first CRC-8 table. Bit 7 is tested before each
// shift and the result is masked to 8 bits after every iteration.
func buildCRCTable(poly byte) [256]byte {
	var table [256]byte
	for x := range 256 {
		i := x
		for range 8 {
			if i&0x80 != 0 {
				i = (i << 1) ^ int(poly)
			} else {
				i <<= 1
			}
			i &= 0xFF
		}
		table[x] = byte(i)
	}
	return table
}

// checksum runs the table-driven CRC over the characters of s.
func checksum(s string) byte {
	var crc byte
	for i := 0; i < len(s); i++ {
		crc = crcTable[crc^s[i]]
	}
	return crc
}

// Identifier is a validated 17-digit device identifier.
//
// The decimal value expands to a fixed-width hex string whose last two
// characters are a checksum over the rest. The remaining hex prefix names
// the device on the wire.
type Identifier struct {
	raw   string
	value uint64
	hex   string
}

// ValidateIdentifier reports whether id is a well-formed device identifier
// using the default checksum width.
//
// Malformed input is reported as false, never as an error.
func ValidateIdentifier(id string) bool {
	return ValidateIdentifierWidth(id, DefaultChecksumWidth)
}

// ValidateIdentifierWidth is ValidateIdentifier with an explicit hex width.
// Controller firmware revisions differ on 14 or 16 digits.
func ValidateIdentifierWidth(id string, width int) bool {
	_, err := ParseIdentifier(id, width)
	return err == nil
}

// ParseIdentifier validates id and returns the parsed Identifier.
//
// Parameters:
//   - id: 17 ASCII decimal digits
//   - width: hex expansion width (DefaultChecksumWidth if <= checksum size)
//
// Returns:
//   - Identifier: The validated identifier
//   - error: ErrInvalidIdentifier describing the failure
func ParseIdentifier(id string, width int) (Identifier, error) {
	if width <= checksumChars {
		width = DefaultChecksumWidth
	}

	if len(id) != IdentifierLength {
		return Identifier{}, fmt.Errorf("%w: expected %d digits, got %d", ErrInvalidIdentifier, IdentifierLength, len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return Identifier{}, fmt.Errorf("%w: non-digit character at position %d", ErrInvalidIdentifier, i)
		}
	}

	// 17 decimal digits always fit in 64 bits.
	value, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
	}

	hex := fmt.Sprintf("%0*x", width, value)
	body, tail := hex[:len(hex)-checksumChars], hex[len(hex)-checksumChars:]

	want, err := strconv.ParseUint(tail, 16, 8)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
	}
	if got := checksum(body); got != byte(want) {
		return Identifier{}, fmt.Errorf("%w: checksum %02x does not match %02x", ErrInvalidIdentifier, got, want)
	}

	return Identifier{raw: id, value: value, hex: hex}, nil
}

// String returns the decimal form the identifier was parsed from.
func (i Identifier) String() string {
	return i.raw
}

// Value returns the numeric identifier including the checksum byte.
func (i Identifier) Value() uint64 {
	return i.value
}

// DeviceHex returns the hex expansion without the trailing checksum.
func (i Identifier) DeviceHex() string {
	if len(i.hex) < checksumChars {
		return ""
	}
	return i.hex[:len(i.hex)-checksumChars]
}

// IsZero reports whether the identifier is the zero value.
func (i Identifier) IsZero() bool {
	return i.raw == ""
}

// Topics returns the status/command topic pair for this device.
func (i Identifier) Topics() mqtt.Topics {
	return mqtt.Topics{Device: i.DeviceHex()}
}
