package reclaim

import (
	"errors"
	"testing"
)

func TestCRCTable(t *testing.T) {
	tests := []struct {
		index int
		want  byte
	}{
		{0x00, 0},
		{0x01, 47},
		{0x02, 94},
		{0x80, 227},
		{0xFF, 66},
	}

	for _, tt := range tests {
		if got := crcTable[tt.index]; got != tt.want {
			t.Errorf("crcTable[%#x] = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "11922263576047433", true},
		{"valid all-f body", "18014398509477900", true},
		{"valid second device", "12402486348563957", true},
		{"checksum bit flipped", "11922263576047432", false},
		{"repeated digits", "11111111111111111", false},
		{"too short", "1192226357604743", false},
		{"too long", "119222635760474330", false},
		{"empty", "", false},
		{"letters", "1192226357604743a", false},
		{"sign", "+1922263576047433", false},
		{"spaces", " 1922263576047433", false},
		{"non-ascii digits", "１１922263576047433", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateIdentifier(tt.id); got != tt.want {
				t.Errorf("ValidateIdentifier(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestValidateIdentifierWidth(t *testing.T) {
	tests := []struct {
		id    string
		width int
		want  bool
	}{
		{"11922263576047433", 14, true},
		{"11922263576047433", 16, false},
		{"11922263576047565", 16, true},
		{"11922263576047565", 14, false},
		{"11922263576047433", 0, true}, // falls back to default width
	}

	for _, tt := range tests {
		if got := ValidateIdentifierWidth(tt.id, tt.width); got != tt.want {
			t.Errorf("ValidateIdentifierWidth(%q, %d) = %v, want %v", tt.id, tt.width, got, tt.want)
		}
	}
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("11922263576047433", DefaultChecksumWidth)
	if err != nil {
		t.Fatalf("ParseIdentifier() error = %v", err)
	}

	if id.String() != "11922263576047433" {
		t.Errorf("String() = %q", id.String())
	}
	if id.Value() != 0x2a5b3c4d5e6f49 {
		t.Errorf("Value() = %#x, want %#x", id.Value(), uint64(0x2a5b3c4d5e6f49))
	}
	if id.DeviceHex() != "2a5b3c4d5e6f" {
		t.Errorf("DeviceHex() = %q, want %q", id.DeviceHex(), "2a5b3c4d5e6f")
	}
	if id.IsZero() {
		t.Error("IsZero() = true for parsed identifier")
	}

	topics := id.Topics()
	if got := topics.Status(); got != "dontek2a5b3c4d5e6f/status/psw" {
		t.Errorf("Topics().Status() = %q", got)
	}
	if got := topics.Command(); got != "dontek2a5b3c4d5e6f/cmd/psw" {
		t.Errorf("Topics().Command() = %q", got)
	}
}

func TestParseIdentifier_Width16(t *testing.T) {
	id, err := ParseIdentifier("11922263576047565", 16)
	if err != nil {
		t.Fatalf("ParseIdentifier() error = %v", err)
	}
	if id.DeviceHex() != "002a5b3c4d5e6f" {
		t.Errorf("DeviceHex() = %q, want zero-padded %q", id.DeviceHex(), "002a5b3c4d5e6f")
	}
}

func TestParseIdentifier_Errors(t *testing.T) {
	for _, id := range []string{"", "123", "11922263576047432", "1192226357604743x"} {
		_, err := ParseIdentifier(id, DefaultChecksumWidth)
		if !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ParseIdentifier(%q) error = %v, want ErrInvalidIdentifier", id, err)
		}
	}
}

func TestIdentifierZero(t *testing.T) {
	var id Identifier
	if !id.IsZero() {
		t.Error("zero Identifier IsZero() = false")
	}
	if id.DeviceHex() != "" {
		t.Errorf("zero Identifier DeviceHex() = %q", id.DeviceHex())
	}
}
