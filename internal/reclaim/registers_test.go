package reclaim

import (
	"errors"
	"testing"
)

func mustLookup(t *testing.T, attr Attribute) Register {
	t.Helper()
	r, err := Lookup(attr)
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", attr, err)
	}
	return r
}

func TestRegisterMap_UniqueAddresses(t *testing.T) {
	seen := make(map[uint16]Attribute)
	for _, r := range Registers() {
		if other, dup := seen[r.Address]; dup {
			t.Errorf("address %d bound to %s and %s", r.Address, other, r.Attribute)
		}
		seen[r.Address] = r.Attribute

		got, ok := LookupAddress(r.Address)
		if !ok || got.Attribute != r.Attribute {
			t.Errorf("LookupAddress(%d) = %s, %v, want %s", r.Address, got.Attribute, ok, r.Attribute)
		}
	}
}

func TestRegisters_Ordered(t *testing.T) {
	regs := Registers()
	for i := 1; i < len(regs); i++ {
		if regs[i-1].Address >= regs[i].Address {
			t.Fatalf("Registers() not ordered at %d: %d >= %d", i, regs[i-1].Address, regs[i].Address)
		}
	}
}

func TestLookup_KnownAddresses(t *testing.T) {
	tests := []struct {
		attr Attribute
		addr uint16
	}{
		{AttrWater, 79},
		{AttrPump, 200},
		{AttrAmbient, 223},
		{AttrPower, 225},
		{AttrBoost, 40990},
	}

	for _, tt := range tests {
		if r := mustLookup(t, tt.attr); r.Address != tt.addr {
			t.Errorf("Lookup(%s).Address = %d, want %d", tt.attr, r.Address, tt.addr)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("flux_capacitor")
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("Lookup() error = %v, want ErrUnknownAttribute", err)
	}
}

func TestParseAttribute(t *testing.T) {
	attr, err := ParseAttribute(" Water ")
	if err != nil {
		t.Fatalf("ParseAttribute() error = %v", err)
	}
	if attr != AttrWater {
		t.Errorf("ParseAttribute() = %q, want %q", attr, AttrWater)
	}

	if _, err := ParseAttribute("nope"); !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("ParseAttribute(nope) error = %v, want ErrUnknownAttribute", err)
	}
}

func TestRegister_Decode(t *testing.T) {
	tests := []struct {
		name string
		attr Attribute
		raw  int
		want any
	}{
		{"identity pump", AttrPump, 1, 1},
		{"identity power", AttrPower, 1500, 1500},
		{"half water", AttrWater, 440, 220.0},
		{"half odd", AttrWater, 121, 60.5},
		{"signed half positive", AttrAmbient, 50, 25.0},
		{"signed half negative", AttrAmbient, 0xFFF6, -5.0},
		{"signed half min", AttrSuction, 0x8000, -16384.0},
		{"milli current", AttrCurrent, 6250, 6.25},
		{"bool on", AttrBoost, 1, true},
		{"bool off", AttrBoost, 0, false},
		{"hour byte", AttrMode5Timer1Start, 6*256 + 30, 6},
		{"mode first", AttrMode, 1, "Normal"},
		{"mode last", AttrMode, 8, "Weekly"},
		{"weekday first", AttrMode8Day, 0, "Sunday"},
		{"weekday last", AttrMode8Day, 6, "Saturday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustLookup(t, tt.attr).Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode(%d) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Decode(%d) = %v (%T), want %v (%T)", tt.raw, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestRegister_DecodeOutOfRange(t *testing.T) {
	tests := []struct {
		attr Attribute
		raw  int
	}{
		{AttrMode, 0},
		{AttrMode, 9},
		{AttrMode8Day, 7},
		{AttrMode8Day, -1},
	}

	for _, tt := range tests {
		_, err := mustLookup(t, tt.attr).Decode(tt.raw)
		if !errors.Is(err, ErrDecodeFailed) {
			t.Errorf("%s.Decode(%d) error = %v, want ErrDecodeFailed", tt.attr, tt.raw, err)
		}
	}
}

func TestRegister_Encode(t *testing.T) {
	tests := []struct {
		name  string
		attr  Attribute
		value any
		want  int
	}{
		{"boost on", AttrBoost, true, 1},
		{"boost off", AttrBoost, false, 0},
		{"mode label", AttrMode, "Solar", 3},
		{"weekday label", AttrMode8Day, "Wednesday", 3},
		{"hour byte", AttrMode7Start, 14, 14 * 256},
		{"hour byte from float", AttrMode7Duration, 3.0, 3 * 256},
		{"half temperature", AttrMode5Timer2OnTemp, 55.5, 111},
		{"half truncates", AttrMode6Timer2OffTemp, 60.7, 121},
		{"half from int", AttrMode6Timer2OnTemp, 50, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustLookup(t, tt.attr).Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", tt.value, err)
			}
			if got != tt.want {
				t.Errorf("Encode(%v) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestRegister_EncodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		attr    Attribute
		value   any
		wantErr error
	}{
		{"read-only temperature", AttrWater, 50.0, ErrReadOnlyAttribute},
		{"read-only pump", AttrPump, 1, ErrReadOnlyAttribute},
		{"unknown mode", AttrMode, "Turbo", ErrEncodeFailed},
		{"mode wrong type", AttrMode, 3, ErrEncodeFailed},
		{"bool wrong type", AttrBoost, "yes", ErrEncodeFailed},
		{"bool out of range int", AttrBoost, 2, ErrEncodeFailed},
		{"hour too large", AttrMode5Timer1Start, 256, ErrEncodeFailed},
		{"hour negative", AttrMode5Timer1Start, -1, ErrEncodeFailed},
		{"hour fractional", AttrMode5Timer1Start, 1.5, ErrEncodeFailed},
		{"half negative", AttrMode5Timer2OnTemp, -1.0, ErrEncodeFailed},
		{"half overflow", AttrMode5Timer2OnTemp, 40000.0, ErrEncodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustLookup(t, tt.attr).Encode(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode(%v) error = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestRegister_RoundTrip(t *testing.T) {
	values := map[Attribute][]any{
		AttrBoost:               {true, false},
		AttrMode:                {"Normal", "Off-Peak", "Solar", "Solar Plus", "Timer", "Timer Plus", "Daily", "Weekly"},
		AttrMode8Day:            {"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
		AttrMode5Timer1Start:    {0, 6, 12, 23},
		AttrMode6Timer1Duration: {0, 1, 8, 24},
		AttrMode5Timer2OnTemp:   {0.0, 40.5, 55.0, 70.0},
		AttrMode6Timer2OffTemp:  {45.0, 62.5},
	}

	for _, r := range Registers() {
		if !r.Writable() {
			continue
		}
		samples, ok := values[r.Attribute]
		if !ok {
			continue
		}
		for _, v := range samples {
			raw, err := r.Encode(v)
			if err != nil {
				t.Errorf("%s.Encode(%v) error = %v", r.Attribute, v, err)
				continue
			}
			got, err := r.Decode(raw)
			if err != nil {
				t.Errorf("%s.Decode(%d) error = %v", r.Attribute, raw, err)
				continue
			}
			if got != v {
				t.Errorf("%s round trip %v -> %d -> %v", r.Attribute, v, raw, got)
			}
		}
	}
}

func TestRegister_Writable(t *testing.T) {
	writable := map[Attribute]bool{
		AttrBoost:   true,
		AttrMode:    true,
		AttrWater:   false,
		AttrPump:    false,
		AttrPower:   false,
		AttrAmbient: false,
	}

	for attr, want := range writable {
		if got := mustLookup(t, attr).Writable(); got != want {
			t.Errorf("%s.Writable() = %v, want %v", attr, got, want)
		}
	}
}

func TestRegister_ParseValue(t *testing.T) {
	tests := []struct {
		attr    Attribute
		input   string
		want    any
		wantErr bool
	}{
		{AttrBoost, "on", true, false},
		{AttrBoost, "OFF", false, false},
		{AttrBoost, "true", true, false},
		{AttrBoost, "maybe", nil, true},
		{AttrMode, "Solar Plus", "Solar Plus", false},
		{AttrMode5Timer1Start, "7", 7, false},
		{AttrMode5Timer1Start, "seven", nil, true},
		{AttrMode5Timer2OnTemp, "55.5", 55.5, false},
		{AttrMode5Timer2OnTemp, "hot", nil, true},
	}

	for _, tt := range tests {
		got, err := mustLookup(t, tt.attr).ParseValue(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s.ParseValue(%q) error = %v, wantErr %v", tt.attr, tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%s.ParseValue(%q) = %v, want %v", tt.attr, tt.input, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{
		KindInt:   "int",
		KindFloat: "float",
		KindBool:  "bool",
		KindEnum:  "enum",
		Kind(42):  "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
