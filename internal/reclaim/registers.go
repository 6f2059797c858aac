package reclaim

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Register encoding constants.
const (
	// maxRegisterValue is the largest raw value a 16-bit register holds.
	maxRegisterValue = 0xFFFF

	// signBit marks negative values in two's-complement registers.
	signBit = 0x8000

	// signedRange is subtracted from raw values with the sign bit set.
	signedRange = 0x10000

	// halfScale converts half-degree registers to degrees.
	halfScale = 2

	// milliScale converts milliampere registers to amperes.
	milliScale = 1000

	// hourByte shifts hour and duration values into the register's high byte.
	hourByte = 256

	// modeOffset is the raw value of the first operating mode.
	modeOffset = 1

	// dayOffset is the raw value of the first weekday.
	dayOffset = 0
)

// Attribute identifies a named, typed view of one device register.
type Attribute string

// Register map attributes.
const (
	AttrPump  Attribute = "pump"
	AttrBoost Attribute = "boost"
	AttrMode  Attribute = "mode"

	// Temperatures (°C)
	AttrWater      Attribute = "water"
	AttrOutlet     Attribute = "outlet"
	AttrInlet      Attribute = "inlet"
	AttrDischarge  Attribute = "discharge"
	AttrSuction    Attribute = "suction"
	AttrEvaporator Attribute = "evaporator"
	AttrCase       Attribute = "case"
	AttrAmbient    Attribute = "ambient"

	// Electrical and mechanical
	AttrPower      Attribute = "power"
	AttrCurrent    Attribute = "current"
	AttrCompSpeed  Attribute = "compspeed"
	AttrFanSpeed   Attribute = "fanspeed"
	AttrWaterSpeed Attribute = "waterspeed"
	AttrHours      Attribute = "hours"
	AttrStarts     Attribute = "starts"

	// Timer mode
	AttrMode5Timer1Start    Attribute = "mode5_timer1_start"
	AttrMode5Timer1Duration Attribute = "mode5_timer1_duration"
	AttrMode5Timer2Start    Attribute = "mode5_timer2_start"
	AttrMode5Timer2Duration Attribute = "mode5_timer2_duration"
	AttrMode5Timer2OnTemp   Attribute = "mode5_timer2_on_temp"

	// Timer plus mode
	AttrMode6Timer1Start    Attribute = "mode6_timer1_start"
	AttrMode6Timer1Duration Attribute = "mode6_timer1_duration"
	AttrMode6Timer2Start    Attribute = "mode6_timer2_start"
	AttrMode6Timer2Duration Attribute = "mode6_timer2_duration"
	AttrMode6Timer2OnTemp   Attribute = "mode6_timer2_on_temp"
	AttrMode6Timer2OffTemp  Attribute = "mode6_timer2_off_temp"

	// Daily and weekly modes
	AttrMode7Start    Attribute = "mode7_start"
	AttrMode7Duration Attribute = "mode7_duration"
	AttrMode8Start    Attribute = "mode8_start"
	AttrMode8Day      Attribute = "mode8_day"
)

// Modes lists the operating mode labels in register order.
var Modes = []string{
	"Normal",
	"Off-Peak",
	"Solar",
	"Solar Plus",
	"Timer",
	"Timer Plus",
	"Daily",
	"Weekly",
}

// Days lists the weekday labels in register order.
var Days = []string{
	"Sunday",
	"Monday",
	"Tuesday",
	"Wednesday",
	"Thursday",
	"Friday",
	"Saturday",
}

// Kind describes the Go type an attribute decodes to.
type Kind int

const (
	KindInt   Kind = iota // int
	KindFloat             // float64
	KindBool              // bool
	KindEnum              // string label
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

type (
	decodeFunc func(raw int) (any, error)
	encodeFunc func(value any) (int, error)
)

// Register binds an attribute to its register address and transforms.
type Register struct {
	Attribute Attribute
	Address   uint16
	Kind      Kind

	// Labels holds the enumeration for KindEnum registers.
	Labels []string

	decode decodeFunc
	encode encodeFunc
}

// Writable reports whether the attribute can be encoded and written.
func (r Register) Writable() bool {
	return r.encode != nil
}

// Decode converts a raw register value to the attribute's typed value.
// Registers without a transform return the raw integer unchanged.
func (r Register) Decode(raw int) (any, error) {
	if r.decode == nil {
		return raw, nil
	}
	v, err := r.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Attribute, err)
	}
	return v, nil
}

// Encode converts a typed value to the raw register value.
//
// Returns:
//   - int: Raw value in the range 0..65535
//   - error: ErrReadOnlyAttribute, or ErrEncodeFailed for unsupported values
func (r Register) Encode(value any) (int, error) {
	if r.encode == nil {
		return 0, fmt.Errorf("%w: %s", ErrReadOnlyAttribute, r.Attribute)
	}
	raw, err := r.encode(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", r.Attribute, err)
	}
	if raw < 0 || raw > maxRegisterValue {
		return 0, fmt.Errorf("%w: %s value %v encodes to %d, outside register range", ErrEncodeFailed, r.Attribute, value, raw)
	}
	return raw, nil
}

// ParseValue parses operator input into a value Encode accepts.
func (r Register) ParseValue(s string) (any, error) {
	s = strings.TrimSpace(s)
	switch r.Kind {
	case KindInt:
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer: %w", ErrEncodeFailed, r.Attribute, err)
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a number: %w", ErrEncodeFailed, r.Attribute, err)
		}
		return v, nil
	case KindBool:
		switch strings.ToLower(s) {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects on/off: %w", ErrEncodeFailed, r.Attribute, err)
		}
		return v, nil
	default:
		return s, nil
	}
}

// =============================================================================
// Register map
// =============================================================================

// registerMap is the static register table, keyed by attribute.
var registerMap = buildRegisterMap([]Register{
	{Attribute: AttrOutlet, Address: 77, Kind: KindFloat, decode: decodeHalf},
	{Attribute: AttrInlet, Address: 78, Kind: KindFloat, decode: decodeHalf},
	{Attribute: AttrWater, Address: 79, Kind: KindFloat, decode: decodeHalf},
	{Attribute: AttrDischarge, Address: 80, Kind: KindFloat, decode: decodeHalf},
	{Attribute: AttrSuction, Address: 81, Kind: KindFloat, decode: decodeSignedHalf},
	{Attribute: AttrEvaporator, Address: 82, Kind: KindFloat, decode: decodeSignedHalf},
	{Attribute: AttrCase, Address: 83, Kind: KindFloat, decode: decodeHalf},

	{Attribute: AttrPump, Address: 200, Kind: KindInt},
	{Attribute: AttrAmbient, Address: 223, Kind: KindFloat, decode: decodeSignedHalf},
	{Attribute: AttrPower, Address: 225, Kind: KindInt},
	{Attribute: AttrCurrent, Address: 226, Kind: KindFloat, decode: decodeMilli},
	{Attribute: AttrCompSpeed, Address: 227, Kind: KindInt},
	{Attribute: AttrFanSpeed, Address: 228, Kind: KindInt},
	{Attribute: AttrWaterSpeed, Address: 229, Kind: KindInt},
	{Attribute: AttrHours, Address: 230, Kind: KindInt},
	{Attribute: AttrStarts, Address: 231, Kind: KindInt},

	{Attribute: AttrBoost, Address: 40990, Kind: KindBool, decode: decodeBool, encode: encodeBool},
	{Attribute: AttrMode, Address: 40991, Kind: KindEnum, Labels: Modes,
		decode: decodeEnum(Modes, modeOffset), encode: encodeEnum(Modes, modeOffset)},

	{Attribute: AttrMode5Timer1Start, Address: 41001, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode5Timer1Duration, Address: 41002, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode5Timer2Start, Address: 41003, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode5Timer2Duration, Address: 41004, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode5Timer2OnTemp, Address: 41005, Kind: KindFloat, decode: decodeHalf, encode: encodeHalf},

	{Attribute: AttrMode6Timer1Start, Address: 41011, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode6Timer1Duration, Address: 41012, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode6Timer2Start, Address: 41013, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode6Timer2Duration, Address: 41014, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode6Timer2OnTemp, Address: 41015, Kind: KindFloat, decode: decodeHalf, encode: encodeHalf},
	{Attribute: AttrMode6Timer2OffTemp, Address: 41016, Kind: KindFloat, decode: decodeHalf, encode: encodeHalf},

	{Attribute: AttrMode7Start, Address: 41021, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode7Duration, Address: 41022, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode8Start, Address: 41031, Kind: KindInt, decode: decodeHourByte, encode: encodeHourByte},
	{Attribute: AttrMode8Day, Address: 41032, Kind: KindEnum, Labels: Days,
		decode: decodeEnum(Days, dayOffset), encode: encodeEnum(Days, dayOffset)},
})

// addressMap indexes registerMap by address.
var addressMap = buildAddressMap(registerMap)

// buildRegisterMap indexes the table by attribute. Duplicate attributes or
// addresses are programming errors and panic at init.
func buildRegisterMap(table []Register) map[Attribute]Register {
	m := make(map[Attribute]Register, len(table))
	seen := make(map[uint16]Attribute, len(table))
	for _, r := range table {
		if _, dup := m[r.Attribute]; dup {
			panic(fmt.Sprintf("reclaim: duplicate attribute %q in register map", r.Attribute))
		}
		if other, dup := seen[r.Address]; dup {
			panic(fmt.Sprintf("reclaim: register %d bound to both %q and %q", r.Address, other, r.Attribute))
		}
		m[r.Attribute] = r
		seen[r.Address] = r.Attribute
	}
	return m
}

func buildAddressMap(m map[Attribute]Register) map[uint16]Register {
	out := make(map[uint16]Register, len(m))
	for _, r := range m {
		out[r.Address] = r
	}
	return out
}

// Lookup returns the register bound to attr.
func Lookup(attr Attribute) (Register, error) {
	r, ok := registerMap[attr]
	if !ok {
		return Register{}, fmt.Errorf("%w: %q", ErrUnknownAttribute, string(attr))
	}
	return r, nil
}

// LookupAddress returns the register at addr, if the map names it.
func LookupAddress(addr uint16) (Register, bool) {
	r, ok := addressMap[addr]
	return r, ok
}

// ParseAttribute converts a name to an Attribute, rejecting names outside
// the register map.
func ParseAttribute(name string) (Attribute, error) {
	attr := Attribute(strings.ToLower(strings.TrimSpace(name)))
	if _, err := Lookup(attr); err != nil {
		return "", err
	}
	return attr, nil
}

// Registers returns the register map ordered by address.
func Registers() []Register {
	out := make([]Register, 0, len(registerMap))
	for _, r := range registerMap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

// =============================================================================
// Transforms
// =============================================================================

// toSigned reinterprets a 16-bit register as two's complement.
func toSigned(raw int) int {
	if raw >= signBit {
		return raw - signedRange
	}
	return raw
}

func decodeHalf(raw int) (any, error) {
	return float64(raw) / halfScale, nil
}

func decodeSignedHalf(raw int) (any, error) {
	return float64(toSigned(raw)) / halfScale, nil
}

func decodeMilli(raw int) (any, error) {
	return float64(raw) / milliScale, nil
}

func decodeBool(raw int) (any, error) {
	return raw != 0, nil
}

func decodeHourByte(raw int) (any, error) {
	return raw / hourByte, nil
}

// encodeHalf truncates to the nearest half degree toward zero.
func encodeHalf(value any) (int, error) {
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	return int(f * halfScale), nil
}

func encodeBool(value any) (int, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		if v == 0 || v == 1 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: expected bool, got %T(%v)", ErrEncodeFailed, value, value)
}

func encodeHourByte(value any) (int, error) {
	n, err := toInt(value)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %d does not fit the high byte", ErrEncodeFailed, n)
	}
	return n * hourByte, nil
}

func decodeEnum(labels []string, offset int) decodeFunc {
	return func(raw int) (any, error) {
		i := raw - offset
		if i < 0 || i >= len(labels) {
			return nil, fmt.Errorf("%w: raw value %d outside enumeration", ErrDecodeFailed, raw)
		}
		return labels[i], nil
	}
}

func encodeEnum(labels []string, offset int) encodeFunc {
	return func(value any) (int, error) {
		label, ok := value.(string)
		if !ok {
			return 0, fmt.Errorf("%w: expected label, got %T", ErrEncodeFailed, value)
		}
		i := slices.Index(labels, label)
		if i < 0 {
			return 0, fmt.Errorf("%w: unknown label %q", ErrEncodeFailed, label)
		}
		return i + offset, nil
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrEncodeFailed, value)
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: expected whole number, got %v", ErrEncodeFailed, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: expected integer, got %T", ErrEncodeFailed, value)
}
