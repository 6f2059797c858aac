package reclaim

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// StateKind tags a DeviceState as a full snapshot or a single-register delta.
type StateKind int

const (
	// Snapshot covers the full register table from one read reply.
	Snapshot StateKind = iota

	// Delta covers only the register touched by a write acknowledgement.
	Delta
)

// String returns the lowercase kind name.
func (k StateKind) String() string {
	switch k {
	case Snapshot:
		return "snapshot"
	case Delta:
		return "delta"
	default:
		return "unknown"
	}
}

// DeviceState is an immutable view over raw register values.
//
// A state may be partial. Attribute access fails with ErrAttributeUnavailable
// when the attribute's register is not present, which is the normal outcome
// for most attributes of a Delta.
type DeviceState struct {
	kind      StateKind
	registers map[uint16]int
}

// NewSnapshot creates a Snapshot state. The map is copied.
func NewSnapshot(registers map[uint16]int) DeviceState {
	return DeviceState{
		kind:      Snapshot,
		registers: maps.Clone(registers),
	}
}

// NewDelta creates a Delta state holding a single register.
func NewDelta(addr uint16, raw int) DeviceState {
	return DeviceState{
		kind:      Delta,
		registers: map[uint16]int{addr: raw},
	}
}

// Kind returns whether the state is a Snapshot or a Delta.
func (s DeviceState) Kind() StateKind {
	return s.kind
}

// Len returns the number of registers held.
func (s DeviceState) Len() int {
	return len(s.registers)
}

// Raw returns the raw value at addr.
func (s DeviceState) Raw(addr uint16) (int, bool) {
	v, ok := s.registers[addr]
	return v, ok
}

// Addresses returns the held register addresses in ascending order.
func (s DeviceState) Addresses() []uint16 {
	return slices.Sorted(maps.Keys(s.registers))
}

// Registers returns a copy of the raw register mapping.
func (s DeviceState) Registers() map[uint16]int {
	if s.registers == nil {
		return map[uint16]int{}
	}
	return maps.Clone(s.registers)
}

// Has reports whether the register backing attr is present.
func (s DeviceState) Has(attr Attribute) bool {
	r, err := Lookup(attr)
	if err != nil {
		return false
	}
	_, ok := s.registers[r.Address]
	return ok
}

// Value decodes attr from the held registers.
//
// Returns:
//   - any: The decoded value (int, float64, bool or string per Register.Kind)
//   - error: ErrUnknownAttribute, ErrAttributeUnavailable or ErrDecodeFailed
func (s DeviceState) Value(attr Attribute) (any, error) {
	r, err := Lookup(attr)
	if err != nil {
		return nil, err
	}
	raw, ok := s.registers[r.Address]
	if !ok {
		return nil, fmt.Errorf("%w: %s (register %d)", ErrAttributeUnavailable, attr, r.Address)
	}
	return r.Decode(raw)
}

// Int returns an integer attribute.
func (s DeviceState) Int(attr Attribute) (int, error) {
	v, err := s.Value(attr)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %T, not int", ErrDecodeFailed, attr, v)
	}
	return n, nil
}

// Float returns a numeric attribute as float64. Integer attributes are converted.
func (s DeviceState) Float(attr Attribute) (float64, error) {
	v, err := s.Value(attr)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %s is %T, not numeric", ErrDecodeFailed, attr, v)
}

// Bool returns a boolean attribute.
func (s DeviceState) Bool(attr Attribute) (bool, error) {
	v, err := s.Value(attr)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is %T, not bool", ErrDecodeFailed, attr, v)
	}
	return b, nil
}

// String returns an enumerated attribute's label.
func (s DeviceState) String(attr Attribute) (string, error) {
	v, err := s.Value(attr)
	if err != nil {
		return "", err
	}
	label, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, not a label", ErrDecodeFailed, attr, v)
	}
	return label, nil
}

// Values decodes every attribute whose register is present.
//
// Attributes that fail to decode are left out of the map and their errors
// are joined into the returned error.
func (s DeviceState) Values() (map[Attribute]any, error) {
	out := make(map[Attribute]any, len(s.registers))
	var errs []error
	for _, addr := range s.Addresses() {
		r, ok := LookupAddress(addr)
		if !ok {
			continue
		}
		v, err := r.Decode(s.registers[addr])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[r.Attribute] = v
	}
	return out, errors.Join(errs...)
}

// Merge returns a new Snapshot with other's registers applied over s.
// Neither s nor other is modified.
func (s DeviceState) Merge(other DeviceState) DeviceState {
	merged := make(map[uint16]int, len(s.registers)+len(other.registers))
	maps.Copy(merged, s.registers)
	maps.Copy(merged, other.registers)
	return DeviceState{kind: Snapshot, registers: merged}
}
