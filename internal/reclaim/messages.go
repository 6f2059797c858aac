package reclaim

import (
	"encoding/json"
	"fmt"
)

// Wire message identifiers.
const (
	MessageRead  = "read"
	MessageWrite = "write"
)

// FullTableRegister is the read register meaning "return the whole table".
const FullTableRegister = 1

// Message is the JSON frame exchanged with the controller in both directions.
//
// For outbound reads Values is [1]. For writes it holds the single encoded
// value. A full-table reply carries alternating address, value pairs.
type Message struct {
	MessageID string `json:"messageId"`
	Register  int    `json:"modbusReg"`
	Values    []int  `json:"modbusVal"`
}

// NewReadRequest builds the full-table read request.
func NewReadRequest() Message {
	return Message{
		MessageID: MessageRead,
		Register:  FullTableRegister,
		Values:    []int{1},
	}
}

// NewWriteRequest builds a single-register write command.
func NewWriteRequest(addr uint16, raw int) Message {
	return Message{
		MessageID: MessageWrite,
		Register:  int(addr),
		Values:    []int{raw},
	}
}

// Marshal encodes the message as JSON.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes an inbound payload into a DeviceState.
//
// A read reply on FullTableRegister with an even, non-empty value list becomes
// a Snapshot. A write acknowledgement with exactly one value becomes a Delta
// for its register. Everything else fails with ErrMalformedMessage.
func ParseMessage(payload []byte) (DeviceState, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return DeviceState{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch msg.MessageID {
	case MessageRead:
		return parseReadReply(msg)
	case MessageWrite:
		return parseWriteAck(msg)
	default:
		return DeviceState{}, fmt.Errorf("%w: unknown messageId %q", ErrMalformedMessage, msg.MessageID)
	}
}

func parseReadReply(msg Message) (DeviceState, error) {
	if msg.Register != FullTableRegister {
		return DeviceState{}, fmt.Errorf("%w: read reply for register %d", ErrMalformedMessage, msg.Register)
	}
	if len(msg.Values) == 0 || len(msg.Values)%2 != 0 {
		return DeviceState{}, fmt.Errorf("%w: read reply has %d values, want non-empty pairs", ErrMalformedMessage, len(msg.Values))
	}

	registers := make(map[uint16]int, len(msg.Values)/2)
	for i := 0; i < len(msg.Values); i += 2 {
		addr, err := toAddress(msg.Values[i])
		if err != nil {
			return DeviceState{}, err
		}
		registers[addr] = msg.Values[i+1]
	}
	return DeviceState{kind: Snapshot, registers: registers}, nil
}

func parseWriteAck(msg Message) (DeviceState, error) {
	if len(msg.Values) != 1 {
		return DeviceState{}, fmt.Errorf("%w: write acknowledgement has %d values, want 1", ErrMalformedMessage, len(msg.Values))
	}
	addr, err := toAddress(msg.Register)
	if err != nil {
		return DeviceState{}, err
	}
	return NewDelta(addr, msg.Values[0]), nil
}

func toAddress(n int) (uint16, error) {
	if n < 0 || n > maxRegisterValue {
		return 0, fmt.Errorf("%w: register address %d out of range", ErrMalformedMessage, n)
	}
	return uint16(n), nil
}
