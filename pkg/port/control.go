// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package port

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Bridge message tags. Every WebSocket binary message starts with one.
const (
	tagData    = 0x00
	tagControl = 0x01
)

// Control operations carried as CBOR [op, payload_map]
const (
	OpSetBaudRate  = 0x01
	OpSetDTR       = 0x02
	OpSetRTS       = 0x03
	OpClearBuffers = 0x04
	OpModemStatus  = 0x05
)

// Control payload keys
const (
	KeyValue = 0
	KeyCTS   = 1
	KeyDSR   = 2
)

// EncodeControl builds a CBOR control message: [op, payload_map]
func EncodeControl(op uint8, payload map[int]interface{}) ([]byte, error) {
	var msg interface{}
	if len(payload) == 0 {
		msg = []interface{}{uint64(op), nil}
	} else {
		msg = []interface{}{uint64(op), payload}
	}
	return cbor.Marshal(msg)
}

// ParseControl parses a CBOR control message: [op, payload_map]
// Returns the operation and decoded payload map (nil for empty payloads)
func ParseControl(data []byte) (op uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty control message")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode control message: %w", err)
	}

	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return 0, nil, fmt.Errorf("control op out of range: %d", v)
		}
		op = uint8(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for control op, got %T", msg[0])
	}

	if msg[1] == nil {
		return op, nil, nil
	}

	switch v := msg[1].(type) {
	case map[interface{}]interface{}:
		payload = make(map[int]interface{})
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				payload[int(k)] = val
			case int64:
				payload[int(k)] = val
			default:
				return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}

	return op, payload, nil
}

// GetMapBool extracts a bool from a control payload by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	val, ok := v.(bool)
	return val, ok
}

// frameData prefixes serial bytes with the data tag
func frameData(p []byte) []byte {
	msg := make([]byte, 0, len(p)+1)
	msg = append(msg, tagData)
	return append(msg, p...)
}

// frameControl encodes and tags a control message
func frameControl(op uint8, payload map[int]interface{}) ([]byte, error) {
	body, err := EncodeControl(op, payload)
	if err != nil {
		return nil, err
	}
	return append([]byte{tagControl}, body...), nil
}
