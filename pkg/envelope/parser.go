// Package envelope parses the double-wrapped binary admin protocol frame
// used by conductor clients and encodes the matching error frame.
//
// Two wire shapes are accepted, both MessagePack-encoded maps:
//
//   - client envelope: {id, kind: "request", data: <binary>} where the
//     binary payload decodes to an inner {kind: <operation>, data: <args>}
//   - direct tagged message: {kind: <operation>, data: <args>}, with
//     "request" and "response" rejected as operation names in this shape
//
// Parsing never panics on malformed input; every failure is reported as an
// error so the caller can fail closed.
package envelope

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-msgpack/codec"
)

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}()

// Frame is a parsed admin-protocol message: the operation the caller wants
// to invoke, and its (still-encoded-as-Go-values) argument payload.
type Frame struct {
	Operation string
	Data      interface{}
}

// ParseFrame decodes a binary admin-protocol message into a Frame, trying
// the client-envelope shape first and falling back to the direct-tagged
// shape.
func ParseFrame(raw []byte) (*Frame, error) {
	var outer map[string]interface{}
	dec := codec.NewDecoderBytes(raw, msgpackHandle)
	if err := dec.Decode(&outer); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if frame, ok, err := tryParseClientEnvelope(outer); err != nil {
		return nil, err
	} else if ok {
		return frame, nil
	}

	if frame, ok := tryParseDirectMessage(outer); ok {
		return frame, nil
	}

	return nil, fmt.Errorf("invalid message format: expected a map with a kind field")
}

func tryParseClientEnvelope(outer map[string]interface{}) (*Frame, bool, error) {
	tag, _ := taggedField(outer)
	if tag != "request" {
		return nil, false, nil
	}

	raw, ok := outer["data"]
	if !ok {
		return nil, false, nil
	}
	innerBytes, ok := raw.([]byte)
	if !ok {
		return nil, false, nil
	}

	var inner map[string]interface{}
	dec := codec.NewDecoderBytes(innerBytes, msgpackHandle)
	if err := dec.Decode(&inner); err != nil {
		return nil, false, fmt.Errorf("decode inner request: %w", err)
	}

	operation, ok := taggedField(inner)
	if !ok {
		return nil, false, nil
	}

	return &Frame{Operation: operation, Data: inner["data"]}, true, nil
}

func tryParseDirectMessage(outer map[string]interface{}) (*Frame, bool) {
	operation, ok := taggedField(outer)
	if !ok {
		return nil, false
	}
	if operation == "request" || operation == "response" {
		return nil, false
	}
	return &Frame{Operation: operation, Data: outer["data"]}, true
}

// taggedField reads the operation/message-type tag from its "kind" field.
func taggedField(m map[string]interface{}) (string, bool) {
	v, ok := m["kind"].(string)
	return v, ok
}

// EncodeError encodes an error response frame: {kind: "error", data: {message}}.
func EncodeError(message string) []byte {
	errFrame := map[string]interface{}{
		"kind": "error",
		"data": map[string]interface{}{
			"message": message,
		},
	}

	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(errFrame); err != nil {
		return nil
	}
	return buf
}

// EncodeResponse wraps a successful result as {kind: "response", data}.
func EncodeResponse(data interface{}) ([]byte, error) {
	resp := map[string]interface{}{
		"kind": "response",
		"data": data,
	}
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(resp); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return buf, nil
}
