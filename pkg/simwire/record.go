// Package simwire defines the records exchanged between a relay session and a
// remote operator, and the codecs used to put them on the wire.
//
// Every frame carries exactly one message. Inbound frames must decode to a
// field-mapping Record; outbound messages may be any value the codec can encode,
// including the terminal sentinel Done that ends a session's outbound flow.
package simwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is a single decoded field-mapping message
type Record map[string]interface{}

// DoneString is the wire value of the terminal sentinel
const DoneString = "done"

// ErrDecode is wrapped by every error returned from Codec.Decode
var ErrDecode = errors.New("malformed frame")

type terminal struct{}

// MarshalJSON encodes the terminal sentinel as the JSON string "done"
func (terminal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + DoneString + `"`), nil
}

func (terminal) String() string {
	return DoneString
}

// Done is the terminal sentinel. When a session's outbound flow dequeues it, the
// sentinel is sent to the operator and the outbound flow ends.
var Done interface{} = terminal{}

var doneJSON = []byte(`"` + DoneString + `"`)

// IsTerminal returns true if v is the terminal sentinel, either as Done or in one
// of its encoded forms (the string "done" or raw JSON "done").
func IsTerminal(v interface{}) bool {
	switch t := v.(type) {
	case terminal:
		return true
	case *terminal:
		return t != nil
	case string:
		return t == DoneString
	case json.RawMessage:
		return bytes.Equal(bytes.TrimSpace(t), doneJSON)
	}
	return false
}

// ParseMessageLine parses one line of JSON text into an outbound message. The
// string "done" becomes the terminal sentinel.
func ParseMessageLine(line string) (interface{}, error) {
	raw, _, err := ParseJSONValueInString(line)
	if err != nil {
		return nil, err
	}
	v, err := DecodeGenericJSONRawMessage(raw)
	if err != nil {
		return nil, err
	}
	if IsTerminal(v) {
		return Done, nil
	}
	return v, nil
}

// ParseRecordLine parses one line of JSON text that must hold an object
func ParseRecordLine(line string) (Record, error) {
	raw, _, err := ParseJSONValueInString(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	v, err := DecodeGenericJSONRawMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return asRecord(v)
}
