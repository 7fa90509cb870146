package simwire

// Simple helper functions for manipulating JSON

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONValueInString extracts the single properly formatted JSON value in js.
// Additional non-whitespace characters after the value are an error.
//
// On success:
//    raw = the marshalled json, which may be later unmarshalled into a custom
//          object, or into a generic object with DecodeGenericJSONRawMessage.
//    nb = The number of bytes in js that were consumed by the valid JSON value.
//    err = nil
//
// On error, raw is nil and nb is a best guess at the offset of the error.
func ParseJSONValueInString(js string) (raw json.RawMessage, nb int, err error) {
	raw, nb, err = ParseNextJSONValueInString(js)
	if err == nil {
		if rest := strings.TrimSpace(js[nb:]); rest != "" {
			err = fmt.Errorf("Unexpected character(s) after valid JSON value: \"%s\"", rest)
			raw = nil
		}
	}
	return raw, nb, err
}

// ParseNextJSONValueInString extracts the properly formatted JSON value at the very beginning
// of the string js. It is not an error to have additional characters in js which may or may not
// be valid json.
func ParseNextJSONValueInString(js string) (raw json.RawMessage, nb int, err error) {
	jsonReader := strings.NewReader(js)
	decodeStream := json.NewDecoder(jsonReader)
	err = decodeStream.Decode(&raw)
	nb = int(decodeStream.InputOffset())
	if err != nil {
		if jsonError, ok := err.(*json.SyntaxError); ok {
			nb = int(jsonError.Offset)
		}
		raw = nil
	}
	return raw, nb, err
}

// DecodeGenericJSONRawMessage unmarshals a json.RawMessage into a generic interface{}, which may
// be a float64, a string, a bool, a slice of similar generics, or a map from a string to
// a similar generic.
func DecodeGenericJSONRawMessage(raw json.RawMessage) (interface{}, error) {
	var genValue interface{}
	var err error
	if raw != nil {
		err = json.Unmarshal(raw, &genValue)
	}
	return genValue, err
}

// ToCompactJSONString marshalls an arbitrary value into a single-line json string
// with no trailing newline
func ToCompactJSONString(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPrettyJSONString marshalls an arbitrary value into a json string with indentation
func ToPrettyJSONString(v interface{}) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetIndent("", "  ")
	err := enc.Encode(v)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
