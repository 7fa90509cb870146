package simwire

import (
	"encoding/json"
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// SubprotocolJSON selects JSON text frames. It is also used when the client
	// does not ask for a subprotocol.
	SubprotocolJSON = "simrelay.json"

	// SubprotocolProtobuf selects binary frames holding a protobuf google.protobuf.Value
	SubprotocolProtobuf = "simrelay.protobuf"
)

// Subprotocols lists the websocket subprotocols understood by the relay, in
// server preference order
var Subprotocols = []string{SubprotocolJSON, SubprotocolProtobuf}

// Codec converts between messages and websocket frame payloads
type Codec interface {
	// Name returns the websocket subprotocol name for this codec
	Name() string

	// FrameType returns the websocket message type used for encoded frames
	FrameType() int

	// Encode serializes one outbound message
	Encode(v interface{}) ([]byte, error)

	// Decode parses one inbound frame, which must be a field-mapping record.
	// Errors wrap ErrDecode.
	Decode(data []byte) (Record, error)

	// DecodeValue parses one frame holding any value, such as the terminal
	// sentinel received by an operator. Errors wrap ErrDecode.
	DecodeValue(data []byte) (interface{}, error)
}

// CodecFor returns the codec for a negotiated websocket subprotocol. An empty
// subprotocol selects JSON.
func CodecFor(subprotocol string) (Codec, error) {
	switch subprotocol {
	case "", SubprotocolJSON:
		return JSONCodec{}, nil
	case SubprotocolProtobuf:
		return ProtobufCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported subprotocol: \"%s\"", subprotocol)
}

// JSONCodec encodes each message as one JSON text frame
type JSONCodec struct{}

// Name returns the subprotocol name
func (JSONCodec) Name() string { return SubprotocolJSON }

// FrameType returns websocket.TextMessage
func (JSONCodec) FrameType() int { return websocket.TextMessage }

// Encode serializes v as compact JSON
func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode parses a JSON object into a Record
func (c JSONCodec) Decode(data []byte) (Record, error) {
	generic, err := c.DecodeValue(data)
	if err != nil {
		return nil, err
	}
	return asRecord(generic)
}

// DecodeValue parses any single JSON value
func (JSONCodec) DecodeValue(data []byte) (interface{}, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return generic, nil
}

// ProtobufCodec encodes each message as a binary frame holding a serialized
// google.protobuf.Value. Inbound frames must hold a struct value.
type ProtobufCodec struct{}

// Name returns the subprotocol name
func (ProtobufCodec) Name() string { return SubprotocolProtobuf }

// FrameType returns websocket.BinaryMessage
func (ProtobufCodec) FrameType() int { return websocket.BinaryMessage }

// Encode serializes v as a google.protobuf.Value. v is first normalized through
// its JSON form so that structs and custom marshallers behave as with JSONCodec.
func (ProtobufCodec) Encode(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("cannot convert message to protobuf value: %s", err)
	}
	return proto.Marshal(pv)
}

// Decode parses a serialized google.protobuf.Value holding a struct
func (ProtobufCodec) Decode(data []byte) (Record, error) {
	pv, err := unmarshalValue(data)
	if err != nil {
		return nil, err
	}
	s := pv.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("%w: protobuf value is not a struct", ErrDecode)
	}
	return Record(s.AsMap()), nil
}

// DecodeValue parses a serialized google.protobuf.Value of any kind
func (ProtobufCodec) DecodeValue(data []byte) (interface{}, error) {
	pv, err := unmarshalValue(data)
	if err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}

func unmarshalValue(data []byte) (*structpb.Value, error) {
	pv := &structpb.Value{}
	if err := proto.Unmarshal(data, pv); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return pv, nil
}

func toGeneric(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodeGenericJSONRawMessage(raw)
}

func asRecord(generic interface{}) (Record, error) {
	m, ok := generic.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected an object, got %s", ErrDecode, jsonKind(generic))
	}
	return Record(m), nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
