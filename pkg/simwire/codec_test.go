package simwire

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

type renderUpdate struct {
	Step   int       `json:"step"`
	Reward float64   `json:"reward"`
	Pixels []float64 `json:"pixels"`
}

func TestJSONCodecEncodesSentinelAsDone(t *testing.T) {
	b, err := JSONCodec{}.Encode(Done)
	if err != nil {
		t.Fatalf("Encode(Done) failed: %s", err)
	}
	if string(b) != `"done"` {
		t.Errorf("Encode(Done) = %s; expected \"done\"", b)
	}
}

func TestJSONCodecDecodeRejectsNonRecords(t *testing.T) {
	c := JSONCodec{}
	for _, frame := range []string{
		`not json at all`,
		`{"unterminated": `,
		`[1, 2, 3]`,
		`"done"`,
		`42`,
		`null`,
	} {
		if _, err := c.Decode([]byte(frame)); !errors.Is(err, ErrDecode) {
			t.Errorf("Decode(%q) returned %v; expected ErrDecode", frame, err)
		}
	}
}

func TestJSONCodecDecodeRecord(t *testing.T) {
	rec, err := JSONCodec{}.Decode([]byte(`{"KeyboardEvent": {"KeyDown": "ArrowLeft"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %s", err)
	}
	ev, ok := rec["KeyboardEvent"].(map[string]interface{})
	if !ok || ev["KeyDown"] != "ArrowLeft" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestProtobufCodecRecord(t *testing.T) {
	c := ProtobufCodec{}
	if c.FrameType() != websocket.BinaryMessage {
		t.Errorf("FrameType() = %d; expected BinaryMessage", c.FrameType())
	}
	b, err := c.Encode(map[string]interface{}{
		"ButtonEvent": "start",
		"update":      renderUpdate{Step: 3, Reward: 1.5, Pixels: []float64{0, 1}},
	})
	if err != nil {
		t.Fatalf("Encode failed: %s", err)
	}
	rec, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %s", err)
	}
	if rec["ButtonEvent"] != "start" {
		t.Errorf("ButtonEvent = %v; expected start", rec["ButtonEvent"])
	}
	update, ok := rec["update"].(map[string]interface{})
	if !ok {
		t.Fatalf("update field has type %T", rec["update"])
	}
	if update["step"] != float64(3) || update["reward"] != 1.5 {
		t.Errorf("unexpected update: %v", update)
	}
}

func TestProtobufCodecRejectsNonStruct(t *testing.T) {
	c := ProtobufCodec{}
	b, err := c.Encode(Done)
	if err != nil {
		t.Fatalf("Encode(Done) failed: %s", err)
	}
	if _, err := c.Decode(b); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode of a string value returned %v; expected ErrDecode", err)
	}
	if _, err := c.Decode([]byte{0xff, 0xff, 0xff}); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode of garbage returned %v; expected ErrDecode", err)
	}
}

func TestDecodeValueAcceptsSentinel(t *testing.T) {
	for _, c := range []Codec{JSONCodec{}, ProtobufCodec{}} {
		b, err := c.Encode(Done)
		if err != nil {
			t.Fatalf("%s: Encode(Done) failed: %s", c.Name(), err)
		}
		v, err := c.DecodeValue(b)
		if err != nil {
			t.Fatalf("%s: DecodeValue failed: %s", c.Name(), err)
		}
		if !IsTerminal(v) {
			t.Errorf("%s: DecodeValue returned %v; expected the terminal sentinel", c.Name(), v)
		}
	}
}

func TestCodecFor(t *testing.T) {
	for sub, expected := range map[string]string{
		"":                  SubprotocolJSON,
		SubprotocolJSON:     SubprotocolJSON,
		SubprotocolProtobuf: SubprotocolProtobuf,
	} {
		c, err := CodecFor(sub)
		if err != nil {
			t.Fatalf("CodecFor(%q) failed: %s", sub, err)
		}
		if c.Name() != expected {
			t.Errorf("CodecFor(%q).Name() = %s; expected %s", sub, c.Name(), expected)
		}
	}
	if _, err := CodecFor("chat"); err == nil {
		t.Errorf("CodecFor(\"chat\") succeeded")
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(Done) || !IsTerminal("done") {
		t.Errorf("IsTerminal rejected the sentinel")
	}
	if IsTerminal("Done") || IsTerminal(Record{"done": true}) || IsTerminal(nil) {
		t.Errorf("IsTerminal accepted a non-sentinel")
	}
}

func TestParseJSONValueInString(t *testing.T) {
	raw, _, err := ParseJSONValueInString(`{"a": 1}  `)
	if err != nil {
		t.Fatalf("ParseJSONValueInString failed: %s", err)
	}
	if s, _ := ToCompactJSONString(raw); s != `{"a":1}` {
		t.Errorf("compact form = %s", s)
	}
	if _, _, err := ParseJSONValueInString(`{"a": 1} trailing`); err == nil {
		t.Errorf("trailing garbage was accepted")
	}
}

func TestParseMessageLine(t *testing.T) {
	v, err := ParseMessageLine(`  "done"  `)
	if err != nil {
		t.Fatalf("ParseMessageLine failed: %s", err)
	}
	if v != Done {
		t.Errorf("ParseMessageLine(\"done\") = %v; expected Done", v)
	}
	v, err = ParseMessageLine(`{"step": 1}`)
	if err != nil {
		t.Fatalf("ParseMessageLine failed: %s", err)
	}
	if m, ok := v.(map[string]interface{}); !ok || m["step"] != float64(1) {
		t.Errorf("unexpected message: %v", v)
	}
	if _, err := ParseMessageLine(`{"step": 1} trailing`); err == nil {
		t.Errorf("ParseMessageLine accepted trailing garbage")
	}
}

func TestParseRecordLine(t *testing.T) {
	if _, err := ParseRecordLine(`[1, 2]`); !errors.Is(err, ErrDecode) {
		t.Errorf("ParseRecordLine of an array returned %v; expected ErrDecode", err)
	}
	rec, err := ParseRecordLine(`{"ButtonEvent": "pause"}`)
	if err != nil {
		t.Fatalf("ParseRecordLine failed: %s", err)
	}
	if rec["ButtonEvent"] != "pause" {
		t.Errorf("unexpected record: %v", rec)
	}
}
