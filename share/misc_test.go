package simshare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/sammck-go/simrelay/pkg/simwire"
)

func TestUsers(t *testing.T) {
	u := NewUsers()
	u.Add("b")
	u.Add("a")
	u.Add("a")
	if u.Len() != 2 || !u.Has("a") {
		t.Errorf("unexpected users %v", u.List())
	}
	if got := u.List(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("List() = %v", got)
	}
	u.Remove("a")
	u.Remove("missing")
	if u.Has("a") || u.Len() != 1 {
		t.Errorf("Remove failed: %v", u.List())
	}
}

func TestConnStats(t *testing.T) {
	var c ConnStats
	c.New()
	c.Open()
	c.New()
	c.Open()
	c.Close()
	if s := c.String(); s != "[1/2]" {
		t.Errorf("String() = %s; expected [1/2]", s)
	}
}

func TestLoggerForkAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithSink("relay", NewTextSink(&buf), LogLevelInfo)
	child := l.Fork("session#%d", 7)
	if child.Prefix() != "relay: session#7" {
		t.Errorf("Prefix() = %q", child.Prefix())
	}
	child.DLogf("hidden")
	child.ILogf("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "relay: session#7: shown") {
		t.Errorf("unexpected log output %q", out)
	}
	err := child.DLogErrorf("write failed")
	if err.Error() != "relay: session#7: write failed" {
		t.Errorf("DLogErrorf() = %q", err)
	}
	if StringToLogLevel("WARN") != LogLevelWarning {
		t.Errorf("warn alias not accepted")
	}
}

func TestZerologSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithSink("relay", NewZerologSink(&buf), LogLevelDebug)
	l.Fork("tls").WLogf("listener failed")
	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if rec["level"] != "warn" || rec["component"] != "relay: tls" || rec["message"] != "listener failed" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestChannelEventHandlerDropsWhenFull(t *testing.T) {
	h := NewChannelEventHandler(1)
	if err := h.Parse(simwire.Record{"n": 1}); err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if err := h.Parse(simwire.Record{"n": 2}); err == nil {
		t.Errorf("Parse into a full channel succeeded")
	}
	if h.Dropped() != 1 {
		t.Errorf("Dropped() = %d", h.Dropped())
	}
	if rec := <-h.Actions(); rec["n"] != 1 {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestJSONLinesEventHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewJSONLinesEventHandler(&buf)
	h.Parse(simwire.Record{"ButtonEvent": "pause"})
	h.Parse(simwire.Record{"ButtonEvent": "resume"})
	expect := "{\"ButtonEvent\":\"pause\"}\n{\"ButtonEvent\":\"resume\"}\n"
	if buf.String() != expect {
		t.Errorf("output %q; expected %q", buf.String(), expect)
	}
}

func TestLoopListenerCloseIsIdempotent(t *testing.T) {
	l := newLoopListener()
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %s", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close failed: %s", err)
	}
	if _, err := l.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Accept after Close returned %v", err)
	}
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if err := l.push(context.Background(), a); err == nil {
		t.Errorf("push to a closed listener succeeded")
	}
}
