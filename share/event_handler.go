package simshare

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sammck-go/simrelay/pkg/simwire"
)

// EventHandler consumes decoded inbound records. The relay calls Parse once per
// record, in arrival order, and never concurrently. An error or panic from Parse
// is logged by the session and does not end it.
type EventHandler interface {
	Parse(rec simwire.Record) error
}

// EventHandlerFunc adapts an ordinary function to an EventHandler
type EventHandlerFunc func(rec simwire.Record) error

// Parse calls f(rec)
func (f EventHandlerFunc) Parse(rec simwire.Record) error {
	return f(rec)
}

// ChannelEventHandler forwards records to an action channel read by the
// simulation loop. It never blocks; when the channel is full the record is
// dropped and counted.
type ChannelEventHandler struct {
	actions chan simwire.Record
	dropped uint64
}

// NewChannelEventHandler creates a ChannelEventHandler with a buffered action
// channel of the given capacity
func NewChannelEventHandler(capacity int) *ChannelEventHandler {
	return &ChannelEventHandler{actions: make(chan simwire.Record, capacity)}
}

// Actions returns the channel that receives forwarded records
func (h *ChannelEventHandler) Actions() <-chan simwire.Record {
	return h.actions
}

// Dropped returns the number of records dropped because the channel was full
func (h *ChannelEventHandler) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Parse forwards rec without blocking
func (h *ChannelEventHandler) Parse(rec simwire.Record) error {
	select {
	case h.actions <- rec:
		return nil
	default:
		n := atomic.AddUint64(&h.dropped, 1)
		return fmt.Errorf("action channel full; %d records dropped", n)
	}
}

// LogEventHandler logs each record at info level. It is useful when no
// simulation is attached.
type LogEventHandler struct {
	Logger Logger
}

// Parse logs rec
func (h LogEventHandler) Parse(rec simwire.Record) error {
	js, err := simwire.ToCompactJSONString(rec)
	if err != nil {
		return err
	}
	h.Logger.ILogf("event: %s", js)
	return nil
}

// JSONLinesEventHandler writes each record as one line of compact JSON
type JSONLinesEventHandler struct {
	lock sync.Mutex
	w    io.Writer
}

// NewJSONLinesEventHandler creates a JSONLinesEventHandler writing to w
func NewJSONLinesEventHandler(w io.Writer) *JSONLinesEventHandler {
	return &JSONLinesEventHandler{w: w}
}

// Parse writes rec followed by a newline
func (h *JSONLinesEventHandler) Parse(rec simwire.Record) error {
	js, err := simwire.ToCompactJSONString(rec)
	if err != nil {
		return err
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	_, err = io.WriteString(h.w, js+"\n")
	return err
}
