package simshare

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/sizestr"

	"github.com/sammck-go/simrelay/pkg/simwire"
)

// closeGracePeriod bounds the write of the close frame during session teardown
const closeGracePeriod = time.Second

// SessionStats is a point-in-time copy of a session's traffic counters
type SessionStats struct {
	ID           string        `json:"id"`
	Mode         TransportMode `json:"mode"`
	Subprotocol  string        `json:"subprotocol"`
	RemoteAddr   string        `json:"remote_addr"`
	FramesIn     uint64        `json:"frames_in"`
	FramesOut    uint64        `json:"frames_out"`
	BytesIn      uint64        `json:"bytes_in"`
	BytesOut     uint64        `json:"bytes_out"`
	DecodeErrors uint64        `json:"decode_errors"`
}

// Session owns one accepted websocket connection. It runs an inbound loop that
// decodes frames and hands records to the relay's EventHandler, and an outbound
// loop that drains the relay's queue onto the connection. Whichever loop ends
// first shuts the session down; the other loop is cancelled and its result is
// discarded. The connection is closed exactly once, by HandleOnceShutdown.
type Session struct {
	ShutdownHelper

	// ID is the session's identifier in the relay's registered-user set
	ID string

	// Mode is the transport the connection arrived on
	Mode TransportMode

	relay  *Relay
	wsConn *websocket.Conn
	codec  simwire.Codec
	ctx    context.Context
	cancel context.CancelFunc

	framesIn     uint64
	framesOut    uint64
	bytesIn      uint64
	bytesOut     uint64
	decodeErrors uint64
}

// newSession creates a Session for an upgraded websocket. The session does not
// start until Run is called.
func newSession(relay *Relay, wsConn *websocket.Conn, codec simwire.Codec, mode TransportMode) *Session {
	id := uuid.New().String()
	s := &Session{
		ID:     id,
		Mode:   mode,
		relay:  relay,
		wsConn: wsConn,
		codec:  codec,
	}
	s.InitShutdownHelper(relay.Logger.Fork("session#%s", id[:8]), s)
	return s
}

// Run starts both loops and blocks until the session has shut down. It returns
// the result of whichever loop finished first; nil means an orderly end (remote
// close, terminal sentinel sent, or ctx cancelled after the loop finished).
func (s *Session) Run(ctx context.Context) error {
	err := s.DoOnceActivate(
		func() error {
			s.ctx, s.cancel = context.WithCancel(ctx)
			s.ShutdownOnContext(ctx)
			s.startLoop("inbound", s.inboundLoop)
			s.startLoop("outbound", s.outboundLoop)
			if d := s.relay.config.PingInterval; d > 0 {
				done := make(chan struct{})
				s.AddShutdownChildChan(done)
				go func() {
					defer close(done)
					s.pingLoop(d)
				}()
			}
			return nil
		},
		true,
	)
	if err != nil {
		return err
	}
	return s.WaitShutdown()
}

// startLoop runs one of the session's loops in its own goroutine. The loop's
// return value is offered as the session's completion status; only the first
// offer is kept.
func (s *Session) startLoop(name string, loop func() error) {
	done := make(chan struct{})
	s.AddShutdownChildChan(done)
	go func() {
		defer close(done)
		err := loop()
		if err != nil {
			s.DLogf("%s loop ended: %s", name, err)
		} else {
			s.DLogf("%s loop ended", name)
		}
		s.StartShutdown(err)
	}()
}

// HandleOnceShutdown cancels the loops, says goodbye to the remote end, and
// closes the connection. Cancellation from the owner is an orderly stop.
func (s *Session) HandleOnceShutdown(completionErr error) error {
	if s.cancel != nil {
		s.cancel()
	}
	code := websocket.CloseNormalClosure
	if errors.Is(completionErr, context.Canceled) {
		code = websocket.CloseGoingAway
		completionErr = nil
	} else if completionErr != nil {
		code = websocket.CloseInternalServerErr
	}
	msg := websocket.FormatCloseMessage(code, "")
	if err := s.wsConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		s.TLogf("Close frame not sent: %s", err)
	}
	if err := s.wsConn.Close(); err != nil {
		s.TLogf("Close of websocket failed, ignoring: %s", err)
	}
	return completionErr
}

// inboundLoop reads frames until the connection ends. Malformed frames and
// handler failures are logged and skipped.
func (s *Session) inboundLoop() error {
	cfg := s.relay.config
	if cfg.IdleTimeout > 0 {
		s.wsConn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		s.wsConn.SetPongHandler(func(string) error {
			return s.wsConn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		})
	}
	for {
		mt, data, err := s.wsConn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return s.Errorf("Read failed: %s", err)
		}
		if cfg.IdleTimeout > 0 {
			s.wsConn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		}
		atomic.AddUint64(&s.framesIn, 1)
		atomic.AddUint64(&s.bytesIn, uint64(len(data)))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		rec, err := s.codec.Decode(data)
		if err != nil {
			atomic.AddUint64(&s.decodeErrors, 1)
			s.WLogf("Dropping malformed frame: %s", err)
			continue
		}
		if err := s.relay.dispatch(rec); err != nil {
			s.WLogf("Event handler failed: %s", err)
		}
	}
}

// pingLoop keeps the peer's pongs refreshing the idle deadline, whether or not
// this session holds the queue lease. A failed ping ends the session.
func (s *Session) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			err := s.wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.controlTimeout()))
			if err != nil {
				if s.ctx.Err() == nil {
					s.StartShutdown(s.Errorf("Ping failed: %s", err))
				}
				return
			}
		}
	}
}

// outboundLoop drains the queue onto the connection in dequeue order. It waits
// for enqueue notifications, falling back to a periodic recheck, and ends after
// sending the terminal sentinel.
func (s *Session) outboundLoop() error {
	q := s.relay.queue
	cfg := s.relay.config

	// only one session at a time consumes the queue
	release, err := q.Acquire(s.ctx)
	if err != nil {
		return nil
	}
	defer release()
	s.DLogf("Draining outbound queue (%d pending)", q.Len())

	var poll <-chan time.Time
	if cfg.PollInterval > 0 {
		t := time.NewTicker(cfg.PollInterval)
		defer t.Stop()
		poll = t.C
	}

	for {
		for {
			if s.ctx.Err() != nil {
				return nil
			}
			msg, ok := q.TryDequeue()
			if !ok {
				break
			}
			if err := s.send(msg); err != nil {
				if s.ctx.Err() != nil {
					return nil
				}
				return err
			}
			if simwire.IsTerminal(msg) {
				s.DLogf("Terminal sentinel sent")
				return nil
			}
		}
		select {
		case <-s.ctx.Done():
			return nil
		case <-q.Ready():
		case <-poll:
		}
	}
}

// send encodes and writes one message. A message the codec cannot encode is
// logged and skipped; only connection failures are returned.
func (s *Session) send(msg interface{}) error {
	data, err := s.codec.Encode(msg)
	if err != nil {
		s.WLogf("Skipping unencodable outbound message (%T): %s", msg, err)
		return nil
	}
	if d := s.relay.config.WriteTimeout; d > 0 {
		s.wsConn.SetWriteDeadline(time.Now().Add(d))
	}
	if err := s.wsConn.WriteMessage(s.codec.FrameType(), data); err != nil {
		return s.Errorf("Write failed: %s", err)
	}
	atomic.AddUint64(&s.framesOut, 1)
	atomic.AddUint64(&s.bytesOut, uint64(len(data)))
	return nil
}

// remoteAddr returns the peer address; socketpair connections have none
func (s *Session) remoteAddr() string {
	if a := s.wsConn.RemoteAddr(); a != nil && a.String() != "" {
		return a.String()
	}
	return string(s.Mode)
}

// controlTimeout bounds control frame writes, which always need a deadline
func (s *Session) controlTimeout() time.Duration {
	if d := s.relay.config.WriteTimeout; d > 0 {
		return d
	}
	return closeGracePeriod
}

// Stats returns a snapshot of the session's traffic counters
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:           s.ID,
		Mode:         s.Mode,
		Subprotocol:  s.codec.Name(),
		RemoteAddr:   s.remoteAddr(),
		FramesIn:     atomic.LoadUint64(&s.framesIn),
		FramesOut:    atomic.LoadUint64(&s.framesOut),
		BytesIn:      atomic.LoadUint64(&s.bytesIn),
		BytesOut:     atomic.LoadUint64(&s.bytesOut),
		DecodeErrors: atomic.LoadUint64(&s.decodeErrors),
	}
}

// summary returns a log line describing the session's traffic
func (s *Session) summary() string {
	st := s.Stats()
	return fmt.Sprintf("sent %d frames (%s) received %d frames (%s), %d malformed",
		st.FramesOut, sizestr.ToString(int64(st.BytesOut)),
		st.FramesIn, sizestr.ToString(int64(st.BytesIn)),
		st.DecodeErrors)
}
