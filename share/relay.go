package simshare

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prep/socketpair"

	"github.com/sammck-go/simrelay/pkg/outq"
	"github.com/sammck-go/simrelay/pkg/simwire"
)

// Relay accepts operator connections on the configured listeners and bridges each
// one to the shared outbound queue and the EventHandler. The simulation loop only
// touches the queue and its own handler; it never calls back into the relay.
type Relay struct {
	ShutdownHelper
	config    *Config
	queue     *outq.Queue
	handler   EventHandler
	users     *Users
	connStats ConnStats
	startedAt time.Time

	// handlerLock serializes EventHandler.Parse across all sessions
	handlerLock sync.Mutex

	sessionsLock sync.Mutex
	sessions     map[string]*Session

	listenersLock sync.Mutex
	listeners     []*Listener
	results       []ListenerResult
	certReloader  *CertReloader

	loop *loopListener

	// listenOverride lets tests substitute the bind step of a transport mode
	listenOverride func(mode TransportMode, addr string) listenFunc
}

// NewRelay creates a relay. A nil cfg uses DefaultConfig; a nil queue creates one
// bounded by cfg.MaxPending; a nil handler logs inbound records. No listener is
// started until Start.
func NewRelay(cfg *Config, queue *outq.Queue, handler EventHandler) (*Relay, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLoggerForFormat("relay", cfg.LogFormat, cfg.Level())
	if err != nil {
		return nil, err
	}
	if queue == nil {
		queue = outq.New(outq.WithMaxPending(cfg.MaxPending))
	}
	s := &Relay{
		config:   cfg,
		queue:    queue,
		users:    NewUsers(),
		sessions: make(map[string]*Session),
		loop:     newLoopListener(),
	}
	s.InitShutdownHelper(logger, s)
	if handler == nil {
		handler = LogEventHandler{Logger: s.Logger.Fork("events")}
	}
	s.handler = handler
	return s, nil
}

// Start starts every configured listener, each independently, and returns the
// outcome of each attempt. It fails only if a listener whose failure policy is
// FailureFatal could not start, in which case the relay is shut down. Start does
// not block; the relay runs until ctx is done or Shutdown is called.
func (s *Relay) Start(ctx context.Context) ([]ListenerResult, error) {
	err := s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)
			s.startedAt = time.Now()
			s.ILogf("simrelay %s starting", BuildVersion)
			results, err := s.bootstrap(ctx)
			s.listenersLock.Lock()
			s.results = results
			s.listenersLock.Unlock()
			if err != nil {
				return err
			}
			loop := NewHTTPServer(s.Logger.Fork("loop"))
			if err := loop.Serve(ctx, s.loop, s.httpHandler(ctx, TransportLoop)); err != nil {
				return err
			}
			s.AddShutdownChild(loop)
			return nil
		},
		true,
	)
	return s.Results(), err
}

// Run starts the relay and blocks until it shuts down. Cancellation of ctx is an
// orderly stop and returns nil.
func (s *Relay) Run(ctx context.Context) error {
	if _, err := s.Start(ctx); err != nil {
		return err
	}
	err := s.WaitShutdown()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// HandleOnceShutdown is called exactly once. Listeners, the loop listener, and
// live sessions are children and are shut down after it returns.
func (s *Relay) HandleOnceShutdown(completionErr error) error {
	s.DLogf("HandleOnceShutdown")
	return completionErr
}

// Queue returns the outbound queue fed by the simulation loop
func (s *Relay) Queue() *outq.Queue {
	return s.queue
}

// Config returns the relay's configuration. It must not be modified.
func (s *Relay) Config() *Config {
	return s.config
}

// Users returns the set of registered session identifiers
func (s *Relay) Users() *Users {
	return s.users
}

// Listeners returns the network listeners that are accepting connections
func (s *Relay) Listeners() []*Listener {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	result := make([]*Listener, len(s.listeners))
	copy(result, s.listeners)
	return result
}

// Listener returns the running listener for mode, or nil
func (s *Relay) Listener(mode TransportMode) *Listener {
	for _, l := range s.Listeners() {
		if l.Mode == mode {
			return l
		}
	}
	return nil
}

// Results returns the outcome of each listener startup attempt
func (s *Relay) Results() []ListenerResult {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	result := make([]ListenerResult, len(s.results))
	copy(result, s.results)
	return result
}

// Sessions returns the traffic counters of every live session
func (s *Relay) Sessions() []SessionStats {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	result := make([]SessionStats, 0, len(s.sessions))
	for _, session := range s.sessions {
		result = append(result, session.Stats())
	}
	return result
}

// DialLoop opens an in-process websocket session to the relay over a socketpair,
// without going through a network listener. subprotocol selects the codec; empty
// selects JSON. The caller owns the returned connection.
func (s *Relay) DialLoop(ctx context.Context, subprotocol string) (*websocket.Conn, error) {
	if !s.IsActivated() {
		return nil, s.Errorf("DialLoop before Start")
	}
	callerConn, relayConn, err := socketpair.New("unix")
	if err != nil {
		return nil, s.Errorf("Unable to create socketpair: %s", err)
	}
	if err := s.loop.push(ctx, relayConn); err != nil {
		callerConn.Close()
		relayConn.Close()
		return nil, s.Errorf("Loop listener unavailable: %s", err)
	}
	d := websocket.Dialer{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		NetDial: func(network, addr string) (net.Conn, error) {
			return callerConn, nil
		},
	}
	if subprotocol != "" {
		d.Subprotocols = []string{subprotocol}
	}
	wsConn, _, err := d.DialContext(ctx, "ws://"+loopAddr{}.String()+"/", nil)
	if err != nil {
		callerConn.Close()
		return nil, s.Errorf("Loop handshake failed: %s", err)
	}
	return wsConn, nil
}

// dispatch hands one decoded record to the EventHandler. Calls are serialized
// across sessions, and a panic in the handler is returned as an error.
func (s *Relay) dispatch(rec simwire.Record) (err error) {
	s.handlerLock.Lock()
	defer s.handlerLock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return s.handler.Parse(rec)
}

func (s *Relay) trackSession(session *Session) {
	s.sessionsLock.Lock()
	s.sessions[session.ID] = session
	s.sessionsLock.Unlock()
	s.users.Add(session.ID)
}

func (s *Relay) untrackSession(session *Session) {
	s.users.Remove(session.ID)
	s.sessionsLock.Lock()
	delete(s.sessions, session.ID)
	s.sessionsLock.Unlock()
}

// ListenerStatus describes one listener in RelayStats
type ListenerStatus struct {
	Mode   TransportMode `json:"mode"`
	Addr   string        `json:"addr"`
	Up     bool          `json:"up"`
	Policy FailurePolicy `json:"policy"`
	Error  string        `json:"error,omitempty"`
}

// RelayStats is served as JSON by the /stats endpoint
type RelayStats struct {
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Conns     ConnStatsSnapshot `json:"conns"`
	Users     []string          `json:"users"`
	Queue     outq.Stats        `json:"queue"`
	Listeners []ListenerStatus  `json:"listeners"`
	Sessions  []SessionStats    `json:"sessions"`
}

// Stats returns a snapshot of the relay's state
func (s *Relay) Stats() RelayStats {
	st := RelayStats{
		Version:  BuildVersion,
		Conns:    s.connStats.Snapshot(),
		Users:    s.users.List(),
		Queue:    s.queue.Stats(),
		Sessions: s.Sessions(),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt).Truncate(time.Second).String()
	}
	for _, r := range s.Results() {
		ls := ListenerStatus{Mode: r.Mode, Addr: r.Addr, Up: r.Started(), Policy: r.Policy}
		if r.Err != nil {
			ls.Error = r.Err.Error()
		}
		st.Listeners = append(st.Listeners, ls)
	}
	return st
}
