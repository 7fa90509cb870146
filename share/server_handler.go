package simshare

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"

	"github.com/sammck-go/simrelay/pkg/simwire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    simwire.Subprotocols,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// httpHandler returns the handler served by a listener of the given mode. Every
// listener feeds the same session acceptance path.
func (s *Relay) httpHandler(ctx context.Context, mode TransportMode) http.Handler {
	h := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleClientHandler(ctx, mode, w, r)
	}))
	if s.GetLogLevel() >= LogLevelDebug {
		h = requestlog.Wrap(h)
	}
	return h
}

// handleClientHandler is the main http websocket handler for the relay
func (s *Relay) handleClientHandler(ctx context.Context, mode TransportMode, w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		if !subprotocolSupported(r) {
			s.ILogf("Client connection using unsupported websocket protocols %v, expected one of %v",
				websocket.Subprotocols(r), simwire.Subprotocols)
			http.Error(w, "Not Found", 404)
			return
		}
		s.DLogf("Upgrading to websocket (%s), URL tail=\"%s\"", mode, r.URL.String())
		// on failure Upgrade has already replied to the client
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.DLogf("Failed to upgrade to websocket: %s", err)
			return
		}
		codec, err := simwire.CodecFor(wsConn.Subprotocol())
		if err != nil {
			s.DLogf("%s", err)
			wsConn.Close()
			return
		}
		go s.handleWebsocket(ctx, mode, wsConn, codec)
		return
	}

	switch r.URL.Path {
	case "/health":
		w.Write([]byte("OK\n"))
		return
	case "/version":
		w.Write([]byte(BuildVersion))
		return
	case "/stats":
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.Stats()); err != nil {
			s.DLogf("Failed to write stats: %s", err)
		}
		return
	}

	http.Error(w, "Not Found", 404)
}

// subprotocolSupported returns true if the client asked for no subprotocol or
// for at least one the relay speaks
func subprotocolSupported(r *http.Request) bool {
	requested := websocket.Subprotocols(r)
	if len(requested) == 0 {
		return true
	}
	for _, p := range requested {
		if _, err := simwire.CodecFor(p); err == nil && p != "" {
			return true
		}
	}
	return false
}

// handleWebsocket runs a session for an upgraded connection. It returns after the
// session has shut down and the connection is closed.
func (s *Relay) handleWebsocket(ctx context.Context, mode TransportMode, wsConn *websocket.Conn, codec simwire.Codec) {
	session := newSession(s, wsConn, codec, mode)
	if err := s.PauseShutdown(); err != nil {
		session.DLogf("Relay is shutting down; rejecting connection")
		wsConn.Close()
		return
	}
	s.AddShutdownChild(session)
	s.ResumeShutdown()

	s.trackSession(session)
	s.connStats.New()
	s.connStats.Open()
	session.ILogf("%s Open (%s from %s, %s)", &s.connStats, mode, session.remoteAddr(), codec.Name())

	err := session.Run(ctx)

	s.connStats.Close()
	s.untrackSession(session)
	if err != nil {
		session.ILogf("%s Closed (error: %s): %s", &s.connStats, err, session.summary())
	} else {
		session.ILogf("%s Closed: %s", &s.connStats, session.summary())
	}
}
