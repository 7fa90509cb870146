package simshare

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// HTTPServer runs one net/http server on one listener and adds asynchronous
// shutdown. Hijacked (websocket) connections are not closed by it; sessions own those.
type HTTPServer struct {
	ShutdownHelper
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates a new HTTPServer
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		server: &http.Server{},
	}
	h.InitShutdownHelper(logger, h)
	return h
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It closes
// the listener and any idle HTTP connections.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	h.DLogf("HandleOnceShutdown")
	if h.listener == nil {
		return completionErr
	}
	err := h.server.Close()
	if err != nil {
		h.DLogf("close of server failed, ignoring: %s", err)
	}
	return completionErr
}

// Serve starts serving handler on an already bound listener, in the background.
// Ownership of l passes to the HTTPServer. Serving ends, and the server shuts down,
// when ctx is done, when Shutdown is called, or when the listener fails.
func (h *HTTPServer) Serve(ctx context.Context, l net.Listener, handler http.Handler) error {
	return h.DoOnceActivate(
		func() error {
			h.ShutdownOnContext(ctx)
			h.server.Handler = handler
			h.listener = l
			done := make(chan struct{})
			h.AddShutdownChildChan(done)
			go func() {
				defer close(done)
				err := h.server.Serve(l)
				if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
					err = nil
				} else if err != nil {
					err = h.DLogErrorf("Serve failed: %s", err)
				}
				h.StartShutdown(err)
			}()
			return nil
		},
		true,
	)
}

// Addr returns the bound address, or nil before Serve
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}
