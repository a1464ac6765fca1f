package http2

import (
	"net"
	"time"
)

// Server is the top-level entry point an embedder holds one of per
// listener: it pairs a ListenerConfig with the logic that decides, per
// accepted Transport, whether to drive HTTP/1.1 or HTTP/2 (spec.md
// section 2's "pivoting HTTP/1<->HTTP/2 parser"). The TCP acceptor and the
// TLS/ALPN handshake themselves stay external collaborators (spec.md
// section 1); Server only ever sees a Transport that has already finished
// whatever handshake it needed.
type Server struct {
	lc *ListenerConfig
}

// NewServer applies lc's defaults and returns a Server ready to drive
// accepted connections.
func NewServer(lc *ListenerConfig) *Server {
	lc.defaults()
	return &Server{lc: lc}
}

// ServeConn drives one accepted Transport to completion: ALPN "h2" goes
// straight to the HTTP/2 preface; everything else, including a secure
// transport with no ALPN result, starts in HTTP/1.1 and may still pivot mid-connection via h2c upgrade or the
// "PRI * HTTP/2.0" prior-knowledge request-line (spec.md section 4.7).
//
// ServeConn always closes t before returning, matching the teacher's
// ServeConn contract (net/http2's ConfigureServer does the same).
func (s *Server) ServeConn(t Transport) error {
	defer t.Close()

	info := ConnectionInfo{
		RemoteAddr: t.RemoteAddr(),
		LocalAddr:  t.LocalAddr(),
		Secure:     t.IsSecure(),
	}

	var handler Handler
	if s.lc.HandlerFactory != nil {
		handler = s.lc.HandlerFactory(info)
	}
	if handler == nil {
		handler = notFoundHandler{}
	}

	c := newConnection(t, s.lc, handler, info)

	if t.NegotiatedProtocol() == "h2" {
		c.info.NegotiatedProto = "h2"
		c.initHTTP2State()
		if err := t.SetReadDeadline(time.Now().Add(s.lc.MaxIdleTime)); err != nil {
			return err
		}
		if err := c.expectFullPreface(); err != nil {
			return err
		}
		return c.runHTTP2(nil)
	}

	c.info.NegotiatedProto = "http/1.1"
	return c.runHTTP1()
}

// Serve runs the accept loop over ln, spawning one goroutine per accepted
// connection via ServeConn. It is a convenience wrapper, not part of the
// protocol engine proper: spec.md section 1 keeps the TCP acceptor an
// external collaborator, so embedders that already own an accept loop
// (e.g. behind their own TLS listener) call ServeConn directly instead.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		go func() {
			t := PlainTransport{Conn: conn}
			if err := s.ServeConn(t); err != nil && s.lc.Debug {
				s.lc.Logger.Printf("h2engine: connection from %s ended: %s", conn.RemoteAddr(), err)
			}
		}()
	}
}

// notFoundHandler is what HandlerFactory.create(...) == nil means per
// spec.md section 6: "if null without a sent response, the core emits
// 404."
type notFoundHandler struct{}

func (notFoundHandler) Headers(w ResponseWriter, s *Stream) error {
	if err := w.Headers(404, nil); err != nil {
		return err
	}
	return w.Complete()
}

func (notFoundHandler) StartRequestBody(w ResponseWriter, s *Stream) error { return nil }

func (notFoundHandler) RequestBodyContent(w ResponseWriter, s *Stream, p []byte) error { return nil }

func (notFoundHandler) EndRequestBody(w ResponseWriter, s *Stream, trailers *HeaderList) error {
	return nil
}

func (notFoundHandler) RequestComplete(s *Stream) {}
