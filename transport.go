package http2

import (
	"log"
	"net"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

// Transport is the per-connection collaborator conn.go drives; it hides
// whether bytes are moving over a plain net.Conn, a *tls.Conn after ALPN,
// or (in tests) an in-memory pipe behind fasthttp/fasthttputil. This
// engine never imports crypto/tls itself (spec.md section 1 keeps
// TLS/ALPN an external collaborator); callers hand it an already-wrapped
// net.Conn satisfying this interface.
//
// https://tools.ietf.org/html/rfc7540#section-3
type Transport interface {
	net.Conn

	// IsSecure reports whether this transport is TLS-protected.
	IsSecure() bool

	// HandshakeComplete reports whether a TLS handshake (and therefore
	// ALPN negotiation) has finished; always true for a plaintext
	// transport.
	HandshakeComplete() bool

	// NegotiatedProtocol returns the ALPN-selected protocol id ("h2",
	// "http/1.1") or "" if ALPN did not run (plaintext, or h2c reached by
	// in-band upgrade instead).
	NegotiatedProtocol() string
}

// PlainTransport adapts a bare net.Conn (no TLS involved) to Transport, the
// shape an h2c or HTTP/1.1-only listener hands conn.go.
type PlainTransport struct {
	net.Conn
}

func (PlainTransport) IsSecure() bool           { return false }
func (PlainTransport) HandshakeComplete() bool  { return true }
func (PlainTransport) NegotiatedProtocol() string { return "" }

// AuthenticationProvider authenticates a connection (e.g. from a client
// certificate or a bearer token on the first request) and returns an
// opaque principal handed back to handlers through
// ResponseWriter.GetPrincipal.
type AuthenticationProvider interface {
	Authenticate(info ConnectionInfo, headers *HeaderList) (principal interface{}, err error)
}

const (
	defaultMaxRequestTime = 2 * time.Minute
	defaultMaxIdleTime    = 5 * time.Minute
	defaultPingInterval   = 30 * time.Second
)

var defaultLogger fasthttp.Logger = log.New(os.Stdout, "", log.LstdFlags)

// ListenerConfig collects the options a listener accepts.
//
// https://tools.ietf.org/html/rfc7540#section-3.2 (h2c), section 3.3 (h2)
type ListenerConfig struct {
	// Addr is the "host:port" to listen on.
	Addr string

	// Secure records whether this listener's Transports are expected to
	// be TLS-protected; it only affects whether h2c in-band upgrade is
	// offered (RFC 7540 section 3.2 applies to cleartext only) and is not
	// itself responsible for establishing TLS.
	Secure bool

	// FramePadding, when set, pads outbound HTTP/2 frames with a random
	// amount of padding (Data and Headers Padding/SetPadding), using
	// github.com/valyala/fastrand for the padding length so padding
	// selection costs no crypto/rand calls beyond the padding bytes
	// themselves (http2utils.AddPadding).
	FramePadding bool

	HandlerFactory HandlerFactory

	AuthenticationProvider AuthenticationProvider

	// AltSvc, if non-empty, is advertised on every HTTP/1.1 response via
	// an Alt-Svc header so clients can discover h2 on a subsequent
	// connection (RFC 7838).
	AltSvc string

	// MaxRequestTime is the read deadline set once an HTTP/1.1 request's
	// header section has been read; it covers reading that request's body
	// (or, after an h2c upgrade, the client preface). HTTP/2 streams are
	// not bounded by it.
	MaxRequestTime time.Duration
	// MaxIdleTime is the read deadline set before each HTTP/1.1
	// request-line and each HTTP/2 frame read; a connection that sends
	// nothing for that long is closed, whether or not streams are open.
	MaxIdleTime time.Duration
	// PingInterval is given a default by defaults() but is not consulted
	// by the engine: no PING frames are sent on its account.
	PingInterval time.Duration

	Debug  bool
	Logger fasthttp.Logger
}

// defaults fills zero-valued fields with the engine's defaults, mirroring
// the teacher's own config-defaulting convention (see serverConn's
// maxRequestTime/pingInterval/maxIdleTime fields).
func (lc *ListenerConfig) defaults() {
	if lc.MaxRequestTime <= 0 {
		lc.MaxRequestTime = defaultMaxRequestTime
	}
	if lc.MaxIdleTime <= 0 {
		lc.MaxIdleTime = defaultMaxIdleTime
	}
	if lc.PingInterval <= 0 {
		lc.PingInterval = defaultPingInterval
	}
	if lc.Logger == nil {
		lc.Logger = defaultLogger
	}
}
