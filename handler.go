package http2

import "net"

// Handler is the version-hiding event contract a request dispatcher
// implements. conn.go calls these in the same order and with the same
// meaning whether the exchange arrived over HTTP/1.1 or HTTP/2, so a
// Handler never needs to know which protocol carried a given stream.
//
// Exactly one Handler method sequence runs per stream:
// Headers, then zero or more StartRequestBody/RequestBodyContent calls
// followed by EndRequestBody (skipped entirely for a bodyless request),
// then RequestComplete.
type Handler interface {
	// Headers is called once the request line/pseudo-headers and header
	// fields are fully known. Returning an error aborts the stream with
	// that error's status/code.
	Headers(w ResponseWriter, s *Stream) error

	// StartRequestBody is called before the first RequestBodyContent call
	// for a request that carries one.
	StartRequestBody(w ResponseWriter, s *Stream) error

	// RequestBodyContent delivers one chunk of request body bytes. p is
	// only valid for the duration of the call.
	RequestBodyContent(w ResponseWriter, s *Stream, p []byte) error

	// EndRequestBody is called once after the last RequestBodyContent
	// call, carrying any trailer fields the request sent.
	EndRequestBody(w ResponseWriter, s *Stream, trailers *HeaderList) error

	// RequestComplete is called once per stream, after the request
	// (including any body and trailers) has been fully delivered or the
	// stream is cancelled, to release any resources the handler attached
	// to s. It does not wait for the response to reach ResponseComplete.
	RequestComplete(s *Stream)
}

// ConnectionInfo is the transport-level metadata a handler may need but
// that has nothing to do with any one stream.
type ConnectionInfo struct {
	RemoteAddr       net.Addr
	LocalAddr        net.Addr
	Secure           bool
	NegotiatedProto  string // "http/1.1", "h2", or "h2c"
}

// ResponseWriter is the collaborator a Handler uses to drive a response.
// Calls must respect the linear ResponseState progression
// (INITIAL -> HEADERS_SENT -> IN_BODY -> BODY_COMPLETE -> COMPLETE); a
// call that would move backwards returns ErrInvalidResponseState.
type ResponseWriter interface {
	// GetPrincipal returns the authenticated identity for this stream's
	// connection, if any AuthenticationProvider (see transport.go)
	// established one.
	GetPrincipal() interface{}

	GetConnectionInfo() ConnectionInfo

	// Headers sends the response status and header fields. statusCode
	// must be a valid 3-digit status; headers may be nil.
	Headers(statusCode int, headers *HeaderList) error

	// StartResponseBody must be called before the first
	// ResponseBodyContent call.
	StartResponseBody() error

	ResponseBodyContent(p []byte) error

	// EndResponseBody finishes the response body, optionally sending
	// trailer fields (sent on HTTP/2, and on an HTTP/1.1 response that
	// uses chunked transfer-coding; otherwise they are dropped).
	EndResponseBody(trailers *HeaderList) error

	// Complete marks the response finished with no body at all,
	// equivalent to StartResponseBody immediately followed by
	// EndResponseBody(nil).
	Complete() error

	// Cancel aborts the stream with the given error instead of a normal
	// response; code is only meaningful on an HTTP/2 stream (an HTTP/1.1
	// connection is simply closed).
	Cancel(err error)

	// PushPromise offers path/headers to the client as a server push
	// candidate. It is a capability the handler may invoke, never
	// something the core initiates on its own (spec.md section 4.8); it
	// is a no-op (returns ErrPushNotSupported) on a connection that
	// cannot push (HTTP/1.1, or PUSH disabled by the client's SETTINGS).
	PushPromise(path string, headers *HeaderList) error

	// UpgradeToWebSocket signals the extended CONNECT bootstrap
	// (RFC 8441) on an HTTP/2 stream, or the HTTP/1.1 Upgrade handshake
	// otherwise. It must be called instead of Headers.
	UpgradeToWebSocket(headers *HeaderList) error
}

// ErrPushNotSupported is returned by PushPromise when the connection
// cannot push (HTTP/1.1, or the client disabled SETTINGS_ENABLE_PUSH).
var ErrPushNotSupported = NewRequestError(501, "server push not supported on this connection")

// HandlerFactory builds the Handler for a newly-accepted connection,
// letting embedders vary dispatch per listener without a global.
//
// https://tools.ietf.org/html/rfc7540 (connection setup, section 3)
type HandlerFactory func(info ConnectionInfo) Handler
