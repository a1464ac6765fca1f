package http2

// StreamState is one of the seven states a stream moves through over its
// lifetime.
//
// https://tools.ietf.org/html/rfc7540#section-5.1
type StreamState int8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

func (ss StreamState) String() string {
	switch ss {
	case StreamStateIdle:
		return "idle"
	case StreamStateReservedLocal:
		return "reserved(local)"
	case StreamStateReservedRemote:
		return "reserved(remote)"
	case StreamStateOpen:
		return "open"
	case StreamStateHalfClosedLocal:
		return "half-closed(local)"
	case StreamStateHalfClosedRemote:
		return "half-closed(remote)"
	case StreamStateClosed:
		return "closed"
	}

	return "unknown"
}

// streamEvent is one of the transitions the RFC 7540 section 5.1 diagram
// recognises; conn.go drives a Stream's state using these instead of
// poking SetState directly, so every edge is checked against the graph.
type streamEvent int8

const (
	eventSendHeaders streamEvent = iota
	eventRecvHeaders
	eventSendPushPromise
	eventRecvPushPromise
	eventSendEndStream
	eventRecvEndStream
	eventSendRstStream
	eventRecvRstStream
)

// contentLengthUnset marks a Stream whose request carried no
// Content-Length header at all (as opposed to one explicitly set to 0).
const contentLengthUnset = -1

// ResponseState is the linear progression a response on a stream (or an
// HTTP/1 connection standing in for one) must move through, enforced by
// the handler contract in handler.go.
type ResponseState int8

const (
	ResponseInitial ResponseState = iota
	ResponseHeadersSent
	ResponseInBody
	ResponseBodyComplete
	ResponseComplete
)

func (rs ResponseState) String() string {
	switch rs {
	case ResponseInitial:
		return "initial"
	case ResponseHeadersSent:
		return "headers-sent"
	case ResponseInBody:
		return "in-body"
	case ResponseBodyComplete:
		return "body-complete"
	case ResponseComplete:
		return "complete"
	}
	return "unknown"
}

// Stream is one HTTP/2 stream's accumulated state, or (for an HTTP/1
// connection not multiplexing) the sole pseudo-stream driving that
// connection's single in-flight exchange.
type Stream struct {
	id    uint32
	state StreamState

	window     int // bytes this side may still send
	recvWindow int // bytes the peer may still send us

	weight    uint8
	parent    uint32
	exclusive bool

	method string
	path   string

	headers  *HeaderList
	trailers *HeaderList

	contentLength int64
	bytesReceived int64

	closeConnection bool
	respState       ResponseState

	// previousHeaderBytes accumulates a HEADERS/PUSH_PROMISE block across
	// CONTINUATION frames until END_HEADERS arrives.
	previousHeaderBytes []byte

	data interface{}
}

// NewStream allocates a Stream in the idle state with the given flow
// control window.
func NewStream(id uint32, win int, data interface{}) *Stream {
	return &Stream{
		id:            id,
		window:        win,
		recvWindow:    win,
		state:         StreamStateIdle,
		contentLength: contentLengthUnset,
		weight:        15, // wire byte for RFC 7540 section 5.3.5 default weight 16
		headers:       NewHeaderList(),
		trailers:      NewHeaderList(),
		data:          data,
	}
}

func (s *Stream) Headers() *HeaderList { return s.headers }

func (s *Stream) Trailers() *HeaderList { return s.trailers }

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) SetID(id uint32) { s.id = id }

func (s *Stream) State() StreamState { return s.state }

func (s *Stream) SetState(state StreamState) { s.state = state }

// transition advances s.state for the given event, returning a stream
// error if the event is illegal in the current state.
//
// https://tools.ietf.org/html/rfc7540#section-5.1
func (s *Stream) transition(ev streamEvent) error {
	switch s.state {
	case StreamStateIdle:
		switch ev {
		case eventSendHeaders, eventRecvHeaders:
			s.state = StreamStateOpen
		case eventSendPushPromise:
			s.state = StreamStateReservedLocal
		case eventRecvPushPromise:
			s.state = StreamStateReservedRemote
		default:
			return NewResetStreamError(ProtocolError, "illegal transition from idle")
		}

	case StreamStateReservedLocal:
		switch ev {
		case eventSendHeaders:
			s.state = StreamStateHalfClosedRemote
		case eventSendRstStream, eventRecvRstStream:
			s.state = StreamStateClosed
		default:
			return NewResetStreamError(ProtocolError, "illegal transition from reserved(local)")
		}

	case StreamStateReservedRemote:
		switch ev {
		case eventRecvHeaders:
			s.state = StreamStateHalfClosedLocal
		case eventSendRstStream, eventRecvRstStream:
			s.state = StreamStateClosed
		default:
			return NewResetStreamError(ProtocolError, "illegal transition from reserved(remote)")
		}

	case StreamStateOpen:
		switch ev {
		case eventSendEndStream:
			s.state = StreamStateHalfClosedLocal
		case eventRecvEndStream:
			s.state = StreamStateHalfClosedRemote
		case eventSendRstStream, eventRecvRstStream:
			s.state = StreamStateClosed
		}

	case StreamStateHalfClosedLocal:
		switch ev {
		case eventRecvEndStream, eventSendRstStream, eventRecvRstStream:
			s.state = StreamStateClosed
		default:
			return NewResetStreamError(StreamClosedError, "send on half-closed(local) stream")
		}

	case StreamStateHalfClosedRemote:
		switch ev {
		case eventSendEndStream, eventSendRstStream, eventRecvRstStream:
			s.state = StreamStateClosed
		case eventRecvHeaders, eventRecvEndStream:
			return NewResetStreamError(StreamClosedError, "recv on half-closed(remote) stream")
		}

	case StreamStateClosed:
		if ev != eventRecvRstStream {
			return NewResetStreamError(StreamClosedError, "frame on closed stream")
		}
	}

	return nil
}

func (s *Stream) Window() int { return s.window }

func (s *Stream) SetWindow(win int) { s.window = win }

func (s *Stream) IncrWindow(win int) { s.window += win }

func (s *Stream) RecvWindow() int { return s.recvWindow }

func (s *Stream) SetRecvWindow(win int) { s.recvWindow = win }

func (s *Stream) IncrRecvWindow(win int) { s.recvWindow += win }

func (s *Stream) Weight() uint8 { return s.weight }

func (s *Stream) SetWeight(w uint8) { s.weight = w }

func (s *Stream) Parent() uint32 { return s.parent }

func (s *Stream) SetParent(id uint32) { s.parent = id }

func (s *Stream) Exclusive() bool { return s.exclusive }

func (s *Stream) SetExclusive(v bool) { s.exclusive = v }

func (s *Stream) Method() string { return s.method }

func (s *Stream) SetMethod(m string) { s.method = m }

func (s *Stream) Path() string { return s.path }

func (s *Stream) SetPath(p string) { s.path = p }

func (s *Stream) ContentLength() int64 { return s.contentLength }

func (s *Stream) SetContentLength(n int64) { s.contentLength = n }

func (s *Stream) BytesReceived() int64 { return s.bytesReceived }

func (s *Stream) AddBytesReceived(n int64) { s.bytesReceived += n }

func (s *Stream) CloseConnection() bool { return s.closeConnection }

func (s *Stream) SetCloseConnection(v bool) { s.closeConnection = v }

func (s *Stream) ResponseState() ResponseState { return s.respState }

// SetResponseState enforces the linear INITIAL -> ... -> COMPLETE
// progression spec.md's handler contract requires.
func (s *Stream) SetResponseState(next ResponseState) error {
	if next < s.respState {
		return ErrInvalidResponseState
	}
	s.respState = next
	return nil
}

func (s *Stream) Data() interface{} { return s.data }

func (s *Stream) SetData(data interface{}) { s.data = data }

// AppendHeaderBlock accumulates one HEADERS/PUSH_PROMISE/CONTINUATION
// frame's header block fragment until END_HEADERS arrives.
func (s *Stream) AppendHeaderBlock(b []byte) {
	s.previousHeaderBytes = append(s.previousHeaderBytes, b...)
}

// TakeHeaderBlock returns the accumulated header block and clears it, once
// END_HEADERS has arrived and the block is ready for HPACK decode.
func (s *Stream) TakeHeaderBlock() []byte {
	b := s.previousHeaderBytes
	s.previousHeaderBytes = nil
	return b
}
