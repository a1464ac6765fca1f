package http2

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// clientPreface is the fixed 24-octet string every HTTP/2 client connection
// begins with (RFC 7540 section 3.5), whether it arrives over TLS+ALPN or
// after an h2c in-band upgrade.
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// outboundBuffer holds one stream's not-yet-written response body bytes.
// Headers() writes synchronously; StartResponseBody/ResponseBodyContent/
// EndResponseBody only buffer here; drainPending paces the actual DATA
// frames out according to flow control and the priority tree (spec.md
// section 4.6/5).
type outboundBuffer struct {
	data     []byte
	bodyDone bool // EndResponseBody has been called
	trailers *HeaderList
}

// h2StreamData is the per-stream state Stream.Data()/SetData() carries for
// an HTTP/2 exchange: the ResponseWriter driving it, and the bookkeeping
// the handler contract needs (spec.md section 4.8).
type h2StreamData struct {
	rw          *http2ResponseWriter
	bodyStarted bool
	cancelled   bool
	completed   bool
	principal   interface{}
}

// Connection drives a single accepted connection end to end: HTTP/1.1
// parsing and dispatch (http1.go), the HTTP/2 preface/frame loop below, and
// the pivot between them. Exactly one goroutine ever touches a Connection
// at a time (spec.md section 5's single-owner-task model); the only
// suspension points are transport reads and writes.
type Connection struct {
	transport Transport
	lc        *ListenerConfig
	handler   Handler
	info      ConnectionInfo

	br *bufio.Reader
	bw *bufio.Writer
	lr *lineReader

	enc *HPACK // this side's outbound compression context
	dec *HPACK // the peer's inbound compression context

	local *Settings // what this side advertises
	peer  *Settings // what the peer has advertised

	tree    *PriorityTree
	streams map[uint32]*Stream

	// ordered mirrors streams in ascending stream-id order, for the handful
	// of places (GOAWAY cancellation, teardown) that must iterate
	// deterministically rather than in a map's random order.
	ordered *Streams

	lastClientStreamID uint32 // highest client-initiated (odd) id accepted
	nextServerStreamID uint32 // next even id available for server push

	sendWindow int64 // connection-level send window (us -> peer)
	recvWindow int64 // connection-level recv window (peer -> us)

	// CONTINUATION assembly: while assembling is true every frame other
	// than a CONTINUATION on assemblingStreamID is a connection error
	// (spec.md section 4.7).
	assembling          bool
	assemblingStreamID  uint32
	assemblingTrailers  bool
	assemblingEndStream bool

	pending map[uint32]*outboundBuffer

	closing bool
}

// newConnection wraps an accepted Transport with the buffering both the
// HTTP/1 and HTTP/2 paths read and write through.
func newConnection(t Transport, lc *ListenerConfig, handler Handler, info ConnectionInfo) *Connection {
	br := bufio.NewReader(t)
	bw := bufio.NewWriter(t)
	return &Connection{
		transport: t,
		lc:        lc,
		handler:   handler,
		info:      info,
		br:        br,
		bw:        bw,
		lr:        newLineReader(br),
	}
}

// initHTTP2State allocates the HPACK contexts, settings snapshots,
// priority tree and stream table an HTTP/2 connection needs. Idempotent
// guard: the h2c upgrade path calls this before the preface is even read,
// so runHTTP2 only calls it again if that has not already happened.
func (c *Connection) initHTTP2State() {
	c.enc = AcquireHPACK()
	c.dec = AcquireHPACK()

	c.local = &Settings{}
	c.local.SetMaxConcurrentStreams(defaultMaxConcurrentStreams)
	c.local.SetMaxWindowSize(defaultInitialWindowSize)
	c.local.SetMaxFrameSize(minMaxFrameSize)

	c.peer = NewSettings()

	c.tree = NewPriorityTree()
	c.streams = make(map[uint32]*Stream)
	c.ordered = &Streams{}
	c.pending = make(map[uint32]*outboundBuffer)

	c.nextServerStreamID = 2
	c.sendWindow = defaultInitialWindowSize
	c.recvWindow = defaultInitialWindowSize
}

// expectFullPreface reads and validates the entire 24-byte client
// connection preface: the path for ALPN-negotiated h2 and for an h2c
// upgrade (the client sends the full preface again after the 101,
// RFC 7540 section 3.2).
func (c *Connection) expectFullPreface() error {
	buf := make([]byte, len(clientPreface))
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return err
	}
	if string(buf) != clientPreface {
		return NewGoAwayError(ProtocolError, "invalid connection preface")
	}
	return nil
}

// expectPrefaceSuffix reads only the trailing "SM\r\n\r\n": the path for
// prior-knowledge "PRI * HTTP/2.0", whose request-line and blank header
// line were already consumed as ordinary HTTP/1 parsing.
func (c *Connection) expectPrefaceSuffix() error {
	const suffix = "SM\r\n\r\n"
	buf := make([]byte, len(suffix))
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return err
	}
	if string(buf) != suffix {
		return NewGoAwayError(ProtocolError, "invalid connection preface")
	}
	return nil
}

// applyPeerSettings merges only the explicitly-set fields of st into
// c.peer, per RFC 7540 section 6.5.3: a SETTINGS frame (or an equivalent
// HTTP2-Settings header payload) only changes the values it names.
func (c *Connection) applyPeerSettings(st *Settings) {
	if st.headerTableSizeSet {
		c.peer.SetHeaderTableSize(st.headerTableSize)
		c.enc.SetMaxTableSize(int(st.headerTableSize))
	}
	if st.enablePushSet {
		c.peer.SetEnablePush(st.enablePush)
	}
	if st.maxStreamsSet {
		c.peer.SetMaxConcurrentStreams(st.maxStreams)
	}
	if st.maxWindowSet {
		delta := int64(st.maxWindow) - int64(c.peer.MaxWindowSize())
		c.peer.SetMaxWindowSize(st.maxWindow)
		for _, strm := range c.streams {
			strm.IncrWindow(int(delta))
		}
	}
	if st.frameSizeSet {
		c.peer.SetMaxFrameSize(st.frameSize)
	}
	if st.maxHeaderListSizeSet {
		c.peer.SetMaxHeaderListSize(st.maxHeaderListSize)
	}
}

// writeFrame serializes body as a frame addressed to streamID and flushes
// it. It never releases body: callers that acquired it from AcquireFrame
// remain responsible for ReleaseFrame.
func (c *Connection) writeFrame(streamID uint32, body Frame) error {
	frh := AcquireFrameHeader()
	frh.SetStream(streamID)
	frh.SetBody(body)
	_, err := frh.WriteTo(c.bw)
	frh.fr = nil
	ReleaseFrameHeader(frh)
	if err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Connection) sendLocalSettings() error {
	st := &Settings{}
	st.SetMaxConcurrentStreams(c.local.MaxConcurrentStreams())
	st.SetMaxWindowSize(c.local.MaxWindowSize())
	st.SetMaxFrameSize(c.local.FrameSize())
	return c.writeFrame(0, st)
}

func (c *Connection) sendWindowUpdate(streamID uint32, increment int) error {
	wu := &WindowUpdate{}
	wu.SetIncrement(increment)
	return c.writeFrame(streamID, wu)
}

func (c *Connection) sendRstStream(streamID uint32, code ErrorCode) error {
	rst := &RstStream{}
	rst.SetCode(code)
	return c.writeFrame(streamID, rst)
}

func (c *Connection) sendGoAway(code ErrorCode, reason string) error {
	ga := &GoAway{}
	ga.SetStream(c.lastClientStreamID)
	ga.SetCode(code)
	if reason != "" {
		ga.SetData([]byte(reason))
	}
	return c.writeFrame(0, ga)
}

// runHTTP2 drives the HTTP/2 frame loop until the connection closes. The
// caller must already have consumed the client connection preface (via
// expectFullPreface or expectPrefaceSuffix) before calling this. seed, for
// an h2c upgrade, carries the original HTTP/1.1 request to be dispatched
// as stream 1 once the loop starts (RFC 7540 section 3.2).
func (c *Connection) runHTTP2(seed *h2cSeed) error {
	if c.streams == nil {
		c.initHTTP2State()
	}

	if err := c.sendLocalSettings(); err != nil {
		return err
	}

	if seed != nil {
		if err := c.dispatchH2SeedRequest(seed.req); err != nil {
			return err
		}
	}

	if err := c.drainPending(); err != nil {
		c.teardown()
		return err
	}

	for {
		if err := c.transport.SetReadDeadline(time.Now().Add(c.lc.MaxIdleTime)); err != nil {
			c.teardown()
			return err
		}

		frh, err := ReadFrameFromWithSize(c.br, c.local.FrameSize())
		if err != nil {
			c.teardown()
			return err
		}

		herr := c.handleFrame(frh)
		ReleaseFrameHeader(frh)

		if herr != nil {
			if e, ok := herr.(Error); ok && e.IsConnectionError() {
				_ = c.sendGoAway(e.Code(), e.reason)
			}
			c.teardown()
			return herr
		}

		if derr := c.drainPending(); derr != nil {
			c.teardown()
			return derr
		}

		if c.closing && len(c.streams) == 0 {
			return nil
		}
	}
}

// teardown cancels every stream still open, the "transport close cancels
// all open streams" rule of spec.md section 5.
func (c *Connection) teardown() {
	// snapshot first: cancelStream mutates both c.streams and c.ordered,
	// and ranging over either while deleting from it is unsafe.
	snapshot := append([]*Stream(nil), c.ordered.Ascending()...)
	for _, strm := range snapshot {
		c.cancelStream(strm)
	}
}

// handleFrame dispatches one parsed frame. While assembling a header block
// across CONTINUATION frames, only a CONTINUATION on the same stream is
// legal (RFC 7540 section 6.10).
func (c *Connection) handleFrame(frh *FrameHeader) error {
	if c.assembling {
		if frh.Type() != FrameContinuation || frh.Stream() != c.assemblingStreamID {
			return NewGoAwayError(ProtocolError, "expected CONTINUATION")
		}
		return c.handleContinuationFrame(frh)
	}

	switch frh.Type() {
	case FrameHeaders:
		return c.handleHeadersFrame(frh)
	case FrameContinuation:
		return NewGoAwayError(ProtocolError, "unexpected CONTINUATION")
	case FrameData:
		return c.handleDataFrame(frh)
	case FramePriority:
		return c.handlePriorityFrame(frh)
	case FrameResetStream:
		return c.handleRstStreamFrame(frh)
	case FrameSettings:
		return c.handleSettingsFrame(frh)
	case FramePushPromise:
		return NewGoAwayError(ProtocolError, "client sent PUSH_PROMISE")
	case FramePing:
		return c.handlePingFrame(frh)
	case FrameGoAway:
		return c.handleGoAwayFrame(frh)
	case FrameWindowUpdate:
		return c.handleWindowUpdateFrame(frh)
	}

	return nil
}

func (c *Connection) handleHeadersFrame(frh *FrameHeader) error {
	hdr := frh.Body().(*Headers)
	id := frh.Stream()

	strm, existing := c.streams[id]
	if !existing {
		if id%2 == 0 || id <= c.lastClientStreamID {
			return NewGoAwayError(ProtocolError, "invalid stream id for HEADERS")
		}

		strm = NewStream(id, int(c.peer.MaxWindowSize()), &h2StreamData{})
		strm.SetRecvWindow(int(c.local.MaxWindowSize()))
		c.streams[id] = strm
		c.ordered.Insert(strm)
		c.lastClientStreamID = id

		parent := uint32(0)
		weight := strm.Weight()
		exclusive := false
		if hdr.HasPriority() {
			weight = hdr.Weight()
			parent = hdr.Stream()
			exclusive = hdr.Exclusive()
		}
		strm.SetWeight(weight)
		strm.SetParent(parent)
		strm.SetExclusive(exclusive)
		c.tree.Insert(id, weight, parent, exclusive)

		if err := strm.transition(eventRecvHeaders); err != nil {
			return err
		}
	} else if hdr.HasPriority() {
		strm.SetWeight(hdr.Weight())
		strm.SetParent(hdr.Stream())
		strm.SetExclusive(hdr.Exclusive())
		c.tree.Insert(id, hdr.Weight(), hdr.Stream(), hdr.Exclusive())
	}

	strm.AppendHeaderBlock(hdr.Headers())
	c.assemblingEndStream = hdr.EndStream()
	c.assemblingTrailers = existing

	if !hdr.EndHeaders() {
		c.assembling = true
		c.assemblingStreamID = id
		return nil
	}

	return c.finishHeaderBlock(strm)
}

func (c *Connection) handleContinuationFrame(frh *FrameHeader) error {
	cont := frh.Body().(*Continuation)
	strm, ok := c.streams[c.assemblingStreamID]
	if !ok {
		return NewGoAwayError(ProtocolError, "CONTINUATION for unknown stream")
	}

	strm.AppendHeaderBlock(cont.Headers())
	if !cont.EndHeaders() {
		return nil
	}

	c.assembling = false
	return c.finishHeaderBlock(strm)
}

// finishHeaderBlock HPACK-decodes the fully assembled header block for
// strm and either dispatches it as a new request or, if it arrived on a
// stream already open, treats it as trailers (spec.md section 4.8).
func (c *Connection) finishHeaderBlock(strm *Stream) error {
	block := strm.TakeHeaderBlock()
	headers := NewHeaderList()

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	for len(block) > 0 {
		hf.Reset()
		rest, err := c.dec.Next(hf, block)
		if err != nil {
			return NewGoAwayError(CompressionError, "hpack decode failed")
		}
		block = rest

		key := hf.Key()
		switch key {
		case ":method":
			strm.SetMethod(hf.Value())
		case ":path":
			strm.SetPath(hf.Value())
		case ":authority":
			headers.Set("host", hf.Value())
		case ":scheme":
			// carried implicitly by ConnectionInfo.Secure; nothing to store.
		case ":status":
			return NewResetStreamError(ProtocolError, ":status pseudo-header from client")
		default:
			if len(key) > 0 && key[0] == ':' {
				return NewResetStreamError(ProtocolError, "unknown pseudo-header")
			}
			headers.Add(key, hf.Value())
		}
	}

	endStream := c.assemblingEndStream

	if c.assemblingTrailers {
		strm.trailers = headers
		if endStream {
			if err := strm.transition(eventRecvEndStream); err != nil {
				return err
			}
		}
		return c.finishRequestBody(strm)
	}

	strm.headers = headers
	if cl, ok := headers.Get("content-length"); ok {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			strm.SetContentLength(n)
		}
	}

	if endStream {
		if err := strm.transition(eventRecvEndStream); err != nil {
			return err
		}
	}

	return c.beginRequest(strm, endStream)
}

// beginRequest runs the Headers/(StartRequestBody) portion of the handler
// contract for a newly arrived request. noBody skips straight through to
// RequestComplete, since a bodyless request never gets a
// StartRequestBody/EndRequestBody pair (handler.go).
func (c *Connection) beginRequest(strm *Stream, noBody bool) error {
	data := strm.Data().(*h2StreamData)
	rw := &http2ResponseWriter{c: c, strm: strm}
	data.rw = rw

	if c.lc.AuthenticationProvider != nil {
		principal, err := c.lc.AuthenticationProvider.Authenticate(c.info, strm.Headers())
		if err != nil {
			return c.resetStreamWithHandlerError(strm, NewRequestError(401, "authentication failed"))
		}
		data.principal = principal
	}

	if err := c.handler.Headers(rw, strm); err != nil {
		return c.resetStreamWithHandlerError(strm, err)
	}

	if noBody {
		return c.finishRequestBody(strm)
	}

	data.bodyStarted = true
	if err := c.handler.StartRequestBody(rw, strm); err != nil {
		return c.resetStreamWithHandlerError(strm, err)
	}
	return nil
}

// finishRequestBody closes out the inbound side of the handler contract
// (EndRequestBody, skipped if no body was ever started, then
// RequestComplete) once the request's END_STREAM has been processed.
func (c *Connection) finishRequestBody(strm *Stream) error {
	data := strm.Data().(*h2StreamData)
	if data.cancelled {
		c.completeStream(strm)
		return nil
	}

	if data.bodyStarted {
		if err := c.handler.EndRequestBody(data.rw, strm, strm.Trailers()); err != nil {
			return c.resetStreamWithHandlerError(strm, err)
		}
	}

	c.completeStream(strm)
	return nil
}

// completeStream calls Handler.RequestComplete exactly once per stream,
// however the stream's lifetime ends (spec.md section 4.8).
func (c *Connection) completeStream(strm *Stream) {
	data := strm.Data().(*h2StreamData)
	if data.completed {
		return
	}
	data.completed = true
	c.handler.RequestComplete(strm)
}

func (c *Connection) handleDataFrame(frh *FrameHeader) error {
	d := frh.Body().(*Data)
	id := frh.Stream()

	strm, ok := c.streams[id]
	if !ok {
		return NewGoAwayError(ProtocolError, "DATA for unknown stream")
	}

	consumed := frh.Len()
	c.recvWindow -= int64(consumed)
	strm.IncrRecvWindow(-consumed)
	if strm.RecvWindow() < 0 || c.recvWindow < 0 {
		return NewGoAwayError(FlowControlError, "flow control window exceeded")
	}

	data := strm.Data().(*h2StreamData)
	if !data.cancelled && len(d.Data()) > 0 {
		strm.AddBytesReceived(int64(len(d.Data())))
		if err := c.handler.RequestBodyContent(data.rw, strm, d.Data()); err != nil {
			return c.resetStreamWithHandlerError(strm, err)
		}
	}

	if d.EndStream() {
		if err := strm.transition(eventRecvEndStream); err != nil {
			return err
		}
		if err := c.finishRequestBody(strm); err != nil {
			return err
		}
	}

	return c.maybeSendWindowUpdate(strm, consumed)
}

// maybeSendWindowUpdate implements the 50%-deficit flow control policy of
// spec.md section 4.7: once a window has been drawn down to half its
// initial grant, top it back up to the full grant.
func (c *Connection) maybeSendWindowUpdate(strm *Stream, consumed int) error {
	initial := int(c.local.MaxWindowSize())
	half := initial / 2

	if strm.RecvWindow() <= half {
		incr := initial - strm.RecvWindow()
		strm.IncrRecvWindow(incr)
		if err := c.sendWindowUpdate(strm.ID(), incr); err != nil {
			return err
		}
	}

	if c.recvWindow <= int64(half) {
		incr := int64(initial) - c.recvWindow
		c.recvWindow += incr
		if err := c.sendWindowUpdate(0, int(incr)); err != nil {
			return err
		}
	}

	return nil
}

func (c *Connection) handlePriorityFrame(frh *FrameHeader) error {
	p := frh.Body().(*Priority)
	id := frh.Stream()

	c.tree.Insert(id, p.Weight(), p.Stream(), p.Exclusive())
	if strm, ok := c.streams[id]; ok {
		strm.SetWeight(p.Weight())
		strm.SetParent(p.Stream())
		strm.SetExclusive(p.Exclusive())
	}

	return nil
}

func (c *Connection) handleRstStreamFrame(frh *FrameHeader) error {
	rst := frh.Body().(*RstStream)
	id := frh.Stream()

	strm, ok := c.streams[id]
	if !ok {
		return nil
	}

	_ = strm.transition(eventRecvRstStream)
	_ = rst.Code()
	c.cancelStream(strm)
	return nil
}

// cancelStream marks strm cancelled: subsequent handler output is
// discarded, and RequestComplete fires exactly once (spec.md section 5's
// cancellation semantics).
func (c *Connection) cancelStream(strm *Stream) {
	data := strm.Data().(*h2StreamData)
	if data.cancelled {
		return
	}
	data.cancelled = true
	strm.SetState(StreamStateClosed)
	c.tree.Remove(strm.ID())
	delete(c.pending, strm.ID())
	c.completeStream(strm)
	delete(c.streams, strm.ID())
	c.ordered.Del(strm.ID())
}

func (c *Connection) handleGoAwayFrame(frh *FrameHeader) error {
	ga := frh.Body().(*GoAway)

	if ga.Code() != NoError {
		// ascending order so cancellation is deterministic; cancelStream
		// mutates c.ordered, so snapshot before ranging.
		snapshot := append([]*Stream(nil), c.ordered.Ascending()...)
		for _, strm := range snapshot {
			if strm.ID() > ga.Stream() {
				c.cancelStream(strm)
			}
		}
	}

	c.closing = true
	return nil
}

func (c *Connection) handlePingFrame(frh *FrameHeader) error {
	p := frh.Body().(*Ping)
	if p.IsAck() {
		return nil
	}

	reply := &Ping{}
	reply.SetData(p.Data())
	reply.SetAck(true)
	return c.writeFrame(0, reply)
}

func (c *Connection) handleWindowUpdateFrame(frh *FrameHeader) error {
	wu := frh.Body().(*WindowUpdate)
	id := frh.Stream()

	if wu.Increment() == 0 {
		// RFC 7540 section 6.9: a zero increment is a PROTOCOL_ERROR on the
		// connection window (stream 0), a stream error otherwise.
		if id == 0 {
			return NewGoAwayError(ProtocolError, "zero WINDOW_UPDATE increment on stream 0")
		}
		if strm, ok := c.streams[id]; ok {
			return c.resetStreamWithHandlerError(strm, NewResetStreamError(ProtocolError, "zero WINDOW_UPDATE increment"))
		}
		return nil
	}

	if id == 0 {
		c.sendWindow += int64(wu.Increment())
		if c.sendWindow > 1<<31-1 {
			return NewGoAwayError(FlowControlError, "connection window overflow")
		}
		return nil
	}

	strm, ok := c.streams[id]
	if !ok {
		return nil
	}

	strm.IncrWindow(wu.Increment())
	if strm.Window() > 1<<31-1 {
		return c.resetStreamWithHandlerError(strm, NewResetStreamError(FlowControlError, "stream window overflow"))
	}

	return nil
}

func (c *Connection) handleSettingsFrame(frh *FrameHeader) error {
	st := frh.Body().(*Settings)
	if st.IsAck() {
		return nil
	}

	c.applyPeerSettings(st)

	ack := &Settings{}
	ack.SetAck(true)
	return c.writeFrame(0, ack)
}

// resetStreamWithHandlerError answers a Handler/request error raised while
// processing strm. If a response has already started, RST_STREAM cannot
// retract what the peer already received, so the whole connection is torn
// down instead (spec.md section 7's "handler error" rule).
func (c *Connection) resetStreamWithHandlerError(strm *Stream, err error) error {
	if strm.ResponseState() != ResponseInitial {
		return err
	}

	code := InternalError
	if e, ok := err.(Error); ok && e.IsStreamError() {
		code = e.Code()
	}

	_ = strm.transition(eventSendRstStream)
	if werr := c.sendRstStream(strm.ID(), code); werr != nil {
		return werr
	}
	c.cancelStream(strm)
	return nil
}

// dispatchH2SeedRequest replays the HTTP/1.1 request that triggered an h2c
// upgrade as stream 1, per RFC 7540 section 3.2: the request is assigned
// stream 1 with implicit END_STREAM unless it carried a body, in which
// case the body follows as ordinary DATA frames.
func (c *Connection) dispatchH2SeedRequest(req *http1Request) error {
	strm := NewStream(1, int(c.peer.MaxWindowSize()), &h2StreamData{})
	strm.SetRecvWindow(int(c.local.MaxWindowSize()))
	strm.SetMethod(req.method)
	strm.SetPath(req.target)
	strm.SetContentLength(req.contentLength)

	headers := NewHeaderList()
	req.headers.VisitAll(func(name, value string) {
		switch strings.ToLower(name) {
		case "connection", "upgrade", "http2-settings", "keep-alive", "transfer-encoding":
			return
		}
		headers.Add(strings.ToLower(name), value)
	})
	strm.headers = headers

	if err := strm.transition(eventRecvHeaders); err != nil {
		return err
	}

	c.streams[1] = strm
	c.ordered.Insert(strm)
	c.lastClientStreamID = 1
	c.tree.Insert(1, strm.Weight(), 0, false)

	hasBody := req.chunked || req.contentLength > 0
	if !hasBody {
		if err := strm.transition(eventRecvEndStream); err != nil {
			return err
		}
	}

	return c.beginRequest(strm, !hasBody)
}

// pushStream sends a PUSH_PROMISE on parent's stream, then immediately
// self-dispatches the Handler for the promised stream: PushPromise has no
// way to hand the caller a nested ResponseWriter, so the core drives the
// pushed response through the same Handler instance as a synthetic
// request (spec.md section 4.8's server push design).
func (c *Connection) pushStream(parent *Stream, path string, headers *HeaderList) error {
	id := c.nextServerStreamID
	c.nextServerStreamID += 2

	pp := AcquireFrame(FramePushPromise).(*PushPromise)
	pp.SetStream(id)
	pp.SetEndHeaders(true)

	hf := AcquireHeaderField()
	hf.Set(":method", "GET")
	pp.AppendHeaderField(c.enc, hf, false)

	hf.Reset()
	hf.Set(":path", path)
	pp.AppendHeaderField(c.enc, hf, false)

	hf.Reset()
	scheme := "http"
	if c.info.Secure {
		scheme = "https"
	}
	hf.Set(":scheme", scheme)
	pp.AppendHeaderField(c.enc, hf, false)

	if headers != nil {
		headers.VisitAll(func(name, value string) {
			hf.Reset()
			hf.Set(strings.ToLower(name), value)
			pp.AppendHeaderField(c.enc, hf, true)
		})
	}
	ReleaseHeaderField(hf)

	err := c.writeFrame(parent.ID(), pp)
	ReleaseFrame(pp)
	if err != nil {
		return err
	}

	strm := NewStream(id, int(c.peer.MaxWindowSize()), &h2StreamData{})
	strm.SetRecvWindow(int(c.local.MaxWindowSize()))
	strm.SetMethod("GET")
	strm.SetPath(path)
	if err := strm.transition(eventSendPushPromise); err != nil {
		return err
	}

	c.streams[id] = strm
	c.ordered.Insert(strm)
	c.tree.Insert(id, 15, parent.ID(), false)

	rw := &http2ResponseWriter{c: c, strm: strm}
	strm.Data().(*h2StreamData).rw = rw

	if err := c.handler.Headers(rw, strm); err != nil {
		return c.resetStreamWithHandlerError(strm, err)
	}

	return c.finishRequestBody(strm)
}

// drainPending writes as many buffered response chunks as the current
// flow-control windows allow, letting PriorityTree.Next arbitrate among
// streams with something ready to send.
func (c *Connection) drainPending() error {
	for {
		ready := c.readyStreamIDs()
		if len(ready) == 0 {
			return nil
		}

		id := c.tree.Next(ready)
		if id == 0 {
			return nil
		}

		if err := c.writeOneChunk(id); err != nil {
			return err
		}
	}
}

func (c *Connection) readyStreamIDs() []uint32 {
	var ids []uint32
	for id, buf := range c.pending {
		if len(buf.data) > 0 {
			if c.sendWindow <= 0 {
				continue
			}
			strm, ok := c.streams[id]
			if !ok || strm.Window() <= 0 {
				continue
			}
			ids = append(ids, id)
			continue
		}
		if buf.bodyDone {
			ids = append(ids, id)
		}
	}
	return ids
}

// writeOneChunk writes a single frame-sized slice of stream id's buffered
// response body, or the terminal DATA/HEADERS(trailers) frame once the
// buffer is empty and EndResponseBody has been called.
func (c *Connection) writeOneChunk(id uint32) error {
	buf, ok := c.pending[id]
	if !ok {
		return nil
	}
	strm, ok := c.streams[id]
	if !ok {
		delete(c.pending, id)
		return nil
	}
	if data, ok := strm.Data().(*h2StreamData); ok && data.cancelled {
		delete(c.pending, id)
		return nil
	}

	if len(buf.data) == 0 {
		if buf.trailers != nil && buf.trailers.Len() > 0 {
			if err := c.writeTrailers(id, buf.trailers); err != nil {
				return err
			}
		} else {
			fr := AcquireFrame(FrameData).(*Data)
			fr.SetEndStream(true)
			fr.SetPadding(c.lc.FramePadding)
			err := c.writeFrame(id, fr)
			ReleaseFrame(fr)
			if err != nil {
				return err
			}
		}
		_ = strm.transition(eventSendEndStream)
		delete(c.pending, id)
		c.closeStreamIfDone(strm)
		return nil
	}

	n := len(buf.data)
	if maxFrame := int(c.peer.FrameSize()); n > maxFrame {
		n = maxFrame
	}
	if n > strm.Window() {
		n = strm.Window()
	}
	if int64(n) > c.sendWindow {
		n = int(c.sendWindow)
	}
	if n <= 0 {
		return nil
	}

	chunk := buf.data[:n]
	buf.data = buf.data[n:]

	endStream := len(buf.data) == 0 && buf.bodyDone && (buf.trailers == nil || buf.trailers.Len() == 0)

	fr := AcquireFrame(FrameData).(*Data)
	fr.SetData(chunk)
	fr.SetEndStream(endStream)
	fr.SetPadding(c.lc.FramePadding)
	err := c.writeFrame(id, fr)
	ReleaseFrame(fr)
	if err != nil {
		return err
	}

	strm.SetWindow(strm.Window() - n)
	c.sendWindow -= int64(n)

	if endStream {
		_ = strm.transition(eventSendEndStream)
		delete(c.pending, id)
		c.closeStreamIfDone(strm)
	}

	return nil
}

func (c *Connection) writeTrailers(id uint32, trailers *HeaderList) error {
	hdr := AcquireFrame(FrameHeaders).(*Headers)
	hdr.SetEndStream(true)
	hdr.SetEndHeaders(true)
	hdr.SetPadding(c.lc.FramePadding)

	hf := AcquireHeaderField()
	trailers.VisitAll(func(name, value string) {
		hf.Reset()
		hf.Set(strings.ToLower(name), value)
		hdr.AppendHeaderField(c.enc, hf, true)
	})
	ReleaseHeaderField(hf)

	err := c.writeFrame(id, hdr)
	ReleaseFrame(hdr)
	return err
}

func (c *Connection) closeStreamIfDone(strm *Stream) {
	if strm.State() == StreamStateClosed {
		c.tree.Remove(strm.ID())
		delete(c.streams, strm.ID())
		c.ordered.Del(strm.ID())
	}
}

// http2ResponseWriter implements ResponseWriter for one HTTP/2 stream.
type http2ResponseWriter struct {
	c    *Connection
	strm *Stream
}

func (w *http2ResponseWriter) data() *h2StreamData {
	return w.strm.Data().(*h2StreamData)
}

func (w *http2ResponseWriter) GetPrincipal() interface{} { return w.data().principal }

func (w *http2ResponseWriter) GetConnectionInfo() ConnectionInfo { return w.c.info }

func (w *http2ResponseWriter) Headers(statusCode int, headers *HeaderList) error {
	if w.data().cancelled {
		return nil
	}
	if err := w.strm.SetResponseState(ResponseHeadersSent); err != nil {
		return err
	}
	_ = w.strm.transition(eventSendHeaders)

	hdr := AcquireFrame(FrameHeaders).(*Headers)
	hdr.SetEndHeaders(true)
	hdr.SetPadding(w.c.lc.FramePadding)

	hf := AcquireHeaderField()
	hf.Set(":status", strconv.Itoa(statusCode))
	hdr.AppendHeaderField(w.c.enc, hf, false)

	hf.Reset()
	hf.Set("server", serverIdent)
	hdr.AppendHeaderField(w.c.enc, hf, true)

	hf.Reset()
	hf.Set("date", FormatHTTPDate(time.Now()))
	hdr.AppendHeaderField(w.c.enc, hf, true)

	if headers != nil {
		headers.VisitAll(func(name, value string) {
			hf.Reset()
			hf.Set(strings.ToLower(name), value)
			hdr.AppendHeaderField(w.c.enc, hf, true)
		})
	}
	ReleaseHeaderField(hf)

	err := w.c.writeFrame(w.strm.ID(), hdr)
	ReleaseFrame(hdr)
	return err
}

func (w *http2ResponseWriter) StartResponseBody() error {
	if w.data().cancelled {
		return nil
	}
	if err := w.strm.SetResponseState(ResponseInBody); err != nil {
		return err
	}
	w.c.pending[w.strm.ID()] = &outboundBuffer{}
	return nil
}

func (w *http2ResponseWriter) ResponseBodyContent(p []byte) error {
	if w.data().cancelled {
		return nil
	}
	if w.strm.ResponseState() != ResponseInBody {
		return ErrInvalidResponseState
	}
	buf := w.c.pending[w.strm.ID()]
	buf.data = append(buf.data, p...)
	return nil
}

func (w *http2ResponseWriter) EndResponseBody(trailers *HeaderList) error {
	if w.data().cancelled {
		return nil
	}
	if err := w.strm.SetResponseState(ResponseBodyComplete); err != nil {
		return err
	}

	buf, ok := w.c.pending[w.strm.ID()]
	if !ok {
		buf = &outboundBuffer{}
		w.c.pending[w.strm.ID()] = buf
	}
	buf.bodyDone = true
	buf.trailers = trailers

	return w.strm.SetResponseState(ResponseComplete)
}

func (w *http2ResponseWriter) Complete() error {
	if err := w.StartResponseBody(); err != nil {
		return err
	}
	return w.EndResponseBody(nil)
}

func (w *http2ResponseWriter) Cancel(err error) {
	data := w.data()
	if data.cancelled {
		return
	}

	code := InternalError
	if e, ok := err.(Error); ok {
		code = e.Code()
	}

	_ = w.strm.transition(eventSendRstStream)
	_ = w.c.sendRstStream(w.strm.ID(), code)
	w.c.cancelStream(w.strm)
}

func (w *http2ResponseWriter) PushPromise(path string, headers *HeaderList) error {
	if w.data().cancelled {
		return nil
	}
	if !w.c.peer.EnablePush() {
		return ErrPushNotSupported
	}
	return w.c.pushStream(w.strm, path, headers)
}

// UpgradeToWebSocket sends the :status 200 response RFC 8441's extended
// CONNECT bootstrap expects; WebSocket framing above that handshake is out
// of scope (spec.md section 1).
func (w *http2ResponseWriter) UpgradeToWebSocket(headers *HeaderList) error {
	return w.Headers(200, headers)
}
