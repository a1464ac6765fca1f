package http2

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
)

// writeH2Frame writes body as one frame on streamID and flushes it, mirroring
// Connection.writeFrame's own acquire/serialize/release sequence.
func writeH2Frame(t *testing.T, bw *bufio.Writer, streamID uint32, body Frame) {
	t.Helper()

	frh := AcquireFrameHeader()
	frh.SetStream(streamID)
	frh.SetBody(body)
	_, err := frh.WriteTo(bw)
	frh.Reset()
	ReleaseFrameHeader(frh)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
}

// recordingHandler captures the Headers/body events the engine delivers so
// each scenario below can assert on what the handler actually saw, then
// answers with a fixed, small response.
type recordingHandler struct {
	gotMethod string
	gotPath   string
	gotCL     int64

	bodyChunks [][]byte
	trailers   *HeaderList
	completed  bool

	respBody   []byte
	respStatus int
}

func (h *recordingHandler) Headers(w ResponseWriter, s *Stream) error {
	h.gotMethod = s.Method()
	h.gotPath = s.Path()
	h.gotCL = s.ContentLength()

	status := h.respStatus
	if status == 0 {
		status = 200
	}
	if err := w.Headers(status, nil); err != nil {
		return err
	}
	if len(h.respBody) == 0 {
		return w.Complete()
	}
	if err := w.StartResponseBody(); err != nil {
		return err
	}
	if err := w.ResponseBodyContent(h.respBody); err != nil {
		return err
	}
	return w.EndResponseBody(nil)
}

func (h *recordingHandler) StartRequestBody(w ResponseWriter, s *Stream) error { return nil }

func (h *recordingHandler) RequestBodyContent(w ResponseWriter, s *Stream, p []byte) error {
	cp := append([]byte(nil), p...)
	h.bodyChunks = append(h.bodyChunks, cp)
	return nil
}

func (h *recordingHandler) EndRequestBody(w ResponseWriter, s *Stream, trailers *HeaderList) error {
	h.trailers = trailers
	return nil
}

func (h *recordingHandler) RequestComplete(s *Stream) { h.completed = true }

// startInmemoryServer wires a Server to a fasthttputil in-memory listener,
// the same harness the teacher's own server_test.go uses in place of a real
// TCP accept loop.
func startInmemoryServer(t *testing.T, handler Handler) (net.Conn, func()) {
	t.Helper()

	lc := &ListenerConfig{HandlerFactory: func(ConnectionInfo) Handler { return handler }}
	s := NewServer(lc)

	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Serve(ln) }()

	conn, err := ln.Dial()
	require.NoError(t, err)

	return conn, func() { _ = conn.Close(); _ = ln.Close() }
}

func TestEndToEndHTTP10Get(t *testing.T) {
	h := &recordingHandler{}
	conn, closeAll := startInmemoryServer(t, h)
	defer closeAll()

	_, err := conn.Write([]byte("GET / HTTP/1.0\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.0 200 OK\r\n", line)

	var sawClose bool
	for {
		hdr, err := br.ReadString('\n')
		require.NoError(t, err)
		if hdr == "\r\n" {
			break
		}
		if hdr == "Connection: close\r\n" {
			sawClose = true
		}
	}
	require.True(t, sawClose)

	// the connection must be closed after the body (there is none here),
	// i.e. a subsequent read sees EOF rather than a second response.
	_, err = br.ReadByte()
	require.Equal(t, io.EOF, err)

	require.Equal(t, "GET", h.gotMethod)
	require.Equal(t, "/", h.gotPath)
	require.Equal(t, int64(0), h.gotCL)
	require.True(t, h.completed)
}

func TestEndToEndChunkedPostWithTrailer(t *testing.T) {
	h := &recordingHandler{}
	conn, closeAll := startInmemoryServer(t, h)
	defer closeAll()

	req := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\nX-Trace: 42\r\n\r\n"
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	require.Equal(t, [][]byte{[]byte("hello"), []byte(" world")}, h.bodyChunks)
	require.NotNil(t, h.trailers)
	v, ok := h.trailers.Get("X-Trace")
	require.True(t, ok)
	require.Equal(t, "42", v)
	require.True(t, h.completed)
}

func TestEndToEndH2CUpgrade(t *testing.T) {
	h := &recordingHandler{}
	conn, closeAll := startInmemoryServer(t, h)
	defer closeAll()

	req := "GET / HTTP/1.1\r\nHost: x\r\n" +
		"Connection: Upgrade, HTTP2-Settings\r\nUpgrade: h2c\r\n" +
		"HTTP2-Settings: AAMAAABkAARAAAAAAAIAAAAA\r\n\r\n"
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)
	_, err = conn.Write([]byte(clientPreface))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 101 Switching Protocols\r\n", line)
	for {
		hdr, err := br.ReadString('\n')
		require.NoError(t, err)
		if hdr == "\r\n" {
			break
		}
	}

	// the server's own SETTINGS frame comes first on the h2 side.
	frh, err := ReadFrameFrom(br)
	require.NoError(t, err)
	require.Equal(t, FrameSettings, frh.Type())
	ReleaseFrameHeader(frh)

	// our SETTINGS ack for the client's own SETTINGS... there is none here
	// (HTTP2-Settings substituted for it), so the next frame is this
	// connection's response to the seeded stream-1 request: a HEADERS frame.
	frh, err = ReadFrameFrom(br)
	require.NoError(t, err)
	require.Equal(t, FrameHeaders, frh.Type())
	require.Equal(t, uint32(1), frh.Stream())
	ReleaseFrameHeader(frh)

	require.Equal(t, "GET", h.gotMethod)
	require.Equal(t, "/", h.gotPath)
}

func TestEndToEndPriorityReparentOnCycle(t *testing.T) {
	// scenario 6, driven directly against the scheduler component rather
	// than a live connection: 0->A->B->C, then PRIORITY(A, parent=C).
	tree := NewPriorityTree()
	const a, b, c = uint32(1), uint32(3), uint32(5)

	tree.Insert(a, 15, 0, false)
	tree.Insert(b, 15, a, false)
	tree.Insert(c, 15, b, false)

	tree.Insert(a, 15, c, false)

	require.Equal(t, uint32(0), tree.nodes[c].parent)
	require.Equal(t, uint32(c), tree.nodes[a].parent)
	require.Equal(t, []uint32{c}, tree.rootChildren)
	require.Equal(t, []uint32{a}, tree.nodes[c].children)
	require.Equal(t, []uint32{b}, tree.nodes[a].children)
}

// TestEndToEndFlowControlBackoff is scenario 5: a 100 KiB response body
// against the default 65535-byte initial window must stall once that
// window is exhausted, then resume only after WINDOW_UPDATE grants more.
func TestEndToEndFlowControlBackoff(t *testing.T) {
	const bodySize = 100 * 1024
	const peerInitialWindow = 65535
	const grant = 16384

	h := &recordingHandler{respBody: bytes.Repeat([]byte("a"), bodySize)}
	conn, closeAll := startInmemoryServer(t, h)
	defer closeAll()

	_, err := conn.Write([]byte(clientPreface))
	require.NoError(t, err)

	bw := bufio.NewWriter(conn)
	br := bufio.NewReader(conn)

	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	reqHdr := AcquireFrame(FrameHeaders).(*Headers)
	reqHdr.SetEndHeaders(true)
	reqHdr.SetEndStream(true)
	for _, kv := range [][2]string{
		{":method", "GET"},
		{":scheme", "http"},
		{":path", "/"},
		{":authority", "x"},
	} {
		hf.Reset()
		hf.Set(kv[0], kv[1])
		reqHdr.AppendHeaderField(hp, hf, false)
	}
	writeH2Frame(t, bw, 1, reqHdr)
	ReleaseFrame(reqHdr)

	// the engine's own SETTINGS frame comes first.
	sfrh, err := ReadFrameFrom(br)
	require.NoError(t, err)
	require.Equal(t, FrameSettings, sfrh.Type())
	ReleaseFrameHeader(sfrh)

	// the status-line HEADERS frame is sent synchronously from inside the
	// handler, before any of the buffered body is paced onto the wire.
	hfrh, err := ReadFrameFrom(br)
	require.NoError(t, err)
	require.Equal(t, FrameHeaders, hfrh.Type())
	require.Equal(t, uint32(1), hfrh.Stream())
	ReleaseFrameHeader(hfrh)

	// the handler's 100 KiB body is paced out in frames no larger than
	// MAX_FRAME_SIZE, and must stop dead at the 65535-byte initial window.
	var received int
	for received < peerInitialWindow {
		dfrh, err := ReadFrameFrom(br)
		require.NoError(t, err)
		require.Equal(t, FrameData, dfrh.Type())
		data := dfrh.Body().(*Data)
		require.LessOrEqual(t, len(data.Data()), 1<<14)
		received += len(data.Data())
		require.False(t, data.EndStream(), "must not finish the stream before exhausting the window")
		ReleaseFrameHeader(dfrh)
	}
	require.Equal(t, peerInitialWindow, received)

	// grant both the stream-level and connection-level windows; only then
	// can writeOneChunk's triple min() admit any more of the body.
	streamWU := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	streamWU.SetIncrement(grant)
	writeH2Frame(t, bw, 1, streamWU)
	ReleaseFrame(streamWU)

	connWU := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	connWU.SetIncrement(grant)
	writeH2Frame(t, bw, 0, connWU)
	ReleaseFrame(connWU)

	var resumed int
	for resumed < grant {
		dfrh, err := ReadFrameFrom(br)
		require.NoError(t, err)
		require.Equal(t, FrameData, dfrh.Type())
		data := dfrh.Body().(*Data)
		resumed += len(data.Data())
		ReleaseFrameHeader(dfrh)
	}
	require.Equal(t, grant, resumed)
}
