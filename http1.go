package http2

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// serverIdent is the Server header value this engine sends on every
// response it originates, HTTP/1 or HTTP/2.
const serverIdent = "h2engine"

// http1Request is the parsed product of the REQUEST_LINE/HEADER/BODY states
// spec.md section 4.7 describes, before it is handed to the handler
// contract as a pseudo-Stream.
type http1Request struct {
	method  string
	target  string
	minor   int // 0 for HTTP/1.0, 1 for HTTP/1.1
	headers *HeaderList

	contentLength int64
	chunked       bool

	h2cUpgrade  bool
	h2cSettings string // base64url HTTP2-Settings payload, undecoded

	priDirect bool // "PRI * HTTP/2.0" prior-knowledge preface request-line
}

// isNoBodyMethod reports the methods that never carry an inbound body regardless of what headers say
// (spec.md section 4.7).
func isNoBodyMethod(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS", "DELETE":
		return true
	}
	return false
}

// readHTTP1Request parses one request-line and header section off c.lr.
// It returns io.EOF (or another read error) untouched so the caller can
// distinguish a clean connection close between requests from a mid-request
// protocol failure.
func readHTTP1Request(c *Connection) (*http1Request, error) {
	line, err := c.lr.readLine()
	if err != nil {
		return nil, err
	}

	method, target, minor, err := splitRequestLine(line)
	if err != nil {
		return nil, err
	}

	req := &http1Request{method: method, target: target, minor: minor, headers: NewHeaderList()}

	if method == "PRI" && target == "*" && minor < 0 {
		// splitRequestLine encodes the literal "HTTP/2.0" version token as
		// minor == -2; see below. The preface's request-line is followed
		// by an empty header section, whose blank line is consumed here.
		blank, err := c.lr.readLine()
		if err != nil {
			return nil, err
		}
		if len(blank) != 0 {
			return nil, NewRequestError(400, "malformed HTTP/2 connection preface")
		}
		req.priDirect = true
		return req, nil
	}

	if !validToken(method) {
		return nil, NewRequestError(501, "invalid method token")
	}
	if !validRequestTarget(target) {
		return nil, NewRequestError(400, "invalid request-target")
	}

	if err := parseHeaderSection(c, req); err != nil {
		return nil, err
	}

	if isNoBodyMethod(method) {
		req.contentLength = 0
		req.chunked = false
	}

	return req, nil
}

// splitRequestLine splits "METHOD SP target SP HTTP/x.y" on exactly two
// spaces. The literal HTTP/2.0 prior-knowledge preface line ("PRI * HTTP/2.0")
// is recognised specially and reported with minor=-2 since it is not a real
// HTTP/1 version token.
func splitRequestLine(line []byte) (method, target string, minor int, err error) {
	i := bytes.IndexByte(line, ' ')
	if i < 0 {
		return "", "", 0, NewRequestError(400, "malformed request-line")
	}
	method = string(line[:i])
	rest := line[i+1:]

	j := bytes.IndexByte(rest, ' ')
	if j < 0 {
		return "", "", 0, NewRequestError(400, "malformed request-line")
	}
	target = string(rest[:j])
	version := rest[j+1:]

	if string(version) == "HTTP/2.0" {
		return method, target, -2, nil
	}

	switch string(version) {
	case "HTTP/1.1":
		return method, target, 1, nil
	case "HTTP/1.0":
		return method, target, 0, nil
	}

	return "", "", 0, NewRequestError(505, "unsupported HTTP version")
}

// validToken reports whether s is a legal RFC 7230 token (method names and
// header field names share this grammar).
func validToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !httpguts.IsTokenRune(r) {
			return false
		}
	}
	return true
}

// validRequestTarget performs the syntactic-only check spec.md section 4.7
// calls for: unreserved + pct-encoded + sub-delims, plus the path/query
// delimiters a request-target actually uses.
func validRequestTarget(s string) bool {
	if len(s) == 0 {
		return false
	}
	if s == "*" {
		return true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("-._~%!$&'()*+,;=:@/?#[]", rune(c)):
		default:
			return false
		}
	}
	return true
}

// parseHeaderSection reads header-field lines until the terminating empty
// line, handling obs-fold continuation and RFC 2047 / quoted-string value
// decoding, then fills req's framing fields from the result.
func parseHeaderSection(c *Connection, req *http1Request) error {
	for {
		line, err := c.lr.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			break
		}

		if line[0] == ' ' || line[0] == '\t' {
			// obs-fold: extend the previous field's value.
			cont := decodeHeaderValue(strings.TrimLeft(decodeLatin1(line), " \t"))
			req.headers.AppendToLast(cont)
			continue
		}

		name, rawValue, ok := splitHeaderLine(line)
		if !ok {
			return NewRequestError(400, "malformed header line")
		}
		if !validToken(name) {
			return NewRequestError(400, "invalid header field name")
		}
		req.headers.Add(name, decodeHeaderValue(rawValue))
	}

	return applyFramingHeaders(req)
}

// applyFramingHeaders derives contentLength/chunked/h2c-upgrade framing
// from the now-complete header list, per spec.md section 4.7.
func applyFramingHeaders(req *http1Request) error {
	req.contentLength = contentLengthUnset

	if te, ok := req.headers.Get("transfer-encoding"); ok {
		if strings.EqualFold(strings.TrimSpace(te), "chunked") {
			req.chunked = true
			req.contentLength = 0 // unbounded; body framed by the chunk decoder
		}
	}

	if !req.chunked {
		if cl, ok := req.headers.Get("content-length"); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
			if err != nil || n < 0 {
				return NewRequestError(400, "invalid Content-Length")
			}
			req.contentLength = n
		}
	}

	conn, _ := req.headers.Combined("connection")
	upgrade, _ := req.headers.Get("upgrade")
	settings, hasSettings := req.headers.Get("http2-settings")

	if hasUpgradeToken(conn) && strings.EqualFold(strings.TrimSpace(upgrade), H2Clean) && hasSettings {
		req.h2cUpgrade = true
		req.h2cSettings = strings.TrimSpace(settings)
	}

	return nil
}

func hasUpgradeToken(connectionHeader string) bool {
	for _, tok := range strings.Split(connectionHeader, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}

// decodeHeaderValue applies RFC 2047 encoded-word decoding and backslash
// quoted-string unescaping per whitespace-delimited word, collapsing
// interior whitespace runs to a single space (spec.md section 4.7).
func decodeHeaderValue(raw string) string {
	fields := strings.Fields(raw)
	for i, w := range fields {
		if decoded, ok := decodeEncodedWord(w); ok {
			fields[i] = decoded
			continue
		}
		fields[i] = unescapeQuoted(w)
	}
	return strings.Join(fields, " ")
}

// decodeEncodedWord decodes a single RFC 2047 "=?charset?enc?text?=" word.
// Only UTF-8/US-ASCII charsets are honoured; anything else is returned
// undecoded since there is no charset-conversion collaborator in scope.
func decodeEncodedWord(w string) (string, bool) {
	if !strings.HasPrefix(w, "=?") || !strings.HasSuffix(w, "?=") {
		return "", false
	}
	parts := strings.SplitN(w[2:len(w)-2], "?", 3)
	if len(parts) != 3 {
		return "", false
	}
	charset, enc, text := parts[0], strings.ToUpper(parts[1]), parts[2]
	if !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		return "", false
	}

	switch enc {
	case "B":
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", false
		}
		return string(b), true
	case "Q":
		return decodeQuotedPrintableWord(text), true
	}
	return "", false
}

// decodeQuotedPrintableWord decodes RFC 2047's Q encoding, which differs
// from plain quoted-printable only in mapping "_" to a space.
func decodeQuotedPrintableWord(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	b, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
	if err != nil {
		return s
	}
	return string(b)
}

// unescapeQuoted strips a surrounding quoted-string's DQUOTE pair and
// resolves backslash escapes, leaving an unquoted token untouched.
func unescapeQuoted(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

// isPersistent reports whether an HTTP/1 connection should be kept open
// after this request, per RFC 7230 section 6.3: HTTP/1.1 defaults to
// persistent unless "Connection: close" is present; HTTP/1.0 defaults to
// non-persistent unless "Connection: keep-alive" is present.
func isPersistent(minor int, headers *HeaderList) bool {
	conn, _ := headers.Combined("connection")
	tokens := strings.Split(conn, ",")
	has := func(tok string) bool {
		for _, t := range tokens {
			if strings.EqualFold(strings.TrimSpace(t), tok) {
				return true
			}
		}
		return false
	}

	if minor >= 1 {
		return !has("close")
	}
	return has("keep-alive")
}

// http1ResponseWriter implements ResponseWriter for the notional
// pseudo-stream an HTTP/1.1 exchange is dispatched through.
type http1ResponseWriter struct {
	c    *Connection
	strm *Stream
	req  *http1Request

	principal interface{}

	headersSent  bool
	useChunked   bool
	bodyLenKnown bool
	bodyLimit    int64 // remaining bytes for a Content-Length response; unused when chunked
}

func (w *http1ResponseWriter) GetPrincipal() interface{} { return w.principal }

func (w *http1ResponseWriter) GetConnectionInfo() ConnectionInfo { return w.c.info }

func (w *http1ResponseWriter) Headers(statusCode int, headers *HeaderList) error {
	if err := w.strm.SetResponseState(ResponseHeadersSent); err != nil {
		return err
	}

	persistent := isPersistent(w.req.minor, w.req.headers) && !w.strm.CloseConnection()

	var buf bytes.Buffer
	version := "HTTP/1.1"
	if w.req.minor == 0 {
		version = "HTTP/1.0"
	}
	reason := StatusText(statusCode)
	if reason == "" {
		reason = "Status"
	}
	buf.WriteString(version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(statusCode))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString("\r\n")

	buf.WriteString("Server: " + serverIdent + "\r\n")
	buf.WriteString("Date: " + FormatHTTPDate(time.Now()) + "\r\n")

	hasContentLength := false
	if headers != nil {
		headers.VisitAll(func(name, value string) {
			if strings.EqualFold(name, "content-length") {
				hasContentLength = true
			}
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(value)
			buf.WriteString("\r\n")
		})
	}

	if !persistent {
		buf.WriteString("Connection: close\r\n")
	}

	if hasContentLength {
		if n, ok := headers.Get("content-length"); ok {
			if v, err := strconv.ParseInt(n, 10, 64); err == nil {
				w.bodyLenKnown = true
				w.bodyLimit = v
			}
		}
	} else if statusCode != 204 && statusCode != 304 {
		w.useChunked = w.req.minor >= 1
		if w.useChunked {
			buf.WriteString("Transfer-Encoding: chunked\r\n")
		} else if persistent {
			// HTTP/1.0 persistent connection with unknown length is
			// impossible without chunked; fall back to close-delimited.
			persistent = false
			buf.WriteString("Connection: close\r\n")
		}
	}

	if w.c.lc.AltSvc != "" {
		buf.WriteString("Alt-Svc: " + w.c.lc.AltSvc + "\r\n")
	}

	buf.WriteString("\r\n")

	w.strm.SetCloseConnection(!persistent)
	w.headersSent = true

	_, err := w.c.bw.Write(buf.Bytes())
	if err != nil {
		return err
	}
	return w.c.bw.Flush()
}

func (w *http1ResponseWriter) StartResponseBody() error {
	return w.strm.SetResponseState(ResponseInBody)
}

func (w *http1ResponseWriter) ResponseBodyContent(p []byte) error {
	if w.strm.ResponseState() != ResponseInBody {
		return ErrInvalidResponseState
	}
	if len(p) == 0 {
		return nil
	}

	if w.useChunked {
		if _, err := w.c.bw.WriteString(strconv.FormatInt(int64(len(p)), 16) + "\r\n"); err != nil {
			return err
		}
		if _, err := w.c.bw.Write(p); err != nil {
			return err
		}
		if _, err := w.c.bw.WriteString("\r\n"); err != nil {
			return err
		}
	} else {
		if _, err := w.c.bw.Write(p); err != nil {
			return err
		}
	}

	return w.c.bw.Flush()
}

func (w *http1ResponseWriter) EndResponseBody(trailers *HeaderList) error {
	if err := w.strm.SetResponseState(ResponseBodyComplete); err != nil {
		return err
	}

	if w.useChunked {
		if _, err := w.c.bw.WriteString("0\r\n"); err != nil {
			return err
		}
		if trailers != nil {
			trailers.VisitAll(func(name, value string) {
				w.c.bw.WriteString(name + ": " + value + "\r\n")
			})
		}
		if _, err := w.c.bw.WriteString("\r\n"); err != nil {
			return err
		}
		if err := w.c.bw.Flush(); err != nil {
			return err
		}
	}

	return w.strm.SetResponseState(ResponseComplete)
}

func (w *http1ResponseWriter) Complete() error {
	if err := w.StartResponseBody(); err != nil {
		return err
	}
	return w.EndResponseBody(nil)
}

func (w *http1ResponseWriter) Cancel(err error) {
	w.strm.SetCloseConnection(true)
	w.strm.SetState(StreamStateClosed)
}

func (w *http1ResponseWriter) PushPromise(path string, headers *HeaderList) error {
	return ErrPushNotSupported
}

// UpgradeToWebSocket performs the HTTP/1.1 101 handshake itself; WebSocket
// framing above the handshake is out of scope (spec.md section 1).
func (w *http1ResponseWriter) UpgradeToWebSocket(headers *HeaderList) error {
	if err := w.strm.SetResponseState(ResponseHeadersSent); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	if headers != nil {
		headers.VisitAll(func(name, value string) {
			buf.WriteString(name + ": " + value + "\r\n")
		})
	}
	buf.WriteString("\r\n")

	w.headersSent = true
	if _, err := w.c.bw.Write(buf.Bytes()); err != nil {
		return err
	}
	return w.c.bw.Flush()
}

// dispatchHTTP1 drives the full Handler contract sequence for one parsed
// request to completion, writing the response synchronously (the serial
// single-owner-task model of spec.md section 5).
func (c *Connection) dispatchHTTP1(req *http1Request) (persistent bool, err error) {
	strm := c.newHTTP1Stream()
	strm.SetMethod(req.method)
	strm.SetPath(req.target)
	strm.headers = req.headers
	strm.SetContentLength(req.contentLength)
	if err := strm.transition(eventRecvHeaders); err != nil {
		return false, err
	}

	rw := &http1ResponseWriter{c: c, strm: strm, req: req}

	if c.lc.AuthenticationProvider != nil {
		principal, aerr := c.lc.AuthenticationProvider.Authenticate(c.info, req.headers)
		if aerr != nil {
			return false, c.writeHandlerError(rw, NewRequestError(401, "authentication failed"))
		}
		rw.principal = principal
	}

	if herr := c.handler.Headers(rw, strm); herr != nil {
		return false, c.writeHandlerError(rw, herr)
	}

	hasBody := req.chunked || req.contentLength > 0
	var trailers *HeaderList

	if hasBody {
		if err := c.handler.StartRequestBody(rw, strm); err != nil {
			return false, c.writeHandlerError(rw, err)
		}

		if req.chunked {
			cr := newChunkedReader(c.br)
			buf := make([]byte, 32*1024)
			for {
				n, rerr := cr.Read(buf)
				if n > 0 {
					strm.AddBytesReceived(int64(n))
					if err := c.handler.RequestBodyContent(rw, strm, buf[:n]); err != nil {
						return false, c.writeHandlerError(rw, err)
					}
				}
				if rerr == io.EOF {
					trailers = cr.trailers
					break
				}
				if rerr != nil {
					return false, rerr
				}
			}
		} else {
			remaining := req.contentLength
			buf := make([]byte, 32*1024)
			for remaining > 0 {
				n := int64(len(buf))
				if n > remaining {
					n = remaining
				}
				nn, rerr := io.ReadFull(c.br, buf[:n])
				if nn > 0 {
					strm.AddBytesReceived(int64(nn))
					if err := c.handler.RequestBodyContent(rw, strm, buf[:nn]); err != nil {
						return false, c.writeHandlerError(rw, err)
					}
				}
				if rerr != nil {
					return false, rerr
				}
				remaining -= int64(nn)
			}
		}

		if err := c.handler.EndRequestBody(rw, strm, trailers); err != nil {
			return false, c.writeHandlerError(rw, err)
		}
	}

	c.handler.RequestComplete(strm)

	if !rw.headersSent {
		// the handler never responded at all.
		return false, NewRequestError(500, "handler produced no response")
	}

	return !strm.CloseConnection(), nil
}

// writeHandlerError answers a handler/request-level error on an HTTP/1
// connection: a status line plus a closed connection, per spec.md section
// 7's "handler error" and "request error" rules.
func (c *Connection) writeHandlerError(rw *http1ResponseWriter, err error) error {
	status := 500
	if e, ok := err.(Error); ok && e.Status() != 0 {
		status = e.Status()
	}

	if rw.headersSent {
		// response already started: the only safe recovery is to stop
		// writing and close the connection (spec.md section 7).
		rw.strm.SetCloseConnection(true)
		return err
	}

	rw.strm.SetCloseConnection(true)
	_ = rw.Headers(status, nil)
	_ = rw.Complete()
	return err
}

// newHTTP1Stream returns a fresh pseudo-Stream standing in for one HTTP/1.1
// request/response exchange; HTTP/1 never multiplexes, so stream id 1 is
// reused across successive requests on the same connection.
func (c *Connection) newHTTP1Stream() *Stream {
	return NewStream(1, defaultInitialWindowSize, nil)
}

// runHTTP1 drives REQUEST_LINE/HEADER/BODY parsing and dispatch in a loop
// until the connection closes or pivots to HTTP/2.
func (c *Connection) runHTTP1() error {
	for {
		if err := c.transport.SetReadDeadline(time.Now().Add(c.lc.MaxIdleTime)); err != nil {
			return err
		}

		req, err := readHTTP1Request(c)
		if err != nil {
			if e, ok := err.(Error); ok && e.kind == kindRequest {
				rw := &http1ResponseWriter{c: c, strm: c.newHTTP1Stream(), req: &http1Request{minor: 1, headers: NewHeaderList()}}
				_ = c.writeHandlerError(rw, e)
			}
			return err
		}

		if req.priDirect {
			// the blank line terminating the (empty) header section has
			// already been consumed by readHTTP1Request; only the
			// literal "SM\r\n\r\n" suffix remains.
			if err := c.expectPrefaceSuffix(); err != nil {
				return err
			}
			c.info.NegotiatedProto = "h2c"
			return c.runHTTP2(nil)
		}

		if err := c.transport.SetReadDeadline(time.Now().Add(c.lc.MaxRequestTime)); err != nil {
			return err
		}

		if req.h2cUpgrade && !c.lc.Secure {
			seed, err := c.respondH2CSwitch(req)
			if err != nil {
				return err
			}
			if err := c.expectFullPreface(); err != nil {
				return err
			}
			c.info.NegotiatedProto = "h2c"
			return c.runHTTP2(seed)
		}

		persistent, err := c.dispatchHTTP1(req)
		if err != nil {
			return err
		}
		if !persistent {
			return nil
		}
	}
}

// respondH2CSwitch answers the in-band h2c upgrade request with a 101,
// applies the conveyed HTTP2-Settings as if received on stream 0, and
// returns the seed used to dispatch the original request as stream 1 once
// the connection pivots (this engine's own SETTINGS frame is sent later, by
// runHTTP2) (spec.md
// section 4.7's end-of-headers policy and end-to-end scenario 3).
func (c *Connection) respondH2CSwitch(req *http1Request) (*h2cSeed, error) {
	settings, err := decodeHTTP2SettingsPayload(req.h2cSettings)
	if err != nil {
		return nil, NewRequestError(400, "invalid HTTP2-Settings")
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Upgrade: h2c\r\n")
	buf.WriteString("\r\n")
	if _, err := c.bw.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}

	c.initHTTP2State()
	c.applyPeerSettings(settings)

	return &h2cSeed{req: req}, nil
}

// decodeHTTP2SettingsPayload decodes the base64url HTTP2-Settings header
// value into a Settings snapshot, reusing Settings.Deserialize by handing
// it a synthetic FrameHeader wrapping the decoded payload.
func decodeHTTP2SettingsPayload(encoded string) (*Settings, error) {
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(payload)%6 != 0 {
		return nil, NewRequestError(400, "invalid HTTP2-Settings payload length")
	}

	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.payload = payload
	frh.length = len(payload)

	st := &Settings{}
	if err := st.Deserialize(frh); err != nil {
		return nil, err
	}
	return st, nil
}

// h2cSeed carries the original upgrade request across the HTTP/1-to-HTTP/2
// pivot so runHTTP2 can dispatch it as stream 1 once the preface and
// connection state are established.
type h2cSeed struct {
	req *http1Request
}
