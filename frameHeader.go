package http2

import (
	"bufio"
	"io"
	"sync"

	"github.com/domsolutions/h2engine/http2utils"
)

const (
	// FrameHeader default size
	// http://httpwg.org/specs/rfc7540.html#FrameHeader
	DefaultFrameSize = 9
	// https://httpwg.org/specs/rfc7540.html#SETTINGS_MAX_FRAME_SIZE
	defaultMaxLen = 1 << 14
	// largest legal SETTINGS_MAX_FRAME_SIZE value (2^24-1)
	maxMaxLen = 1<<24 - 1

	// Frame Flag (described along the frame types)
	// More flags have been ignored due to redundancy
	FlagAck        FrameFlags = 0x1
	FlagEndStream  FrameFlags = 0x1
	FlagEndHeaders FrameFlags = 0x4
	FlagPadded     FrameFlags = 0x8
	FlagPriority   FrameFlags = 0x20
)

var frameHeaderPool = sync.Pool{
	New: func() interface{} {
		return &FrameHeader{}
	},
}

// FrameHeader is frame representation of HTTP2 protocol
//
// Use AcquireFrameHeader instead of creating FrameHeader every time
// if you are going to use FrameHeader as your own and ReleaseFrameHeader to
// delete the FrameHeader
//
// FrameHeader instance MUST NOT be used from different goroutines.
//
// https://tools.ietf.org/html/rfc7540#section-4.1
type FrameHeader struct {
	length int        // 24 bits
	kind   FrameType  // 8 bits
	flags  FrameFlags // 8 bits
	stream uint32     // 31 bits

	maxLen uint32

	rawHeader [DefaultFrameSize]byte
	payload   []byte

	fr Frame
}

// AcquireFrameHeader gets a FrameHeader from pool.
func AcquireFrameHeader() *FrameHeader {
	fr := frameHeaderPool.Get().(*FrameHeader)
	fr.Reset()
	return fr
}

// ReleaseFrameHeader reset and puts fr to the pool.
func ReleaseFrameHeader(frh *FrameHeader) {
	if frh.fr != nil {
		ReleaseFrame(frh.fr)
	}
	frameHeaderPool.Put(frh)
}

// Reset resets header values.
func (frh *FrameHeader) Reset() {
	frh.kind = 0
	frh.flags = 0
	frh.stream = 0
	frh.length = 0
	frh.maxLen = defaultMaxLen
	frh.fr = nil
	frh.payload = frh.payload[:0]
}

// Type returns the frame type (https://httpwg.org/specs/rfc7540.html#Frame_types)
func (frh *FrameHeader) Type() FrameType {
	return frh.kind
}

// Flags ...
func (frh *FrameHeader) Flags() FrameFlags {
	return frh.flags
}

func (frh *FrameHeader) SetFlags(flags FrameFlags) {
	frh.flags = flags
}

// Stream returns the stream id of the current frame.
func (frh *FrameHeader) Stream() uint32 {
	return frh.stream
}

// SetStream sets the stream id on the current frame.
//
// This function DOESN'T delete the reserved bit (first bit)
// in order to support personalized implementations of the protocol.
func (frh *FrameHeader) SetStream(stream uint32) {
	frh.stream = stream
}

// Len returns the payload length
func (frh *FrameHeader) Len() int {
	return frh.length
}

// MaxLen returns max negotiated payload length.
func (frh *FrameHeader) MaxLen() uint32 {
	return frh.maxLen
}

// SetMaxLen sets the max payload length ReadFrom will accept, tracking the
// peer's negotiated SETTINGS_MAX_FRAME_SIZE.
func (frh *FrameHeader) SetMaxLen(max uint32) {
	frh.maxLen = max
}

func (frh *FrameHeader) parseValues(header []byte) {
	frh.length = int(http2utils.BytesToUint24(header[:3]))
	frh.kind = FrameType(header[3])
	frh.flags = FrameFlags(header[4])
	frh.stream = http2utils.BytesToUint32(header[5:]) & (1<<31 - 1)
}

func (frh *FrameHeader) parseHeader(header []byte) {
	http2utils.Uint24ToBytes(header[:3], uint32(frh.length))
	header[3] = byte(frh.kind)
	header[4] = byte(frh.flags)
	http2utils.Uint32ToBytes(header[5:], frh.stream)
}

// ReadFrameFrom reads one frame off br using the default max frame size.
func ReadFrameFrom(br *bufio.Reader) (*FrameHeader, error) {
	return ReadFrameFromWithSize(br, defaultMaxLen)
}

// ReadFrameFromWithSize reads one frame off br, rejecting payloads larger than max.
func ReadFrameFromWithSize(br *bufio.Reader, max uint32) (*FrameHeader, error) {
	frh := AcquireFrameHeader()
	frh.maxLen = max

	_, err := frh.ReadFrom(br)
	if err != nil {
		ReleaseFrameHeader(frh)
		return nil, err
	}

	return frh, nil
}

// ReadFrom reads frame from Reader.
//
// This function returns read bytes and/or error.
//
// Unlike io.ReaderFrom this method does not read until io.EOF
func (frh *FrameHeader) ReadFrom(br *bufio.Reader) (int64, error) {
	return frh.readFrom(br)
}

func (frh *FrameHeader) readFrom(br *bufio.Reader) (int64, error) {
	header, err := br.Peek(DefaultFrameSize)
	if err != nil {
		return -1, err
	}

	if _, err := br.Discard(DefaultFrameSize); err != nil {
		return -1, err
	}

	rn := int64(DefaultFrameSize)

	frh.parseValues(header)
	if err := frh.checkLen(); err != nil {
		if frh.length > 0 {
			_, _ = br.Discard(frh.length)
		}
		return rn, err
	}

	if frh.kind < minFrameType || frh.kind > maxFrameType {
		if frh.length > 0 {
			_, _ = br.Discard(frh.length)
		}
		return rn, ErrUnknownFrameType
	}
	frh.fr = AcquireFrame(frh.kind)

	if frh.length > 0 {
		n := frh.length
		frh.payload = http2utils.Resize(frh.payload, n)

		nn, err := io.ReadFull(br, frh.payload[:n])
		rn += int64(nn)
		if err != nil {
			return rn, err
		}
	}

	return rn, frh.fr.Deserialize(frh)
}

// WriteTo writes frame to the Writer.
//
// This function returns FrameHeader bytes written and/or error.
func (frh *FrameHeader) WriteTo(w *bufio.Writer) (wb int64, err error) {
	frh.fr.Serialize(frh)

	frh.length = len(frh.payload)
	frh.parseHeader(frh.rawHeader[:])

	n, err := w.Write(frh.rawHeader[:])
	if err == nil {
		wb += int64(n)

		n, err = w.Write(frh.payload)
		wb += int64(n)
	}

	return wb, err
}

// Body ...
func (frh *FrameHeader) Body() Frame {
	return frh.fr
}

func (frh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("Body cannot be nil")
	}

	frh.kind = fr.Type()
	frh.fr = fr
}

func (frh *FrameHeader) setPayload(payload []byte) {
	frh.payload = append(frh.payload[:0], payload...)
}

// checkLen validates the common header length against both the blanket
// MAX_FRAME_SIZE bound and the per-type length rules RFC 7540 section 6 and
// section 4.1 define (PRIORITY must carry exactly 5 octets, RST_STREAM and
// PING are fixed-size, SETTINGS must be a multiple of 6, GOAWAY must carry
// at least 8, WINDOW_UPDATE exactly 4, and DATA/HEADERS/PUSH_PROMISE/PRIORITY/
// RST_STREAM must never target stream 0).
func (frh *FrameHeader) checkLen() error {
	if frh.maxLen != 0 && frh.length > int(frh.maxLen) {
		return ErrPayloadExceeds
	}

	switch frh.kind {
	case FrameData, FrameHeaders, FramePushPromise:
		if frh.stream == 0 {
			return NewGoAwayError(ProtocolError, frh.kind.String()+" frame with stream 0")
		}
	case FramePriority:
		if frh.stream == 0 {
			return NewGoAwayError(ProtocolError, "PRIORITY frame with stream 0")
		}
		if frh.length != 5 {
			return NewGoAwayError(FrameSizeError, "PRIORITY frame length != 5")
		}
	case FrameResetStream:
		if frh.stream == 0 {
			return NewGoAwayError(ProtocolError, "RST_STREAM frame with stream 0")
		}
		if frh.length != 4 {
			return NewGoAwayError(FrameSizeError, "RST_STREAM frame length != 4")
		}
	case FrameSettings:
		if frh.stream != 0 {
			return NewGoAwayError(ProtocolError, "SETTINGS frame with non-zero stream")
		}
		if frh.length%6 != 0 {
			return NewGoAwayError(FrameSizeError, "SETTINGS frame length not a multiple of 6")
		}
		if frh.flags.Has(FlagAck) && frh.length != 0 {
			return NewGoAwayError(FrameSizeError, "SETTINGS ack with non-zero length")
		}
	case FramePing:
		if frh.stream != 0 {
			return NewGoAwayError(ProtocolError, "PING frame with non-zero stream")
		}
		if frh.length != 8 {
			return NewGoAwayError(FrameSizeError, "PING frame length != 8")
		}
	case FrameGoAway:
		if frh.stream != 0 {
			return NewGoAwayError(ProtocolError, "GOAWAY frame with non-zero stream")
		}
		if frh.length < 8 {
			return NewGoAwayError(FrameSizeError, "GOAWAY frame shorter than 8 bytes")
		}
	case FrameWindowUpdate:
		if frh.stream == 0 && frh.length != 4 {
			return NewGoAwayError(FrameSizeError, "WINDOW_UPDATE frame length != 4")
		}
		if frh.length != 4 {
			return NewResetStreamError(FrameSizeError, "WINDOW_UPDATE frame length != 4")
		}
	}

	return nil
}

func (frh *FrameHeader) appendCheckingLen(dst, src []byte) (n int, err error) {
	n = len(src)
	if frh.maxLen > 0 && uint32(n+len(dst)) > frh.maxLen {
		err = ErrPayloadExceeds
	} else {
		frh.payload = append(dst, src...)
		frh.length = len(frh.payload)
	}

	return
}
