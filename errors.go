package http2

import "fmt"

// ErrorCode is an HTTP/2 error code as defined by RFC 7540 section 7.
//
// The same codes double as the vocabulary for stream errors (carried in a
// RST_STREAM frame) and connection errors (carried in a GOAWAY frame).
type ErrorCode uint32

const (
	NoError             ErrorCode = 0x0
	ProtocolError       ErrorCode = 0x1
	InternalError       ErrorCode = 0x2
	FlowControlError    ErrorCode = 0x3
	SettingsTimeout     ErrorCode = 0x4
	StreamClosedError   ErrorCode = 0x5
	FrameSizeError      ErrorCode = 0x6
	RefusedStreamError  ErrorCode = 0x7
	StreamCanceled      ErrorCode = 0x8
	CompressionError    ErrorCode = 0x9
	ConnectError        ErrorCode = 0xa
	EnhanceYourCalm     ErrorCode = 0xb
	InadequateSecurity  ErrorCode = 0xc
	HTTP11Required      ErrorCode = 0xd
)

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case ProtocolError:
		return "PROTOCOL_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case SettingsTimeout:
		return "SETTINGS_TIMEOUT"
	case StreamClosedError:
		return "STREAM_CLOSED"
	case FrameSizeError:
		return "FRAME_SIZE_ERROR"
	case RefusedStreamError:
		return "REFUSED_STREAM"
	case StreamCanceled:
		return "CANCEL"
	case CompressionError:
		return "COMPRESSION_ERROR"
	case ConnectError:
		return "CONNECT_ERROR"
	case EnhanceYourCalm:
		return "ENHANCE_YOUR_CALM"
	case InadequateSecurity:
		return "INADEQUATE_SECURITY"
	case HTTP11Required:
		return "HTTP_1_1_REQUIRED"
	}
	return "UNKNOWN_ERROR"
}

// errKind classifies how an Error must be surfaced, per spec.md section 7.
type errKind uint8

const (
	// kindConnection is fatal to the whole connection: GOAWAY + drain + close.
	kindConnection errKind = iota
	// kindStream is fatal to a single stream: RST_STREAM, stream -> CLOSED.
	kindStream
	// kindRequest is an HTTP/1-only parse failure answered with a status line.
	kindRequest
)

// Error is the engine's single error type. Use NewGoAwayError for connection
// errors and NewResetStreamError for stream errors; NewRequestError for
// HTTP/1 parse failures that only need a status response.
type Error struct {
	kind      errKind
	frameType FrameType
	code      ErrorCode
	status    int
	reason    string
}

func (e Error) Error() string {
	if e.kind == kindRequest {
		return fmt.Sprintf("request error %d: %s", e.status, e.reason)
	}
	return fmt.Sprintf("%s: %s", e.code, e.reason)
}

// Code returns the HTTP/2 error code carried by a connection/stream Error.
func (e Error) Code() ErrorCode {
	return e.code
}

// Status returns the HTTP status code carried by an HTTP/1 request Error.
func (e Error) Status() int {
	return e.status
}

// IsConnectionError reports whether e must be answered with a GOAWAY.
func (e Error) IsConnectionError() bool {
	return e.kind == kindConnection
}

// IsStreamError reports whether e must be answered with a RST_STREAM.
func (e Error) IsStreamError() bool {
	return e.kind == kindStream
}

// NewGoAwayError builds a connection-fatal Error with the given code and reason.
func NewGoAwayError(code ErrorCode, reason string) error {
	return Error{kind: kindConnection, frameType: FrameGoAway, code: code, reason: reason}
}

// NewResetStreamError builds a stream-fatal Error with the given code and reason.
func NewResetStreamError(code ErrorCode, reason string) error {
	return Error{kind: kindStream, frameType: FrameResetStream, code: code, reason: reason}
}

// NewRequestError builds an HTTP/1 request-parsing Error answered with status.
func NewRequestError(status int, reason string) error {
	return Error{kind: kindRequest, status: status, reason: reason}
}

var (
	ErrMissingBytes      = NewGoAwayError(FrameSizeError, "frame is missing bytes")
	ErrPayloadExceeds    = NewGoAwayError(FrameSizeError, "payload exceeds the negotiated max frame size")
	ErrUnknownFrameType  = NewGoAwayError(ProtocolError, "unknown frame type")
	ErrBitOverflow       = NewGoAwayError(CompressionError, "hpack integer overflowed 10 continuation bytes")
	ErrUnexpectedSize    = NewGoAwayError(CompressionError, "incomplete hpack header block")
	ErrFieldNotFound     = NewGoAwayError(CompressionError, "indexed header field not found")
	ErrTableSizeUpdate   = NewGoAwayError(CompressionError, "dynamic table size update out of order or oversized")
	ErrHuffmanPadding    = NewGoAwayError(CompressionError, "invalid huffman padding")
	ErrHuffmanEOS        = NewGoAwayError(CompressionError, "huffman EOS symbol in data")
	ErrLineTooLong       = NewRequestError(431, "line exceeds the configured limit")
	ErrBareLineFeed      = NewRequestError(400, "bare LF line terminator")
	ErrMalformedChunk    = NewRequestError(400, "malformed chunked transfer-coding")
	ErrInvalidResponseState = fmt.Errorf("invalid response state transition")
)
