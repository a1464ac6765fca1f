package http2

import "github.com/domsolutions/h2engine/http2utils"

// FrameSettings identifies the SETTINGS frame type (RFC 7540 section 6.5).
const FrameSettings FrameType = 0x4

// Recognised SETTINGS identifiers (RFC 7540 section 6.5.2).
const (
	HeaderTableSizeID      uint16 = 0x1
	EnablePushID           uint16 = 0x2
	MaxConcurrentStreamsID uint16 = 0x3
	InitialWindowSizeID    uint16 = 0x4
	MaxFrameSizeID         uint16 = 0x5
	MaxHeaderListSizeID    uint16 = 0x6
)

// RFC 7540 section 6.5.2's defaults, and the lower bound of
// SETTINGS_MAX_FRAME_SIZE. defaultMaxConcurrentStreams is this engine's own
// advertised limit; the RFC sets no default for it.
const (
	defaultHeaderTableSize      = 4096
	defaultEnablePush           = 1
	defaultMaxConcurrentStreams = 100
	defaultInitialWindowSize    = 1<<16 - 1
	minMaxFrameSize             = 1 << 14
)

// Settings is both the SETTINGS frame payload (a set of identifier/value
// pairs) and the negotiated-settings snapshot each side of a connection
// keeps for the other. Use AcquireFrame(FrameSettings) when reading one off
// the wire; build one directly (via NewSettings or the zero value plus
// SetXxx calls) to track a connection's own state.
type Settings struct {
	ack bool

	headerTableSize      uint32
	enablePush           bool
	maxStreams           uint32
	maxWindow            uint32
	frameSize            uint32
	maxHeaderListSize    uint32
	headerTableSizeSet   bool
	enablePushSet        bool
	maxStreamsSet        bool
	maxWindowSet         bool
	frameSizeSet         bool
	maxHeaderListSizeSet bool
}

// NewSettings returns a Settings snapshot filled with the RFC 7540
// section 6.5.2 defaults.
func NewSettings() *Settings {
	st := &Settings{}
	st.Reset()
	return st
}

// Type implements Frame.
func (st *Settings) Type() FrameType { return FrameSettings }

// Reset restores st to the RFC-mandated defaults.
func (st *Settings) Reset() {
	st.ack = false
	st.headerTableSize = defaultHeaderTableSize
	st.enablePush = true
	st.maxStreams = 0 // 0 means unlimited until the peer says otherwise
	st.maxWindow = defaultInitialWindowSize
	st.frameSize = minMaxFrameSize
	st.maxHeaderListSize = 0 // 0 means unlimited
	st.headerTableSizeSet = false
	st.enablePushSet = false
	st.maxStreamsSet = false
	st.maxWindowSet = false
	st.frameSizeSet = false
	st.maxHeaderListSizeSet = false
}

// CopyTo copies st into dst.
func (st *Settings) CopyTo(dst *Settings) {
	*dst = *st
}

// IsAck reports whether this SETTINGS frame just acknowledges the peer's.
func (st *Settings) IsAck() bool { return st.ack }

// SetAck marks this SETTINGS frame as an acknowledgement; an ack carries no
// payload.
func (st *Settings) SetAck(ack bool) { st.ack = ack }

// HeaderTableSize returns SETTINGS_HEADER_TABLE_SIZE.
func (st *Settings) HeaderTableSize() uint32 { return st.headerTableSize }

// SetHeaderTableSize sets SETTINGS_HEADER_TABLE_SIZE.
func (st *Settings) SetHeaderTableSize(size uint32) {
	st.headerTableSize = size
	st.headerTableSizeSet = true
}

// EnablePush reports SETTINGS_ENABLE_PUSH.
func (st *Settings) EnablePush() bool { return st.enablePush }

// SetEnablePush sets SETTINGS_ENABLE_PUSH.
func (st *Settings) SetEnablePush(enable bool) {
	st.enablePush = enable
	st.enablePushSet = true
}

// MaxConcurrentStreams returns SETTINGS_MAX_CONCURRENT_STREAMS, or 0 if the
// peer never sent one (unlimited).
func (st *Settings) MaxConcurrentStreams() uint32 { return st.maxStreams }

// SetMaxConcurrentStreams sets SETTINGS_MAX_CONCURRENT_STREAMS.
func (st *Settings) SetMaxConcurrentStreams(max uint32) {
	st.maxStreams = max
	st.maxStreamsSet = true
}

// MaxWindowSize returns SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) MaxWindowSize() uint32 { return st.maxWindow }

// SetMaxWindowSize sets SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) SetMaxWindowSize(size uint32) {
	st.maxWindow = size
	st.maxWindowSet = true
}

// FrameSize returns SETTINGS_MAX_FRAME_SIZE.
func (st *Settings) FrameSize() uint32 { return st.frameSize }

// SetMaxFrameSize sets SETTINGS_MAX_FRAME_SIZE. Values outside
// [2^14, 2^24-1] are clamped to the nearest bound per RFC 7540 section
// 6.5.2's PROTOCOL_ERROR note being the caller's responsibility to raise;
// Deserialize enforces the same range and returns an error instead.
func (st *Settings) SetMaxFrameSize(size uint32) {
	if size < minMaxFrameSize {
		size = minMaxFrameSize
	} else if size > 1<<24-1 {
		size = 1<<24 - 1
	}
	st.frameSize = size
	st.frameSizeSet = true
}

// MaxHeaderListSize returns SETTINGS_MAX_HEADER_LIST_SIZE, or 0 if the peer
// never sent one (unlimited).
func (st *Settings) MaxHeaderListSize() uint32 { return st.maxHeaderListSize }

// SetMaxHeaderListSize sets SETTINGS_MAX_HEADER_LIST_SIZE.
func (st *Settings) SetMaxHeaderListSize(max uint32) {
	st.maxHeaderListSize = max
	st.maxHeaderListSizeSet = true
}

// Deserialize decodes a SETTINGS frame payload: a sequence of 6-octet
// identifier/value pairs. An ACK carries no payload at all.
func (st *Settings) Deserialize(fr *FrameHeader) error {
	st.ack = fr.Flags().Has(FlagAck)
	if st.ack {
		return nil
	}

	payload := fr.payload
	if len(payload)%6 != 0 {
		return NewGoAwayError(FrameSizeError, "SETTINGS frame length not a multiple of 6")
	}

	for len(payload) > 0 {
		id := http2utils.BytesToUint16(payload[:2])
		value := http2utils.BytesToUint32(payload[2:6])
		payload = payload[6:]

		switch id {
		case HeaderTableSizeID:
			st.SetHeaderTableSize(value)
		case EnablePushID:
			if value > 1 {
				return NewGoAwayError(ProtocolError, "SETTINGS_ENABLE_PUSH must be 0 or 1")
			}
			st.SetEnablePush(value == 1)
		case MaxConcurrentStreamsID:
			st.SetMaxConcurrentStreams(value)
		case InitialWindowSizeID:
			if value > 1<<31-1 {
				return NewGoAwayError(FlowControlError, "SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1")
			}
			st.SetMaxWindowSize(value)
		case MaxFrameSizeID:
			if value < minMaxFrameSize || value > maxMaxLen {
				return NewGoAwayError(ProtocolError, "SETTINGS_MAX_FRAME_SIZE out of range")
			}
			st.SetMaxFrameSize(value)
		case MaxHeaderListSizeID:
			st.SetMaxHeaderListSize(value)
		default:
			// unknown identifiers are ignored per RFC 7540 section 6.5.2
		}
	}

	return nil
}

// Serialize encodes only the fields explicitly set via SetXxx (a Settings
// with none set encodes an empty payload), matching the teacher's append-only frame body convention.
func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.payload = fr.payload[:0]
		return
	}

	fr.payload = fr.payload[:0]
	fr.payload = st.appendSetting(fr.payload, HeaderTableSizeID, st.headerTableSize, st.headerTableSizeSet)
	fr.payload = st.appendPushSetting(fr.payload)
	fr.payload = st.appendSetting(fr.payload, MaxConcurrentStreamsID, st.maxStreams, st.maxStreamsSet)
	fr.payload = st.appendSetting(fr.payload, InitialWindowSizeID, st.maxWindow, st.maxWindowSet)
	fr.payload = st.appendSetting(fr.payload, MaxFrameSizeID, st.frameSize, st.frameSizeSet)
	fr.payload = st.appendSetting(fr.payload, MaxHeaderListSizeID, st.maxHeaderListSize, st.maxHeaderListSizeSet)
}

func (st *Settings) appendSetting(dst []byte, id uint16, value uint32, set bool) []byte {
	if !set {
		return dst
	}
	var buf [6]byte
	http2utils.Uint16ToBytes(buf[:2], id)
	http2utils.Uint32ToBytes(buf[2:], value)
	return append(dst, buf[:]...)
}

func (st *Settings) appendPushSetting(dst []byte) []byte {
	if !st.enablePushSet {
		return dst
	}
	var v uint32
	if st.enablePush {
		v = 1
	}
	var buf [6]byte
	http2utils.Uint16ToBytes(buf[:2], EnablePushID)
	http2utils.Uint32ToBytes(buf[2:], v)
	return append(dst, buf[:]...)
}
