package http2

import (
	"github.com/domsolutions/h2engine/http2utils"
)

const FramePriority FrameType = 0x2

var _ Frame = &Priority{}

// Priority represents the Priority frame.
//
// https://tools.ietf.org/html/rfc7540#section-6.3
type Priority struct {
	stream    uint32
	exclusive bool
	weight    byte
}

func (pry *Priority) Type() FrameType {
	return FramePriority
}

// Reset resets priority fields.
func (pry *Priority) Reset() {
	pry.stream = 0
	pry.exclusive = false
	pry.weight = 0
}

func (pry *Priority) CopyTo(p *Priority) {
	p.stream = pry.stream
	p.exclusive = pry.exclusive
	p.weight = pry.weight
}

// Stream returns the stream dependency: the id of the stream this frame's
// subject stream depends on.
func (pry *Priority) Stream() uint32 {
	return pry.stream
}

// SetStream sets the stream dependency.
func (pry *Priority) SetStream(stream uint32) {
	pry.stream = stream & (1<<31 - 1)
}

// Exclusive reports the E bit: whether the subject stream becomes the sole
// child of its dependency, per RFC 7540 section 5.3.1.
func (pry *Priority) Exclusive() bool {
	return pry.exclusive
}

// SetExclusive sets the E bit.
func (pry *Priority) SetExclusive(v bool) {
	pry.exclusive = v
}

// Weight returns the Priority frame weight.
func (pry *Priority) Weight() byte {
	return pry.weight
}

// SetWeight sets the Priority frame weight.
func (pry *Priority) SetWeight(w byte) {
	pry.weight = w
}

func (pry *Priority) Deserialize(fr *FrameHeader) (err error) {
	if len(fr.payload) < 5 {
		err = ErrMissingBytes
	} else {
		raw := http2utils.BytesToUint32(fr.payload)
		pry.exclusive = raw&(1<<31) != 0
		pry.stream = raw & (1<<31 - 1)
		pry.weight = fr.payload[4]
	}

	return
}

func (pry *Priority) Serialize(fr *FrameHeader) {
	raw := pry.stream & (1<<31 - 1)
	if pry.exclusive {
		raw |= 1 << 31
	}
	fr.payload = http2utils.AppendUint32Bytes(fr.payload[:0], raw)
	fr.payload = append(fr.payload, pry.weight)
}
