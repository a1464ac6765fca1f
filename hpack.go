package http2

import "sync"

// hpackEntry is one dynamic-table row.
type hpackEntry struct {
	name, value string
}

func (e hpackEntry) size() int {
	return len(e.name) + len(e.value) + 32
}

// HPACK implements one direction (encode or decode) of an RFC 7541 header
// compression context. A connection owns two: enc for its outbound headers,
// dec for the peer's inbound ones. Use AcquireHPACK/ReleaseHPACK; an HPACK
// instance must not be shared across goroutines.
//
// https://tools.ietf.org/html/rfc7541
type HPACK struct {
	// dynamic table, stored newest-first (index 0 is the most recently
	// inserted entry, matching RFC 7541 section 2.3.2's indexing order).
	dynamic []hpackEntry

	tableSize    int // current total size (RFC 7541 section 4.1 accounting)
	maxTableSize int // SETTINGS_HEADER_TABLE_SIZE negotiated with the peer

	// DisableCompression forces literal-without-indexing output (never
	// indexed for fields marked sensible) and skips Huffman encoding.
	DisableCompression bool
}

var hpackPool = sync.Pool{
	New: func() interface{} {
		hp := &HPACK{}
		hp.Reset()
		return hp
	},
}

// AcquireHPACK gets an HPACK context from the pool.
func AcquireHPACK() *HPACK {
	hp := hpackPool.Get().(*HPACK)
	hp.Reset()
	return hp
}

// ReleaseHPACK resets hp and returns it to the pool.
func ReleaseHPACK(hp *HPACK) {
	hpackPool.Put(hp)
}

// Reset empties the dynamic table and restores the default table size.
func (hp *HPACK) Reset() {
	hp.dynamic = hp.dynamic[:0]
	hp.tableSize = 0
	hp.maxTableSize = defaultHeaderTableSize
	hp.DisableCompression = false
}

// SetMaxTableSize sets the maximum dynamic table size this context may
// grow to, evicting entries immediately if size shrank below the total
// currently held.
func (hp *HPACK) SetMaxTableSize(size int) {
	hp.maxTableSize = size
	hp.evictTo(size)
}

func (hp *HPACK) evictTo(max int) {
	for hp.tableSize > max && len(hp.dynamic) > 0 {
		last := hp.dynamic[len(hp.dynamic)-1]
		hp.tableSize -= last.size()
		hp.dynamic = hp.dynamic[:len(hp.dynamic)-1]
	}
}

func (hp *HPACK) insert(name, value string) {
	e := hpackEntry{name: name, value: value}
	hp.evictTo(hp.maxTableSize - e.size())
	if e.size() > hp.maxTableSize {
		// entry alone is bigger than the table: table stays empty
		// (RFC 7541 section 4.4)
		return
	}
	hp.dynamic = append([]hpackEntry{e}, hp.dynamic...)
	hp.tableSize += e.size()
}

func (hp *HPACK) at(index int) (name, value string, ok bool) {
	if index < 1 {
		return "", "", false
	}
	if index <= len(staticTable) {
		e := staticTable[index-1]
		return e.name, e.value, true
	}
	di := index - len(staticTable) - 1
	if di < 0 || di >= len(hp.dynamic) {
		return "", "", false
	}
	e := hp.dynamic[di]
	return e.name, e.value, true
}

// representation type tags, top 3 (or fewer) bits of the first octet.
// https://tools.ietf.org/html/rfc7541#section-6
const (
	repIndexed                  = 0x80 // 1xxxxxxx
	repLiteralIncrementalIndex  = 0x40 // 01xxxxxx
	repLiteralNoIndex           = 0x00 // 0000xxxx
	repLiteralNeverIndex        = 0x10 // 0001xxxx
	repDynamicTableSizeUpdate   = 0x20 // 001xxxxx
)

// Next decodes one header field representation from the front of b,
// appending the decoded name/value into hf (which callers should Reset
// between calls) and returning the remaining, unconsumed bytes.
func (hp *HPACK) Next(hf *HeaderField, b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, ErrUnexpectedSize
	}

	first := b[0]

	switch {
	case first&repIndexed == repIndexed:
		index, rest, err := readInt(7, b)
		if err != nil {
			return b, err
		}
		name, value, ok := hp.at(int(index))
		if !ok {
			return b, ErrFieldNotFound
		}
		hf.SetKey(name)
		hf.SetValue(value)
		return rest, nil

	case first&0xe0 == repDynamicTableSizeUpdate:
		size, rest, err := readInt(5, b)
		if err != nil {
			return b, err
		}
		if int(size) > hp.maxTableSize {
			return b, ErrTableSizeUpdate
		}
		hp.evictTo(int(size))
		return hp.Next(hf, rest)

	default:
		var n uint
		var store bool
		switch {
		case first&0xc0 == repLiteralIncrementalIndex:
			n = 6
			store = true
		case first&0xf0 == repLiteralNeverIndex:
			n = 4
			hf.sensible = true
		default: // repLiteralNoIndex
			n = 4
		}

		index, rest, err := readInt(n, b)
		if err != nil {
			return b, err
		}

		var name string
		if index == 0 {
			s, r, err := readString(rest)
			if err != nil {
				return b, err
			}
			name = s
			rest = r
		} else {
			nm, _, ok := hp.at(int(index))
			if !ok {
				return b, ErrFieldNotFound
			}
			name = nm
		}

		value, rest, err := readString(rest)
		if err != nil {
			return b, err
		}

		hf.SetKey(name)
		hf.SetValue(value)

		if store {
			hp.insert(name, value)
		}

		return rest, nil
	}
}

// AppendHeader encodes hf and appends its wire representation to dst,
// choosing the most compact representation the tables allow. store
// controls whether the field is also added to the dynamic table (true for
// a regular field, false for pseudo-headers the caller wants literal).
func (hp *HPACK) AppendHeader(dst []byte, hf *HeaderField, store bool) []byte {
	name, value := hf.Key(), hf.Value()

	if hp.DisableCompression {
		if hf.IsSensible() {
			return hp.appendLiteral(dst, 4, repLiteralNeverIndex, name, value)
		}
		return hp.appendLiteral(dst, 4, repLiteralNoIndex, name, value)
	}

	if idx, ok := staticTableFullIndex[name+"\x00"+value]; ok {
		return appendInt(dst, 7, repIndexed, uint64(idx))
	}
	if idx, ok := hp.dynamicFullIndex(name, value); ok {
		return appendInt(dst, 7, repIndexed, uint64(idx))
	}

	if hf.IsSensible() {
		dst = hp.appendLiteral(dst, 4, repLiteralNeverIndex, name, value)
		return dst
	}

	if store {
		dst = hp.appendLiteral(dst, 6, repLiteralIncrementalIndex, name, value)
		hp.insert(name, value)
		return dst
	}

	return hp.appendLiteral(dst, 4, repLiteralNoIndex, name, value)
}

// appendLiteral appends a literal representation whose n-bit prefix carries
// either a name index (when name matches a static/dynamic table entry) or a
// zero followed by the name as a string literal.
func (hp *HPACK) appendLiteral(dst []byte, n uint, prefixByte byte, name, value string) []byte {
	if idx, ok := staticTableNameIndex[name]; ok {
		dst = appendInt(dst, n, prefixByte, uint64(idx))
	} else if idx, ok := hp.dynamicNameIndex(name); ok {
		dst = appendInt(dst, n, prefixByte, uint64(idx))
	} else {
		dst = appendInt(dst, n, prefixByte, 0)
		dst = appendString(dst, name, hp.DisableCompression)
	}
	return appendString(dst, value, hp.DisableCompression)
}

func (hp *HPACK) dynamicFullIndex(name, value string) (int, bool) {
	for i, e := range hp.dynamic {
		if e.name == name && e.value == value {
			return len(staticTable) + i + 1, true
		}
	}
	return 0, false
}

func (hp *HPACK) dynamicNameIndex(name string) (int, bool) {
	for i, e := range hp.dynamic {
		if e.name == name {
			return len(staticTable) + i + 1, true
		}
	}
	return 0, false
}
