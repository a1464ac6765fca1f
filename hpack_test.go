package http2

import (
	"bytes"
	"testing"
)

func TestAppendReadInt(t *testing.T) {
	cases := []struct {
		n     uint
		value uint64
	}{
		{5, 10},
		{5, 1337},
		{7, 122},
		{7, 0},
	}

	for _, c := range cases {
		dst := appendInt(nil, c.n, 0, c.value)
		value, rest, err := readInt(c.n, dst)
		if err != nil {
			t.Fatal(err)
		}
		if value != c.value {
			t.Fatalf("got %d, expected %d", value, c.value)
		}
		if len(rest) != 0 {
			t.Fatalf("unexpected trailing bytes: %v", rest)
		}
	}
}

func TestAppendIntKnownVector(t *testing.T) {
	// RFC 7541 section 5.1's own worked example: 1337 encoded with a
	// 5-bit prefix is 31 9a 0a.
	dst := appendInt(nil, 5, 0, 1337)
	want := []byte{31, 154, 10}
	if !bytes.Equal(dst, want) {
		t.Fatalf("got %v, expected %v", dst, want)
	}

	value, rest, err := readInt(5, dst)
	if err != nil {
		t.Fatal(err)
	}
	if value != 1337 {
		t.Fatalf("got %d, expected 1337", value)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %v", rest)
	}
}

func TestReadIntOverflow(t *testing.T) {
	// a prefix whose continuation never terminates (high bit always set)
	// must be rejected rather than looping or overflowing.
	b := make([]byte, maxIntContinuationBytes+2)
	b[0] = 0x1f
	for i := 1; i < len(b); i++ {
		b[i] = 0x80
	}

	if _, _, err := readInt(5, b); err != ErrBitOverflow {
		t.Fatalf("got %v, expected ErrBitOverflow", err)
	}
}

func TestAppendReadString(t *testing.T) {
	for _, disableHuffman := range []bool{true, false} {
		dst := appendString(nil, ":status", disableHuffman)
		dst = appendString(dst, "200", disableHuffman)

		name, rest, err := readString(dst)
		if err != nil {
			t.Fatal(err)
		}
		if name != ":status" {
			t.Fatalf("got %q, expected %q", name, ":status")
		}

		value, rest, err := readString(rest)
		if err != nil {
			t.Fatal(err)
		}
		if value != "200" {
			t.Fatalf("got %q, expected %q", value, "200")
		}
		if len(rest) != 0 {
			t.Fatalf("unexpected trailing bytes: %v", rest)
		}
	}
}

func checkDynamic(t *testing.T, hp *HPACK, i int, name, value string) {
	if len(hp.dynamic) <= i {
		t.Fatalf("dynamic table has %d entries, want at least %d", len(hp.dynamic), i+1)
	}
	e := hp.dynamic[i]
	if e.name != name || e.value != value {
		t.Fatalf("entry %d: got %s=%s, expected %s=%s", i, e.name, e.value, name, value)
	}
}

// decodeAll runs hp.Next over b until it is fully consumed, returning the
// decoded fields in wire order.
func decodeAll(t *testing.T, hp *HPACK, b []byte) []HeaderField {
	var out []HeaderField
	for len(b) > 0 {
		var hf HeaderField
		rest, err := hp.Next(&hf, b)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, hf)
		b = rest
	}
	return out
}

func checkFields(t *testing.T, fields []HeaderField, i int, k, v string) {
	if len(fields) <= i {
		t.Fatalf("fields len exceeded. %d <> %d", len(fields), i)
	}
	hf := fields[i]
	if hf.Key() != k {
		t.Fatalf("unexpected key: %s<>%s", hf.Key(), k)
	}
	if hf.Value() != v {
		t.Fatalf("unexpected value: %s<>%s", hf.Value(), v)
	}
}

// The wire captures below are RFC 7541 Appendix C.5's "Response Examples
// without Huffman Coding" (one per state of the dynamic table), and C.6's
// Huffman-coded equivalents.
// https://tools.ietf.org/html/rfc7541#appendix-C.5
// https://tools.ietf.org/html/rfc7541#appendix-C.6

func TestHPACKDecodeResponsesWithoutHuffman(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)
	hp.SetMaxTableSize(256)

	first := []byte{
		0x48, 0x03, 0x33, 0x30, 0x32, 0x58,
		0x07, 0x70, 0x72, 0x69, 0x76, 0x61,
		0x74, 0x65, 0x61, 0x1d, 0x4d, 0x6f,
		0x6e, 0x2c, 0x20, 0x32, 0x31, 0x20,
		0x4f, 0x63, 0x74, 0x20, 0x32, 0x30,
		0x31, 0x33, 0x20, 0x32, 0x30, 0x3a,
		0x31, 0x33, 0x3a, 0x32, 0x31, 0x20,
		0x47, 0x4d, 0x54, 0x6e, 0x17, 0x68,
		0x74, 0x74, 0x70, 0x73, 0x3a, 0x2f,
		0x2f, 0x77, 0x77, 0x77, 0x2e, 0x65,
		0x78, 0x61, 0x6d, 0x70, 0x6c, 0x65,
		0x2e, 0x63, 0x6f, 0x6d,
	}

	fields := decodeAll(t, hp, first)
	checkFields(t, fields, 0, ":status", "302")
	checkFields(t, fields, 1, "cache-control", "private")
	checkFields(t, fields, 2, "date", "Mon, 21 Oct 2013 20:13:21 GMT")
	checkFields(t, fields, 3, "location", "https://www.example.com")

	checkDynamic(t, hp, 0, "location", "https://www.example.com")
	checkDynamic(t, hp, 1, "date", "Mon, 21 Oct 2013 20:13:21 GMT")
	checkDynamic(t, hp, 2, "cache-control", "private")
	checkDynamic(t, hp, 3, ":status", "302")
	if hp.tableSize != 222 {
		t.Fatalf("unexpected table size: %d<>%d", hp.tableSize, 222)
	}

	second := []byte{0x48, 0x03, 0x33, 0x30, 0x37, 0xc1, 0xc0, 0xbf}
	fields = decodeAll(t, hp, second)
	checkFields(t, fields, 0, ":status", "307")
	checkFields(t, fields, 1, "cache-control", "private")
	checkFields(t, fields, 2, "date", "Mon, 21 Oct 2013 20:13:21 GMT")
	checkFields(t, fields, 3, "location", "https://www.example.com")

	checkDynamic(t, hp, 0, ":status", "307")
	checkDynamic(t, hp, 1, "location", "https://www.example.com")
	checkDynamic(t, hp, 2, "date", "Mon, 21 Oct 2013 20:13:21 GMT")
	checkDynamic(t, hp, 3, "cache-control", "private")
	if hp.tableSize != 222 {
		t.Fatalf("unexpected table size: %d<>%d", hp.tableSize, 222)
	}

	third := []byte{
		0x88, 0xc1, 0x61, 0x1d, 0x4d, 0x6f,
		0x6e, 0x2c, 0x20, 0x32, 0x31, 0x20,
		0x4f, 0x63, 0x74, 0x20, 0x32, 0x30,
		0x31, 0x33, 0x20, 0x32, 0x30, 0x3a,
		0x31, 0x33, 0x3a, 0x32, 0x32, 0x20,
		0x47, 0x4d, 0x54, 0xc0, 0x5a, 0x04,
		0x67, 0x7a, 0x69, 0x70, 0x77, 0x38,
		0x66, 0x6f, 0x6f, 0x3d, 0x41, 0x53,
		0x44, 0x4a, 0x4b, 0x48, 0x51, 0x4b,
		0x42, 0x5a, 0x58, 0x4f, 0x51, 0x57,
		0x45, 0x4f, 0x50, 0x49, 0x55, 0x41,
		0x58, 0x51, 0x57, 0x45, 0x4f, 0x49,
		0x55, 0x3b, 0x20, 0x6d, 0x61, 0x78,
		0x2d, 0x61, 0x67, 0x65, 0x3d, 0x33,
		0x36, 0x30, 0x30, 0x3b, 0x20, 0x76,
		0x65, 0x72, 0x73, 0x69, 0x6f, 0x6e,
		0x3d, 0x31,
	}

	fields = decodeAll(t, hp, third)
	checkFields(t, fields, 0, ":status", "200")
	checkFields(t, fields, 1, "cache-control", "private")
	checkFields(t, fields, 2, "date", "Mon, 21 Oct 2013 20:13:22 GMT")
	checkFields(t, fields, 3, "location", "https://www.example.com")
	checkFields(t, fields, 4, "content-encoding", "gzip")
	checkFields(t, fields, 5, "set-cookie", "foo=ASDJKHQKBZXOQWEOPIUAXQWEOIU; max-age=3600; version=1")

	checkDynamic(t, hp, 0, "set-cookie", "foo=ASDJKHQKBZXOQWEOPIUAXQWEOIU; max-age=3600; version=1")
	checkDynamic(t, hp, 1, "content-encoding", "gzip")
	checkDynamic(t, hp, 2, "date", "Mon, 21 Oct 2013 20:13:22 GMT")
	if hp.tableSize != 215 {
		t.Fatalf("unexpected table size: %d<>%d", hp.tableSize, 215)
	}
}

func TestHPACKDecodeResponsesWithHuffman(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)
	hp.SetMaxTableSize(256)

	first := []byte{
		0x48, 0x82, 0x64, 0x02, 0x58, 0x85,
		0xae, 0xc3, 0x77, 0x1a, 0x4b, 0x61,
		0x96, 0xd0, 0x7a, 0xbe, 0x94, 0x10,
		0x54, 0xd4, 0x44, 0xa8, 0x20, 0x05,
		0x95, 0x04, 0x0b, 0x81, 0x66, 0xe0,
		0x82, 0xa6, 0x2d, 0x1b, 0xff, 0x6e,
		0x91, 0x9d, 0x29, 0xad, 0x17, 0x18,
		0x63, 0xc7, 0x8f, 0x0b, 0x97, 0xc8,
		0xe9, 0xae, 0x82, 0xae, 0x43, 0xd3,
	}

	fields := decodeAll(t, hp, first)
	checkFields(t, fields, 0, ":status", "302")
	checkFields(t, fields, 1, "cache-control", "private")
	checkFields(t, fields, 2, "date", "Mon, 21 Oct 2013 20:13:21 GMT")
	checkFields(t, fields, 3, "location", "https://www.example.com")
	if hp.tableSize != 222 {
		t.Fatalf("unexpected table size: %d<>%d", hp.tableSize, 222)
	}

	second := []byte{0x48, 0x83, 0x64, 0x0e, 0xff, 0xc1, 0xc0, 0xbf}
	fields = decodeAll(t, hp, second)
	checkFields(t, fields, 0, ":status", "307")
	checkFields(t, fields, 1, "cache-control", "private")
	checkFields(t, fields, 2, "date", "Mon, 21 Oct 2013 20:13:21 GMT")
	checkFields(t, fields, 3, "location", "https://www.example.com")
	if hp.tableSize != 222 {
		t.Fatalf("unexpected table size: %d<>%d", hp.tableSize, 222)
	}
}

// TestHPACKEncodeRoundTrip checks that AppendHeader's output decodes back to
// the same fields via Next, using a fresh encoder/decoder pair the way a
// real connection keeps one HPACK context per direction.
func TestHPACKEncodeRoundTrip(t *testing.T) {
	enc := AcquireHPACK()
	dec := AcquireHPACK()
	defer ReleaseHPACK(enc)
	defer ReleaseHPACK(dec)
	enc.SetMaxTableSize(256)
	dec.SetMaxTableSize(256)

	send := make([]HeaderField, 4)
	send[0].Set(":status", "200")
	send[1].Set("cache-control", "private")
	send[2].Set("date", "Mon, 21 Oct 2013 20:13:21 GMT")
	send[3].Set("location", "https://www.example.com")

	var dst []byte
	for i := range send {
		dst = enc.AppendHeader(dst, &send[i], true)
	}

	got := decodeAll(t, dec, dst)
	if len(got) != len(send) {
		t.Fatalf("got %d fields, expected %d", len(got), len(send))
	}
	for i := range send {
		checkFields(t, got, i, send[i].Key(), send[i].Value())
	}

	// the same four fields sent again must reference the first round's
	// dynamic-table entries instead of repeating the literals.
	dst = dst[:0]
	for i := range send {
		dst = enc.AppendHeader(dst, &send[i], true)
	}
	if len(dst) > 4 {
		t.Fatalf("expected an all-indexed, <=4 byte encoding, got %d bytes", len(dst))
	}

	got = decodeAll(t, dec, dst)
	for i := range send {
		checkFields(t, got, i, send[i].Key(), send[i].Value())
	}
}

// TestHPACKSensibleFieldNeverIndexed checks that a field marked sensible
// (e.g. an authorization header) is encoded as never-indexed literal and
// never lands in the dynamic table on either side.
func TestHPACKSensibleFieldNeverIndexed(t *testing.T) {
	enc := AcquireHPACK()
	dec := AcquireHPACK()
	defer ReleaseHPACK(enc)
	defer ReleaseHPACK(dec)

	var hf HeaderField
	hf.Set("authorization", "secret-token")
	hf.sensible = true

	dst := enc.AppendHeader(nil, &hf, true)
	if len(enc.dynamic) != 0 {
		t.Fatalf("sensible field was inserted into the encoder's dynamic table")
	}

	var out HeaderField
	if _, err := dec.Next(&out, dst); err != nil {
		t.Fatal(err)
	}
	if out.Key() != "authorization" || out.Value() != "secret-token" {
		t.Fatalf("got %s=%s", out.Key(), out.Value())
	}
	if len(dec.dynamic) != 0 {
		t.Fatalf("decoder inserted a never-indexed field into the dynamic table")
	}
}

func TestHPACKDynamicTableSizeUpdate(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)
	hp.SetMaxTableSize(4096)

	hp.insert("custom-key", "custom-value")
	if len(hp.dynamic) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(hp.dynamic))
	}

	// a dynamic table size-update representation (001xxxxx) shrinking the
	// table to zero must evict everything. Next always expects a header
	// field representation to follow a size update within the same
	// header block, so append an indexed ":method: GET" (static index 2).
	b := appendInt(nil, 5, repDynamicTableSizeUpdate, 0)
	b = append(b, 0x82)
	var hf HeaderField
	rest, err := hp.Next(&hf, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %v", rest)
	}
	if hf.Key() != ":method" || hf.Value() != "GET" {
		t.Fatalf("got %s=%s, expected :method=GET", hf.Key(), hf.Value())
	}
	if len(hp.dynamic) != 0 {
		t.Fatalf("expected dynamic table to be emptied, got %d entries", len(hp.dynamic))
	}
}

// TestHPACKDecodeRequestWithHuffman is RFC 7541 Appendix C.4.1's first
// request example, fully Huffman-coded.
// https://tools.ietf.org/html/rfc7541#appendix-C.4.1
func TestHPACKDecodeRequestWithHuffman(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)

	b := []byte{
		0x82, 0x86, 0x84, 0x41, 0x8c, 0xf1, 0xe3, 0xc2,
		0xe5, 0xf2, 0x3a, 0x6b, 0xa0, 0xab, 0x90, 0xf4, 0xff,
	}

	fields := decodeAll(t, hp, b)
	checkFields(t, fields, 0, ":method", "GET")
	checkFields(t, fields, 1, ":scheme", "http")
	checkFields(t, fields, 2, ":path", "/")
	checkFields(t, fields, 3, ":authority", "www.example.com")

	checkDynamic(t, hp, 0, ":authority", "www.example.com")
}

func TestHPACKDynamicTableSizeUpdateTooLarge(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)
	hp.SetMaxTableSize(256)

	// RFC 7541 section 6.3: a size update beyond the negotiated maximum
	// is a compression error.
	b := appendInt(nil, 5, repDynamicTableSizeUpdate, 4096)
	var hf HeaderField
	if _, err := hp.Next(&hf, b); err != ErrTableSizeUpdate {
		t.Fatalf("got %v, expected ErrTableSizeUpdate", err)
	}
}
