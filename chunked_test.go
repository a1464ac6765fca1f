package http2

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// chunkedBody is RFC 7230 section 4.1's own worked example, minus the
// leading status line/headers (chunked.go only ever sees the body).
// https://tools.ietf.org/html/rfc7230#section-4.1
const chunkedBody = "4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n"

func TestChunkedReaderDecodesBody(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(chunkedBody))
	cr := newChunkedReader(br)

	body, err := io.ReadAll(cr)
	require.NoError(t, err)
	require.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(body))
	require.Equal(t, 0, cr.trailers.Len())
}

func TestChunkedReaderTrailers(t *testing.T) {
	const body = "5\r\nhello\r\n0\r\nX-Trailer: value\r\nX-Other: two words\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(body))
	cr := newChunkedReader(br)

	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	require.Equal(t, 2, cr.trailers.Len())
	v, ok := cr.trailers.Get("X-Trailer")
	require.True(t, ok)
	require.Equal(t, "value", v)
	v, ok = cr.trailers.Get("X-Other")
	require.True(t, ok)
	require.Equal(t, "two words", v)
}

func TestChunkedReaderIgnoresChunkExtensions(t *testing.T) {
	const body = "5;ext=value\r\nhello\r\n0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(body))
	cr := newChunkedReader(br)

	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestChunkedReaderRejectsBareLFChunkSize(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("5\nhello\r\n0\r\n\r\n"))
	cr := newChunkedReader(br)

	_, err := io.ReadAll(cr)
	require.ErrorIs(t, err, ErrMalformedChunk)
}

func TestChunkedReaderRejectsGarbageChunkSize(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("zzz\r\nhello\r\n0\r\n\r\n"))
	cr := newChunkedReader(br)

	_, err := io.ReadAll(cr)
	require.ErrorIs(t, err, ErrMalformedChunk)
}

func TestChunkedReaderReadsAcrossMultipleCalls(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte(chunkedBody)))
	cr := newChunkedReader(br)

	buf := make([]byte, 3)
	var got []byte
	for {
		n, err := cr.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	require.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(got))
}
