package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitRequestLine(t *testing.T) {
	method, target, minor, err := splitRequestLine([]byte("GET /index.html HTTP/1.1"))
	require.NoError(t, err)
	require.Equal(t, "GET", method)
	require.Equal(t, "/index.html", target)
	require.Equal(t, 1, minor)

	method, target, minor, err = splitRequestLine([]byte("POST /submit HTTP/1.0"))
	require.NoError(t, err)
	require.Equal(t, "POST", method)
	require.Equal(t, "/submit", target)
	require.Equal(t, 0, minor)
}

func TestSplitRequestLinePriorKnowledgePreface(t *testing.T) {
	method, target, minor, err := splitRequestLine([]byte("PRI * HTTP/2.0"))
	require.NoError(t, err)
	require.Equal(t, "PRI", method)
	require.Equal(t, "*", target)
	require.Equal(t, -2, minor)
}

func TestSplitRequestLineRejectsUnsupportedVersion(t *testing.T) {
	_, _, _, err := splitRequestLine([]byte("GET / HTTP/0.9"))
	require.Error(t, err)
}

func TestSplitRequestLineRejectsMalformedLine(t *testing.T) {
	_, _, _, err := splitRequestLine([]byte("GET"))
	require.Error(t, err)
}

func TestValidToken(t *testing.T) {
	require.True(t, validToken("GET"))
	require.True(t, validToken("X-Custom-Header"))
	require.False(t, validToken(""))
	require.False(t, validToken("bad header"))
	require.False(t, validToken("bad:header"))
}

func TestValidRequestTarget(t *testing.T) {
	require.True(t, validRequestTarget("*"))
	require.True(t, validRequestTarget("/a/b?c=d&e=f"))
	require.False(t, validRequestTarget(""))
	require.False(t, validRequestTarget("/a b"))
}

func TestHasUpgradeToken(t *testing.T) {
	require.True(t, hasUpgradeToken("keep-alive, Upgrade"))
	require.True(t, hasUpgradeToken("upgrade"))
	require.False(t, hasUpgradeToken("keep-alive"))
}

func TestIsPersistent(t *testing.T) {
	headers := NewHeaderList()
	require.True(t, isPersistent(1, headers)) // HTTP/1.1 defaults to persistent

	headers.Set("Connection", "close")
	require.False(t, isPersistent(1, headers))

	headers = NewHeaderList()
	require.False(t, isPersistent(0, headers)) // HTTP/1.0 defaults to non-persistent

	headers.Set("Connection", "keep-alive")
	require.True(t, isPersistent(0, headers))
}

func TestDecodeHeaderValueRFC2047Base64(t *testing.T) {
	// "Hello" base64-encoded per RFC 2047's "B" encoding.
	got := decodeHeaderValue("=?utf-8?B?SGVsbG8=?=")
	require.Equal(t, "Hello", got)
}

func TestDecodeHeaderValueRFC2047QuotedPrintable(t *testing.T) {
	got := decodeHeaderValue("=?utf-8?Q?Hello_World?=")
	require.Equal(t, "Hello World", got)
}

func TestDecodeHeaderValueUnknownCharsetPassesThrough(t *testing.T) {
	word := "=?iso-2022-jp?B?GyRCJUYlOSVIGyhC?="
	got := decodeHeaderValue(word)
	require.Equal(t, word, got)
}

func TestDecodeHeaderValueQuotedString(t *testing.T) {
	// decodeHeaderValue dequotes/unescapes per whitespace-delimited word,
	// so the escaped quote here must not be separated by a space.
	got := decodeHeaderValue(`"a\"b"`)
	require.Equal(t, `a"b`, got)
}

func TestDecodeHeaderValueCollapsesWhitespace(t *testing.T) {
	got := decodeHeaderValue("foo   bar\tbaz")
	require.Equal(t, "foo bar baz", got)
}

func TestIsNoBodyMethod(t *testing.T) {
	for _, m := range []string{"GET", "HEAD", "OPTIONS", "DELETE"} {
		require.True(t, isNoBodyMethod(m), m)
	}
	for _, m := range []string{"POST", "PUT", "PATCH"} {
		require.False(t, isNoBodyMethod(m), m)
	}
}
