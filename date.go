package http2

import "time"

// httpDateLayout is the IMF-fixdate format RFC 7231 section 7.1.1.1 requires
// for the Date header, e.g. "Sun, 06 Nov 1994 08:49:37 GMT".
const httpDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatHTTPDate renders t as an RFC 7231 IMF-fixdate, converting to UTC
// first since the format's trailing "GMT" is fixed.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(httpDateLayout)
}

// ParseHTTPDate parses an RFC 7231 IMF-fixdate, rejecting the obsolete
// rfc850-date and asctime-date forms spec.md doesn't require this engine to
// accept on input.
func ParseHTTPDate(s string) (time.Time, error) {
	return time.Parse(httpDateLayout, s)
}
