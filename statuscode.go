package http2

// statusReasons is a compile-time status-code to reason-phrase table,
// covering common codes and those this engine itself sets on a response it
// originates (errors, the h2c 101). It supplies the reason phrase of every
// HTTP/1.1 status line, handler-produced statuses included; a code missing
// from it gets the generic phrase "Status". It stays a small literal
// instead of the full IANA registry.
var statusReasons = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	417: "Expectation Failed",
	421: "Misdirected Request",
	426: "Upgrade Required",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	505: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for code, or "" if this engine has
// no canned phrase for it (the caller supplied one, or must).
func StatusText(code int) string {
	return statusReasons[code]
}
