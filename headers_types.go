package http2

import "strings"

// Header is one name/value pair in a HeaderList, preserving the case the
// value was set with while comparing names case-insensitively.
type Header struct {
	Name  string
	Value string
}

// HeaderList is an ordered, case-insensitive header list, used by the
// handler contract (handler.go) to hand request/trailer/response headers
// across the HTTP/1-vs-HTTP/2 boundary as one shape. It is distinct from
// the wire-level Headers frame type in headers.go.
//
// https://tools.ietf.org/html/rfc7230#section-3.2
type HeaderList struct {
	list []Header
}

// NewHeaderList returns an empty HeaderList.
func NewHeaderList() *HeaderList {
	return &HeaderList{}
}

// Reset empties h for reuse.
func (h *HeaderList) Reset() {
	h.list = h.list[:0]
}

// Add appends name/value without removing any existing entries for name,
// matching RFC 7230 section 3.2.2's "multiple header fields... same as
// combining" semantics for fields that repeat legally (e.g. Set-Cookie).
func (h *HeaderList) Add(name, value string) {
	h.list = append(h.list, Header{Name: name, Value: value})
}

// Set replaces all existing entries for name with a single name/value pair.
func (h *HeaderList) Set(name, value string) {
	h.Remove(name)
	h.Add(name, value)
}

// Get returns the first value for name, and whether it was present.
func (h *HeaderList) Get(name string) (string, bool) {
	for _, hd := range h.list {
		if strings.EqualFold(hd.Name, name) {
			return hd.Value, true
		}
	}
	return "", false
}

// GetAll returns every value for name, in insertion order.
func (h *HeaderList) GetAll(name string) []string {
	var vals []string
	for _, hd := range h.list {
		if strings.EqualFold(hd.Name, name) {
			vals = append(vals, hd.Value)
		}
	}
	return vals
}

// Combined returns every value for name joined by ", ", per RFC 7230
// section 3.2.2 - the form most single-value consumers should read.
func (h *HeaderList) Combined(name string) (string, bool) {
	vals := h.GetAll(name)
	if len(vals) == 0 {
		return "", false
	}
	return strings.Join(vals, ", "), true
}

// AppendToLast appends continuation to the value of the most recently added
// header field, joined by a single space. It backs RFC 7230 section 3.2.4's
// obs-fold handling: a folded continuation line extends the preceding
// field's value rather than starting a new field, so Set (which would
// collapse every same-named entry into one) cannot be used here.
func (h *HeaderList) AppendToLast(continuation string) {
	if len(h.list) == 0 {
		return
	}
	last := &h.list[len(h.list)-1]
	last.Value = last.Value + " " + continuation
}

// Remove deletes every entry for name.
func (h *HeaderList) Remove(name string) {
	out := h.list[:0]
	for _, hd := range h.list {
		if !strings.EqualFold(hd.Name, name) {
			out = append(out, hd)
		}
	}
	h.list = out
}

// Len returns the number of header fields.
func (h *HeaderList) Len() int { return len(h.list) }

// At returns the i'th header field in insertion order.
func (h *HeaderList) At(i int) Header { return h.list[i] }

// VisitAll calls f for every header field, in insertion order.
func (h *HeaderList) VisitAll(f func(name, value string)) {
	for _, hd := range h.list {
		f(hd.Name, hd.Value)
	}
}
