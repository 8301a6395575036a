package protocol

import "strings"

// HopByHopHeaders lists the headers that must never cross a tunnel boundary.
// Proxy-* is matched by prefix, everything else by exact (case-insensitive) name.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"TE",
	"Transfer-Encoding",
	"Upgrade",
}

// IsHopByHop reports whether name is a hop-by-hop header per spec.md §4.6.
func IsHopByHop(name string) bool {
	if strings.HasPrefix(strings.ToLower(name), "proxy-") {
		return true
	}
	for _, h := range HopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// Header is an ordered, case-preserving, multi-value header list.
// A plain map[string]string would collapse duplicate keys and lose
// insertion order, both of which this wire format needs to preserve.
type Header []HeaderField

// HeaderField is one header name/value pair.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Add appends a field, preserving any existing entries for the same name.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Get returns the first value for name, case-insensitively, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value stored under name, case-insensitively.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// FromHTTPHeader builds a Header from a net/http.Header, stripping
// hop-by-hop entries and preserving multi-value order within each key
// (net/http.Header itself does not preserve cross-key insertion order,
// so the order of different keys in the result is not defined).
func FromHTTPHeader(src map[string][]string, stripHopByHop bool) Header {
	h := make(Header, 0, len(src))
	for name, values := range src {
		if stripHopByHop && IsHopByHop(name) {
			continue
		}
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

// ApplyToHTTPHeader copies h onto dst, skipping hop-by-hop fields.
func (h Header) ApplyToHTTPHeader(dst map[string][]string) {
	for _, f := range h {
		if IsHopByHop(f.Name) {
			continue
		}
		dst[f.Name] = append(dst[f.Name], f.Value)
	}
}
