// Package headers is the ordered, lowercase-keyed header set a file carries
// through the deploy pipeline. A Headers value is owned by one file and
// is not safe for concurrent use.
package headers

import (
	"sort"
	"strings"
)

const (
	CacheControl    = "cache-control"
	ContentType     = "content-type"
	ContentEncoding = "content-encoding"
)

type Headers struct {
	keys   []string
	values map[string]string
}

func New() *Headers {
	return &Headers{values: map[string]string{}}
}

// Canonical lowercases and trims a header name
func Canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (h *Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h.values[Canonical(name)]
	return v, ok
}

// Value is Get without the presence flag
func (h *Headers) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Set adds or replaces name. A replaced header keeps its original position.
func (h *Headers) Set(name, value string) {
	k := Canonical(name)
	if k == "" {
		return
	}
	if h.values == nil {
		h.values = map[string]string{}
	}
	if _, ok := h.values[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.values[k] = value
}

func (h *Headers) Del(name string) {
	if h == nil {
		return
	}
	k := Canonical(name)
	if _, ok := h.values[k]; !ok {
		return
	}
	delete(h.values, k)
	for i, existing := range h.keys {
		if existing == k {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Keys returns names in insertion order
func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Map returns a copy suitable for handing to an uploader
func (h *Headers) Map() map[string]string {
	out := make(map[string]string, h.Len())
	if h == nil {
		return out
	}
	for _, k := range h.keys {
		out[k] = h.values[k]
	}
	return out
}

func (h *Headers) Clone() *Headers {
	c := New()
	if h == nil {
		return c
	}
	for _, k := range h.keys {
		c.Set(k, h.values[k])
	}
	return c
}

// Reset drops every header
func (h *Headers) Reset() {
	if h == nil {
		return
	}
	h.keys = h.keys[:0]
	h.values = map[string]string{}
}

// Sorted returns name/value pairs ordered by name, for digests and logs
func (h *Headers) Sorted() [][2]string {
	keys := h.Keys()
	sort.Strings(keys)
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k, h.values[k]}
	}
	return out
}
