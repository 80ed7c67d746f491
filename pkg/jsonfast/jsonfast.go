/*
Package jsonfast offers a minimal JSON object builder for flat string maps.
*/
package jsonfast

import "sort"

// Builder appends a single JSON object into a reusable byte slice.
// Only string values are supported; it is tailored to flat envelopes.
type Builder struct {
	buf    []byte
	opened bool
	first  bool
}

// New creates a new builder with initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{
		buf:   make([]byte, 0, capacity),
		first: true,
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.opened = false
	b.first = true
}

// Bytes returns the underlying buffer (do not modify after use).
func (b *Builder) Bytes() []byte {
	return b.buf
}

// BeginObject starts a JSON object.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.first = true
}

// EndObject ends a JSON object. An object with no fields is still opened
// first so the output is always `{}` at minimum.
func (b *Builder) EndObject() {
	if !b.opened {
		b.BeginObject()
	}
	b.buf = append(b.buf, '}')
	b.opened = false
}

// AddStringField adds a "name":"value" string field, escaping both sides.
func (b *Builder) AddStringField(name, value string) {
	b.sep()
	b.buf = append(b.buf, '"')
	b.escapeString(name)
	b.buf = append(b.buf, '"', ':', '"')
	b.escapeString(value)
	b.buf = append(b.buf, '"')
}

// AddStringMap adds every entry of m as a string field, in key order so the
// output is deterministic.
func (b *Builder) AddStringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.AddStringField(k, m[k])
	}
}

// Object encodes m as a standalone JSON object and returns a copy of the
// bytes, safe to keep after the builder is reused.
func Object(m map[string]string) []byte {
	b := New(64 + 32*len(m))
	b.BeginObject()
	b.AddStringMap(m)
	b.EndObject()

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Builder) sep() {
	if !b.opened {
		b.BeginObject()
	}
	if b.first {
		b.first = false
		return
	}
	b.buf = append(b.buf, ',')
}

// escapeString escapes JSON special characters.
func (b *Builder) escapeString(s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\b':
			b.buf = append(b.buf, '\\', 'b')
		case '\f':
			b.buf = append(b.buf, '\\', 'f')
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			if c < 0x20 {
				b.buf = append(b.buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
	}
}

var hex = "0123456789abcdef"
