package translator

// DefaultFragmentLimit bounds how many bytes of a single unterminated object
// are buffered before the buffer is discarded.
const DefaultFragmentLimit = 4 << 20

// FragmentBuffer reassembles top-level JSON objects from an arbitrarily
// fragmented byte stream. Reads may split an object or carry several
// concatenated objects; bytes between objects are ignored.
type FragmentBuffer struct {
	buf   []byte
	limit int

	pos      int // next byte to scan
	start    int // offset of the open object, valid when depth > 0
	depth    int
	inString bool
	escaped  bool
	// discarding is set while the rest of an oversized object is skipped.
	discarding bool
}

// NewFragmentBuffer returns a buffer that drops any object larger than limit bytes.
// A non-positive limit selects DefaultFragmentLimit.
func NewFragmentBuffer(limit int) *FragmentBuffer {
	if limit <= 0 {
		limit = DefaultFragmentLimit
	}
	return &FragmentBuffer{limit: limit}
}

// Write appends p and returns every object completed by it, in stream order.
// overflow reports whether a partial object was dropped for exceeding the limit.
// The remainder of a dropped object is consumed without being returned.
func (b *FragmentBuffer) Write(p []byte) (objects [][]byte, overflow bool) {
	b.buf = append(b.buf, p...)

	for ; b.pos < len(b.buf); b.pos++ {
		c := b.buf[b.pos]

		if b.depth == 0 {
			if c == '{' {
				b.start = b.pos
				b.depth = 1
			}
			continue
		}

		if b.inString {
			switch {
			case b.escaped:
				b.escaped = false
			case c == '\\':
				b.escaped = true
			case c == '"':
				b.inString = false
			}
			continue
		}

		switch c {
		case '"':
			b.inString = true
		case '{':
			b.depth++
		case '}':
			b.depth--
			if b.depth == 0 && b.discarding {
				b.discarding = false
				continue
			}
			if b.depth == 0 {
				obj := make([]byte, b.pos+1-b.start)
				copy(obj, b.buf[b.start:b.pos+1])
				objects = append(objects, obj)
			}
		}
	}

	if b.discarding {
		b.drop()
		return objects, false
	}
	b.compact()

	if b.depth > 0 && len(b.buf) > b.limit {
		b.drop()
		b.discarding = true
		overflow = true
	}
	return objects, overflow
}

// Pending reports whether an unterminated object is buffered. The tail of a
// dropped object does not count.
func (b *FragmentBuffer) Pending() bool {
	return b.depth > 0 && !b.discarding
}

// Reset discards all buffered bytes and scanner state.
func (b *FragmentBuffer) Reset() {
	b.drop()
	b.depth = 0
	b.inString, b.escaped, b.discarding = false, false, false
}

// drop releases buffered bytes while keeping the scanner position in the stream.
func (b *FragmentBuffer) drop() {
	b.buf = b.buf[:0]
	b.pos, b.start = 0, 0
}

// compact drops bytes that can no longer belong to an object.
func (b *FragmentBuffer) compact() {
	if b.depth == 0 {
		b.buf = b.buf[:0]
		b.pos = 0
		return
	}
	if b.start == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.start:])
	b.buf = b.buf[:n]
	b.pos -= b.start
	b.start = 0
}
