package encoder

import "io"

const (
	DefaultBufferSize = 64 * 1024
	minBufferSize     = 512
)

// Buffer is a growable ring buffer. The archive writer pushes into it with
// Write and the encoder drains it with Read. It is not safe for concurrent use.
type Buffer struct {
	data  []byte
	start int
	size  int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < minBufferSize {
		capacity = minBufferSize
	}

	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Len() int {
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

// Reset drops buffered bytes but keeps the allocation.
func (b *Buffer) Reset() {
	b.start = 0
	b.size = 0
}

// Write appends p, growing the buffer when it does not fit. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > len(b.data)-b.size {
		b.grow(b.size + len(p))
	}

	end := (b.start + b.size) % len(b.data)
	n := copy(b.data[end:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.size += len(p)

	return len(p), nil
}

// Read drains up to len(p) bytes. It returns io.EOF only when p is not empty
// and the buffer is.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.size == 0 {
		return 0, io.EOF
	}

	n := min(len(p), b.size)
	first := min(n, len(b.data)-b.start)
	copy(p, b.data[b.start:b.start+first])
	if first < n {
		copy(p[first:], b.data[:n-first])
	}

	b.start = (b.start + n) % len(b.data)
	b.size -= n
	if b.size == 0 {
		b.start = 0
	}

	return n, nil
}

// grow doubles the capacity until need fits and linearises the contents.
func (b *Buffer) grow(need int) {
	capacity := len(b.data) * 2
	for capacity < need {
		capacity *= 2
	}

	data := make([]byte, capacity)
	first := min(b.size, len(b.data)-b.start)
	copy(data, b.data[b.start:b.start+first])
	copy(data[first:], b.data[:b.size-first])

	b.data = data
	b.start = 0
}
