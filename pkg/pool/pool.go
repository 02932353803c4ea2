// Line buffer pool for the serial framer's hot path.
//
// Every protocol line written over the shared link passes through a
// small scratch buffer to get its terminator appended; pooling those
// buffers keeps the per-line allocation out of the steady 20 Hz loop.
//
// Usage:
//
//	b := pool.GetLineBuffer()
//	defer pool.PutLineBuffer(b)
//	// use b...
//
// Copyright (C) 2026 Quantum Rover Team
//

package pool

import "sync"

// LineBuffer is a reusable append-only byte buffer.
type LineBuffer struct {
	buf []byte
}

var lineBufferPool = sync.Pool{
	New: func() any {
		return &LineBuffer{
			buf: make([]byte, 0, 128), // Typical protocol line size
		}
	},
}

// GetLineBuffer gets an empty buffer from the pool.
func GetLineBuffer() *LineBuffer {
	b := lineBufferPool.Get().(*LineBuffer)
	b.buf = b.buf[:0] // Reset length but keep capacity
	return b
}

// PutLineBuffer returns a buffer to the pool.
func PutLineBuffer(b *LineBuffer) {
	if b == nil {
		return
	}
	// Don't pool oversized buffers
	if cap(b.buf) > 4096 {
		return
	}
	lineBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice.
func (b *LineBuffer) Bytes() []byte {
	return b.buf
}

// Write appends bytes to the buffer.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *LineBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// WriteString appends a string.
func (b *LineBuffer) WriteString(s string) (int, error) {
	b.buf = append(b.buf, s...)
	return len(s), nil
}

// Len returns the buffer length.
func (b *LineBuffer) Len() int {
	return len(b.buf)
}

// Reset clears the buffer.
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
}
