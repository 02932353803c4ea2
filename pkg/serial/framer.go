// Package serial provides the shared half-duplex serial link between the
// bridge and the controller, plus the newline framing both ends speak.
package serial

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"quantum-rover/pkg/pool"
)

// Common errors
var (
	ErrClosed      = errors.New("serial: port closed")
	ErrUnsupported = errors.New("serial: unsupported baud rate")
)

// Framing limits. A line that outgrows maxLineLen without a terminator is
// garbage (line noise, a stuck peer) and is discarded whole.
const (
	maxLineLen   = 512
	defaultQueue = 64
)

// Framer turns a byte stream into newline-delimited text lines. A
// background goroutine drains the stream into a bounded queue; the control
// loop polls the queue without blocking. Partial lines stay buffered until
// their terminator arrives, never dispatched early.
type Framer struct {
	rw     io.ReadWriter
	lines  chan string
	closed atomic.Bool

	errMu   sync.Mutex
	readErr error

	writeMu sync.Mutex

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// NewFramer starts framing the given stream.
func NewFramer(rw io.ReadWriter) *Framer {
	f := &Framer{
		rw:    rw,
		lines: make(chan string, defaultQueue),
	}
	go f.readLoop()
	return f
}

func (f *Framer) readLoop() {
	defer close(f.lines)

	var partial []byte
	buf := make([]byte, 256)
	for {
		n, err := f.rw.Read(buf)
		if n > 0 {
			f.bytesIn.Add(uint64(n))
			partial = append(partial, buf[:n]...)
			for {
				i := bytes.IndexByte(partial, '\n')
				if i < 0 {
					break
				}
				line := string(bytes.TrimRight(partial[:i], "\r"))
				partial = partial[i+1:]
				if line == "" {
					continue
				}
				select {
				case f.lines <- line:
				default:
					// Queue full: the loop is stalled, drop the
					// oldest line to keep the newest.
					select {
					case <-f.lines:
					default:
					}
					f.lines <- line
				}
			}
			if len(partial) > maxLineLen {
				partial = partial[:0]
			}
		}
		if err != nil {
			f.errMu.Lock()
			f.readErr = err
			f.errMu.Unlock()
			return
		}
	}
}

// Poll returns the next complete line without blocking. ok is false when
// no line is pending or the stream has ended.
func (f *Framer) Poll() (line string, ok bool) {
	select {
	case line, ok = <-f.lines:
		return line, ok
	default:
		return "", false
	}
}

// Lines exposes the line queue for blocking consumers (the bridge's relay
// goroutine). The channel closes when the stream ends.
func (f *Framer) Lines() <-chan string {
	return f.lines
}

// WriteLine sends one line, adding the newline terminator. Safe for use
// from multiple goroutines; each line is written whole so the half-duplex
// framing holds.
func (f *Framer) WriteLine(line string) error {
	if f.closed.Load() {
		return ErrClosed
	}
	b := pool.GetLineBuffer()
	defer pool.PutLineBuffer(b)
	b.WriteString(line)
	b.WriteByte('\n')

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	n, err := f.rw.Write(b.Bytes())
	f.bytesOut.Add(uint64(n))
	return err
}

// Err returns the terminal read error, if the stream has ended.
func (f *Framer) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.readErr
}

// Bytes returns the cumulative byte counters.
func (f *Framer) Bytes() (in, out uint64) {
	return f.bytesIn.Load(), f.bytesOut.Load()
}

// Close marks the framer closed and closes the underlying stream when it
// is closeable.
func (f *Framer) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := f.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Loopback returns two connected in-memory streams, one per end of the
// link. Used by -loopback mode and tests in place of a physical port.
func Loopback() (controller, bridge io.ReadWriteCloser) {
	return net.Pipe()
}
