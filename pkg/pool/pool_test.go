// Unit tests for the line buffer pool
//
// Copyright (C) 2026 Quantum Rover Team
//

package pool

import "testing"

func TestLineBufferReuse(t *testing.T) {
	b := GetLineBuffer()
	b.WriteString("TELEMETRY:BAT=7.80")
	b.WriteByte('\n')
	if got := string(b.Bytes()); got != "TELEMETRY:BAT=7.80\n" {
		t.Errorf("buffer contents = %q", got)
	}
	if b.Len() != 19 {
		t.Errorf("Len() = %d, want 19", b.Len())
	}
	PutLineBuffer(b)

	b2 := GetLineBuffer()
	if b2.Len() != 0 {
		t.Errorf("pooled buffer not reset: Len() = %d", b2.Len())
	}
	PutLineBuffer(b2)
}

func TestPutNilIsSafe(t *testing.T) {
	PutLineBuffer(nil)
}

func TestOversizedBufferNotPooled(t *testing.T) {
	b := GetLineBuffer()
	b.Write(make([]byte, 8192))
	PutLineBuffer(b) // Must not panic; just discarded.
}

func BenchmarkLineBuffer(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetLineBuffer()
		buf.WriteString("OK:SPEED=5")
		buf.WriteByte('\n')
		PutLineBuffer(buf)
	}
}
