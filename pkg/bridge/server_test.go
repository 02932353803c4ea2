package bridge

import (
	"fmt"
	"net"
	"testing"
	"time"
)

func TestServeConnEndToEnd(t *testing.T) {
	link := &fakeLink{}
	m, _ := newTestManager(t, link)
	srv := NewServer(":0", m, nil)

	server, clientEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.ServeConn(server)
		close(done)
	}()
	c := newClient(clientEnd)
	c.next(t) // welcome

	fmt.Fprintf(clientEnd, "pass123PING\n")
	if got := c.next(t); got != "PONG" {
		t.Errorf("reply = %q, want PONG", got)
	}
	fmt.Fprintf(clientEnd, "pass123STOP\n")

	// Closing the client frees the slot.
	clientEnd.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return after client close")
	}
	if st := m.Snapshot(); st.State != "idle" {
		t.Errorf("state = %s after disconnect, want idle", st.State)
	}
	if lines := link.all(); len(lines) != 1 || lines[0] != "STOP" {
		t.Errorf("forwarded = %v, want [STOP]", lines)
	}
}
