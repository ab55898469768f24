package network

import (
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketListenerAcceptsAndEchoes(t *testing.T) {
	l, err := NewWebSocketListener(&WebSocketListenerConfig{Address: "127.0.0.1:0", Path: "/mqtt"}, nil)
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}

	received := make(chan []byte, 1)
	l.OnConnection(func(conn *Connection) error {
		go func() {
			buf := make([]byte, 64)
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			received <- append([]byte(nil), buf[:n]...)
		}()
		return nil
	})

	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	// Start binds its own net.Listener internally; poll briefly for the
	// resulting address rather than introducing a synchronization channel
	// purely for the test.
	var addr string
	for i := 0; i < 50; i++ {
		if a := l.Addr(); a != nil {
			addr = a.String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("listener never reported an address")
	}

	url := fmt.Sprintf("ws://%s/mqtt", addr)
	dialer := websocket.Dialer{Subprotocols: []string{"mqtt"}}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	payload := []byte{0x30, 0x02, 'h', 'i'}
	if err := ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("got %v, want %v", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the server to receive the message")
	}
}

func TestWSConnBuffersPartialReadsAcrossOneMessage(t *testing.T) {
	// wsConn.Read must hand back a short read when the caller's buffer is
	// smaller than one WebSocket message, buffering the remainder for the
	// next call instead of dropping it.
	c := &wsConn{leftover: []byte("hello world")}
	first := make([]byte, 5)
	n, err := c.Read(first)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(first) != "hello" {
		t.Fatalf("got %q (%d bytes)", first[:n], n)
	}

	second := make([]byte, 16)
	n, err = c.Read(second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(second[:n]) != " world" {
		t.Fatalf("got %q", second[:n])
	}
}
