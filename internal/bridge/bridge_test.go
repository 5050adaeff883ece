package bridge

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avrkit/eiscp/internal/commands"
)

func dialTestClient(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing bridge: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, b *Bridge, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", b.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridgePublish(t *testing.T) {
	b := New()
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	c1 := dialTestClient(t, srv)
	c2 := dialTestClient(t, srv)
	waitForClients(t, b, 2)

	b.PublishUpdate("10.0.0.9", commands.Update{
		Zone: "main", Command: "master-volume", Value: 50,
	})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading event: %v", err)
		}
		if ev.Host != "10.0.0.9" || ev.Zone != "main" || ev.Command != "master-volume" {
			t.Errorf("event = %+v", ev)
		}
		// JSON numbers decode as float64.
		if v, ok := ev.Value.(float64); !ok || v != 50 {
			t.Errorf("value = %v (%T), want 50", ev.Value, ev.Value)
		}
	}
}

func TestBridgeDropsClosedClients(t *testing.T) {
	b := New()
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dialTestClient(t, srv)
	waitForClients(t, b, 1)

	conn.Close()
	waitForClients(t, b, 0)

	// Publishing with no subscribers is a no-op.
	b.Publish(Event{Host: "10.0.0.9", Zone: "main", Command: "system-power", Value: "on"})
}

func TestBridgeClose(t *testing.T) {
	b := New()
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dialTestClient(t, srv)
	waitForClients(t, b, 1)

	b.Close()
	if got := b.ClientCount(); got != 0 {
		t.Errorf("client count after Close = %d, want 0", got)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read to fail after bridge close")
	}
}
