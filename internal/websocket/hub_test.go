package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/weeme/internal/logging"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		id:   "mock",
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(logging.Discard())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(logging.Discard())
	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Broadcast(NewMessage("reports", "updated", "acc-1", map[string]any{"count": float64(2)}))

	for _, c := range []*Client{c1, c2} {
		got := receive(t, c)
		if got.Type != "reports_updated" {
			t.Errorf("type = %s, want reports_updated", got.Type)
		}
		if got.ID != "acc-1" {
			t.Errorf("id = %s, want acc-1", got.ID)
		}
		data, ok := got.Data.(map[string]any)
		if !ok || data["count"] != float64(2) {
			t.Errorf("data = %v", got.Data)
		}
	}
}

func TestBroadcastFullBufferDrops(t *testing.T) {
	hub := NewHub(logging.Discard())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.Broadcast(NewMessage("session", "changed", fmt.Sprint(i), nil))
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered %d messages, want %d", got, sendBufferSize)
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("tracking_codes", "updated", "acc-9", nil)
	if msg.Type != "tracking_codes_updated" || msg.Entity != "tracking_codes" || msg.Action != "updated" || msg.ID != "acc-9" {
		t.Errorf("message = %+v", msg)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(logging.Discard())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Broadcast(NewMessage("session", "changed", "", nil))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
