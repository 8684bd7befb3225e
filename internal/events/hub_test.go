package events

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/velora-auto/trunkline/backend/internal/types"

	"github.com/rs/zerolog"
)

func TestNewHub(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	if hub == nil {
		t.Fatal("expected hub to be created")
	}

	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}

	if hub.broadcast == nil {
		t.Error("expected broadcast channel to be initialized")
	}

	if hub.register == nil {
		t.Error("expected register channel to be initialized")
	}

	if hub.unregister == nil {
		t.Error("expected unregister channel to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Initial count should be 0
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Simulate adding clients
	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2"}] = true
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// No Run loop: fill the broadcast buffer past capacity. Publish must
	// drop instead of blocking the orchestrators.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Publish(types.SegmentEvent{CallID: "CA1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Publish blocked on a saturated feed")
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub in goroutine
	go hub.Run()

	// Create mock client
	client := &Client{
		id:       "test-client",
		tenantID: "tenant-1",
		hub:      hub,
		send:     make(chan []byte, 1),
	}

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}
}

func TestHubBroadcastFiltersByTenant(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub
	go hub.Run()

	sameTenant := &Client{
		id:       "client1",
		tenantID: "tenant-1",
		hub:      hub,
		send:     make(chan []byte, 10),
	}

	otherTenant := &Client{
		id:       "client2",
		tenantID: "tenant-2",
		hub:      hub,
		send:     make(chan []byte, 10),
	}

	// Register clients
	hub.register <- sameTenant
	hub.register <- otherTenant
	time.Sleep(10 * time.Millisecond)

	event := types.SegmentEvent{
		Type:     types.EventSegmentAnswered,
		TenantID: "tenant-1",
		CallID:   "CA123",
	}
	hub.Publish(event)

	// The tenant-1 client receives the event
	select {
	case msg := <-sameTenant.send:
		var got types.SegmentEvent
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if got.CallID != "CA123" {
			t.Errorf("expected call CA123, got %s", got.CallID)
		}
		if got.Type != types.EventSegmentAnswered {
			t.Errorf("expected event type %s, got %s", types.EventSegmentAnswered, got.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("tenant-1 client did not receive event")
	}

	// The tenant-2 client does not
	select {
	case msg := <-otherTenant.send:
		t.Errorf("tenant-2 client received foreign event: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
