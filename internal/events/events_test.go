package events

import (
	"encoding/json"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventBookingSubmitted, handler)

	payload := BookingEventPayload{Reference: "BK-123456", UserID: "u1", TotalAmount: 240}
	err := bus.PublishJSON(EventBookingSubmitted, payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventBookingSubmitted {
		t.Errorf("expected type %s, got %s", EventBookingSubmitted, received.Type)
	}

	var decoded BookingEventPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded.Reference != "BK-123456" {
		t.Errorf("expected reference BK-123456, got %s", decoded.Reference)
	}
	if decoded.TotalAmount != 240 {
		t.Errorf("expected total 240, got %d", decoded.TotalAmount)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestEventBusNilReceiver(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventBookingSynced, nil); err != nil {
		t.Errorf("nil bus PublishJSON failed: %v", err)
	}
}
