package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventTicketClosed, func(_ context.Context, e Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketClosed, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+string(e.TicketID))
		return nil
	})
	d.Subscribe(EventTicketOpened, func(context.Context, Event) error {
		calls = append(calls, "unrelated")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketClosed, TicketID: "t1"})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second:t1" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestDispatcherWithoutListeners(t *testing.T) {
	d := NewInMemoryDispatcher()
	if err := d.Publish(context.Background(), Event{Type: EventTicketRemoved}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
