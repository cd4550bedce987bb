package bus

import (
	"context"
	"testing"
	"time"

	"github.com/deskline-ops/triagebot/internal/chatapi"
)

func TestPumpMergesMultipleAdapters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(16)
	slack := make(chan chatapi.Event, 4)
	other := make(chan chatapi.Event, 4)
	b.Pump(ctx, slack)
	b.Pump(ctx, other)

	slack <- chatapi.Event{Kind: chatapi.EventCommand, ChatRef: "C1"}
	other <- chatapi.Event{Kind: chatapi.EventCallback, ChatRef: "C2"}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		evt, err := b.Consume(ctx)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		seen[evt.ChatRef] = true
	}
	if !seen["C1"] || !seen["C2"] {
		t.Fatalf("expected events from both adapters, got %v", seen)
	}
}

func TestConsumeReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New(4)

	cancel()
	if _, err := b.Consume(ctx); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}

func TestPumpStopsWhenSourceCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(4)
	src := make(chan chatapi.Event)
	b.Pump(ctx, src)
	close(src)

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Pump goroutine to exit after its source closed")
	}
}
