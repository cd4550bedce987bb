// Package bus decouples chat adapters from the router: each configured
// chatapi.Adapter publishes its own Events() stream onto one Bus, and a
// single consumer loop drains the merged stream into router.Handle. This
// keeps cmd/triagebot's serve command from hand-rolling a fan-in select
// over an adapter list that may grow past Slack.
//
// Grounded on the teacher's internal/bus.MessageBus: the buffered
// channel-based publish/consume shape is kept, narrowed from the teacher's
// generic Inbound/OutboundMessage envelopes to chatapi.Event, since every
// event this service moves is already one of the four shapes chatapi
// defines and needs no separate outbound leg (the router calls
// chatapi.Adapter directly for replies).
package bus

import (
	"context"
	"sync"

	"github.com/deskline-ops/triagebot/internal/chatapi"
)

// Bus merges inbound events from any number of chat adapters into one
// consumable stream.
type Bus struct {
	events chan chatapi.Event
	wg     sync.WaitGroup
}

// New creates a Bus with the given buffer size.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{events: make(chan chatapi.Event, buffer)}
}

// Pump copies every event from src onto the bus until src closes or ctx is
// cancelled. Call once per adapter before Consume starts draining.
func (b *Bus) Pump(ctx context.Context, src <-chan chatapi.Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case evt, ok := <-src:
				if !ok {
					return
				}
				select {
				case b.events <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Consume blocks until an event is available or ctx is cancelled.
func (b *Bus) Consume(ctx context.Context) (chatapi.Event, error) {
	select {
	case evt := <-b.events:
		return evt, nil
	case <-ctx.Done():
		return chatapi.Event{}, ctx.Err()
	}
}

// Wait blocks until every Pump goroutine has returned, for clean shutdown.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Pending returns the number of events buffered but not yet consumed.
func (b *Bus) Pending() int {
	return len(b.events)
}
