package stream

import (
	"context"
	"sync"
	"time"
)

// ClaimEvent describes one executed claim for live consumers (SSE clients,
// dashboards). Amounts are in the token's smallest unit.
type ClaimEvent struct {
	Company     string    `json:"company"`
	Beneficiary string    `json:"beneficiary"`
	Amount      uint64    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stream fan-outs claim events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ClaimEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ClaimEvent)}
}

// Subscribe registers a subscriber and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ClaimEvent {
	ch := make(chan ClaimEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. Slow subscribers drop
// events rather than block the claim path.
func (s *Stream) Publish(evt ClaimEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
