package events

import (
	"sync"

	"custodia/core/types"
)

// Record pairs a committed event with its position in the outbox. Sequence
// numbers start at 1 and increase by one per committed event.
type Record struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Outbox is an ordered log of committed domain events. State transitions
// append to it only after the owning operation has committed, so consumers
// never observe events for rolled-back transitions. Mirrors either poll with
// After or subscribe for push delivery.
type Outbox struct {
	mu   sync.RWMutex
	log  []Record
	next uint64
	subs []chan Record
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{next: 1}
}

// Append stores the event at the next sequence position and fans it out to
// subscribers. Nil events are ignored.
func (o *Outbox) Append(evt *types.Event) uint64 {
	if o == nil || evt == nil {
		return 0
	}
	o.mu.Lock()
	rec := Record{Sequence: o.next, Event: evt}
	o.log = append(o.log, rec)
	o.next++
	subs := append([]chan Record(nil), o.subs...)
	o.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
			// Slow subscribers fall back to polling with After.
		}
	}
	return rec.Sequence
}

// After returns every record with a sequence strictly greater than cursor, in
// order. A cursor of zero returns the full log.
func (o *Outbox) After(cursor uint64) []Record {
	if o == nil {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if cursor >= o.next-1 {
		return nil
	}
	idx := int(cursor)
	if idx > len(o.log) {
		idx = len(o.log)
	}
	out := make([]Record, len(o.log)-idx)
	copy(out, o.log[idx:])
	return out
}

// Latest reports the sequence of the most recently committed event, or zero
// when the outbox is empty.
func (o *Outbox) Latest() uint64 {
	if o == nil {
		return 0
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.next - 1
}

// Subscribe registers a buffered channel receiving future records. The
// returned cancel function removes the subscription and closes the channel.
func (o *Outbox) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	o.mu.Lock()
	o.subs = append(o.subs, ch)
	o.mu.Unlock()
	cancel := func() {
		o.mu.Lock()
		for i, sub := range o.subs {
			if sub == ch {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				break
			}
		}
		o.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}
