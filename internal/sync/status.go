package sync

import (
	stdsync "sync"
	"time"
)

const eventBufferSize = 16

// EventPhase is the lifecycle phase of one action during execution.
type EventPhase string

const (
	PhaseQueued    EventPhase = "queued"
	PhaseStarted   EventPhase = "started"
	PhaseSucceeded EventPhase = "succeeded"
	PhaseFailed    EventPhase = "failed"
	PhaseSkipped   EventPhase = "skipped"
)

// Event is one progress notification for an action. ActionID is stable
// across analyses so subscribers can re-render idempotently.
type Event struct {
	ActionID    string
	DisplayName string
	RelPath     string
	Phase       EventPhase
	Bytes       int64
	Attempts    int
	Err         error
	At          time.Time
}

// StatusBus broadcasts execution events to subscribers. Slow subscribers
// lose events rather than blocking the workers.
type StatusBus struct {
	mu   stdsync.RWMutex
	subs []chan *Event
}

func NewStatusBus() *StatusBus {
	return &StatusBus{}
}

// Subscribe returns a buffered channel of execution events.
func (b *StatusBus) Subscribe() <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, eventBufferSize)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *StatusBus) Unsubscribe(ch <-chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			close(sub)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

func (b *StatusBus) publish(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev.At = time.Now()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			// subscriber is behind, drop
		}
	}
}

// Publish emits one event for an action.
func (b *StatusBus) Publish(a *Action, phase EventPhase, bytes int64, attempts int, err error) {
	b.publish(&Event{
		ActionID:    a.ID,
		DisplayName: a.Item.DisplayName,
		RelPath:     a.RelPath,
		Phase:       phase,
		Bytes:       bytes,
		Attempts:    attempts,
		Err:         err,
	})
}

// Close terminates all subscriptions.
func (b *StatusBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
