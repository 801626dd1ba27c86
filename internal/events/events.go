// Package events carries post-commit notifications: the case change-feed that
// keeps read models fresh, and the error channel for store failures.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind discriminates Event payloads.
type Kind string

const (
	KindCaseChanged  Kind = "case.changed"
	KindStoreFailure Kind = "store.failure"
)

// CaseChanged is published once per case after a unit of work commits.
type CaseChanged struct {
	NE     string    `json:"ne"`
	Fields []string  `json:"fields"`
	Actor  string    `json:"actor"`
	Op     string    `json:"op"`
	At     time.Time `json:"at"`
}

// StoreFailure is published when a commit is refused or the store cannot be
// reached. The same error is always returned to the caller as well.
type StoreFailure struct {
	NEs     []string  `json:"nes"`
	Op      string    `json:"op"`
	Actor   string    `json:"actor"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Event is the envelope delivered to Bus subscribers.
type Event struct {
	Kind         Kind          `json:"kind"`
	CaseChanged  *CaseChanged  `json:"caseChanged,omitempty"`
	StoreFailure *StoreFailure `json:"storeFailure,omitempty"`
}

// Publisher receives notifications from the write path. Implementations must
// not block the caller for long and must not fail the operation.
type Publisher interface {
	PublishCaseChanged(ctx context.Context, ev CaseChanged)
	PublishStoreFailure(ctx context.Context, ev StoreFailure)
}

// Handler consumes events delivered by a Bus.
type Handler func(Event)

// Bus is an in-process Publisher that fans events out to subscribers
// synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) publish(ev Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// PublishCaseChanged implements Publisher.
func (b *Bus) PublishCaseChanged(_ context.Context, ev CaseChanged) {
	b.publish(Event{Kind: KindCaseChanged, CaseChanged: &ev})
}

// PublishStoreFailure implements Publisher.
func (b *Bus) PublishStoreFailure(_ context.Context, ev StoreFailure) {
	b.publish(Event{Kind: KindStoreFailure, StoreFailure: &ev})
}

// Fanout forwards every event to each publisher in turn.
type Fanout []Publisher

// PublishCaseChanged implements Publisher.
func (f Fanout) PublishCaseChanged(ctx context.Context, ev CaseChanged) {
	for _, p := range f {
		if p != nil {
			p.PublishCaseChanged(ctx, ev)
		}
	}
}

// PublishStoreFailure implements Publisher.
func (f Fanout) PublishStoreFailure(ctx context.Context, ev StoreFailure) {
	for _, p := range f {
		if p != nil {
			p.PublishStoreFailure(ctx, ev)
		}
	}
}

// Recorder is a Publisher that keeps every event, for tests.
type Recorder struct {
	mu       sync.Mutex
	Changes  []CaseChanged
	Failures []StoreFailure
}

// PublishCaseChanged implements Publisher.
func (r *Recorder) PublishCaseChanged(_ context.Context, ev CaseChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Changes = append(r.Changes, ev)
}

// PublishStoreFailure implements Publisher.
func (r *Recorder) PublishStoreFailure(_ context.Context, ev StoreFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, ev)
}

// Snapshot returns copies of the recorded events.
func (r *Recorder) Snapshot() ([]CaseChanged, []StoreFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CaseChanged(nil), r.Changes...), append([]StoreFailure(nil), r.Failures...)
}
