package channel

import (
	"encoding/json"
	"sync"
)

// Subscription detaches one registered handler. Close is idempotent, so
// teardown paths can call it unconditionally.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close detaches the handler
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// NewSubscription wraps a cancel function so alternative ChannelAPI
// implementations can hand out subscriptions with the same contract
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// dispatcher routes inbound envelopes and state transitions to registered
// handlers. Handlers are keyed by id, so attaching on every view mount and
// closing the returned Subscription on unmount can never duplicate delivery.
// Dispatch is synchronous in frame-arrival order; the engine relies on that
// ordering for de-duplication and read acks.
type dispatcher struct {
	mu        sync.RWMutex
	nextId    int
	handlers  map[string]map[int]func(json.RawMessage)
	stateSubs map[int]func(State)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers:  make(map[string]map[int]func(json.RawMessage)),
		stateSubs: make(map[int]func(State)),
	}
}

func (d *dispatcher) on(event string, h func(json.RawMessage)) *Subscription {
	d.mu.Lock()
	d.nextId++
	id := d.nextId
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[int]func(json.RawMessage))
	}
	d.handlers[event][id] = h
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.handlers[event], id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) onState(h func(State)) *Subscription {
	d.mu.Lock()
	d.nextId++
	id := d.nextId
	d.stateSubs[id] = h
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.stateSubs, id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	hs := make([]func(json.RawMessage), 0, len(d.handlers[env.Event]))
	for _, h := range d.handlers[env.Event] {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(env.Data)
	}
}

func (d *dispatcher) notifyState(s State) {
	d.mu.RLock()
	hs := make([]func(State), 0, len(d.stateSubs))
	for _, h := range d.stateSubs {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(s)
	}
}
