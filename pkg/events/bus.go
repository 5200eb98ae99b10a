package events

import (
	"sync"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-entity pub/sub event bus with support for global subscribers.
// Game code and scripts emit structured events; each subscriber (websocket
// session, logger, test recorder) encodes them per-transport.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific entity's events.
func (b *Bus) Subscribe(entity string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[entity] = append(b.subscribers[entity], sub)
}

// Unsubscribe removes a subscriber for a specific entity.
func (b *Bus) Unsubscribe(entity string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[entity]
	for i, s := range subs {
		if s == sub {
			b.subscribers[entity] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[entity]) == 0 {
		delete(b.subscribers, entity)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the entity named in ev.Entity and all global subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Entity]
	globals := b.global
	b.mu.RUnlock()

	deliver(subs, ev)
	deliver(globals, ev)
}

// EmitToRoom sends an event to every entity located in room.
func (b *Bus) EmitToRoom(store gamedb.Store, room string, ev Event) {
	b.EmitToRoomExcept(store, room, "", ev)
}

// EmitToRoomExcept sends an event to every entity in room except one.
// Global subscribers see the event once, without a recipient.
func (b *Bus) EmitToRoomExcept(store gamedb.Store, room, except string, ev Event) {
	b.mu.RLock()
	globals := b.global
	b.mu.RUnlock()

	for _, e := range store.Contents(room) {
		if e.ID == except {
			continue
		}
		entityEv := ev
		entityEv.Entity = e.ID
		entityEv.Room = room

		b.mu.RLock()
		subs := b.subscribers[e.ID]
		b.mu.RUnlock()
		deliver(subs, entityEv)
	}

	ev.Entity = ""
	ev.Room = room
	deliver(globals, ev)
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// Subscribers returns the number of subscribers for an entity.
func (b *Bus) Subscribers(entity string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[entity])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for entity, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, entity)
		} else {
			b.subscribers[entity] = active
		}
	}

	var globals []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			globals = append(globals, s)
		}
	}
	b.global = globals
}
