package provider

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const subscriptionBuffer = 16

// Subscription is one listener's handle. Payloads arrive on C in the order
// they were emitted; Unsubscribe detaches and closes C.
type Subscription struct {
	C chan json.RawMessage

	event string
	id    uint64
	e     *Emitter
}

func (s *Subscription) Unsubscribe() {
	s.e.remove(s)
}

// Emitter delivers provider events to listeners in registration order. A
// listener that stops draining loses events rather than stalling the rest.
type Emitter struct {
	lk     sync.Mutex
	nextID uint64
	subs   map[string][]*Subscription
	log    *zap.SugaredLogger
}

func NewEmitter(log *zap.SugaredLogger) *Emitter {
	return &Emitter{
		subs: make(map[string][]*Subscription),
		log:  log,
	}
}

func (e *Emitter) On(event string) *Subscription {
	e.lk.Lock()
	defer e.lk.Unlock()
	e.nextID++
	sub := &Subscription{
		C:     make(chan json.RawMessage, subscriptionBuffer),
		event: event,
		id:    e.nextID,
		e:     e,
	}
	e.subs[event] = append(e.subs[event], sub)
	return sub
}

func (e *Emitter) Emit(event string, payload json.RawMessage) {
	e.lk.Lock()
	subs := make([]*Subscription, len(e.subs[event]))
	copy(subs, e.subs[event])
	e.lk.Unlock()

	for _, sub := range subs {
		select {
		case sub.C <- payload:
		default:
			e.log.Warnf("listener for %s is not draining, dropping event", event)
		}
	}
}

func (e *Emitter) remove(sub *Subscription) {
	e.lk.Lock()
	defer e.lk.Unlock()
	list := e.subs[sub.event]
	for i, s := range list {
		if s.id == sub.id {
			e.subs[sub.event] = append(list[:i], list[i+1:]...)
			close(sub.C)
			return
		}
	}
}

// Close detaches every listener.
func (e *Emitter) Close() {
	e.lk.Lock()
	defer e.lk.Unlock()
	for event, list := range e.subs {
		for _, sub := range list {
			close(sub.C)
		}
		delete(e.subs, event)
	}
}
