// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive

import "sync"

// A Subscriber receives inbound method envelopes for a name it subscribed
// to. Subscribers run synchronously on the receive path in registration
// order, so a subscriber that needs to do slow work or call back into the
// client's reply-bearing send paths must hand off to another goroutine.
type Subscriber func(*Envelope)

// A Subscription is the removable registration of a Subscriber.
type Subscription struct {
	once sync.Once
	reg  *registry
	name string
	id   uint64
}

// Cancel removes the subscription from its registry. It is idempotent and
// safe to call concurrently with dispatch; a dispatch already in progress
// may still deliver one final envelope.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.reg.remove(s.name, s.id) })
}

// A registry maps method names to their subscribers, preserving
// registration order within each name.
type registry struct {
	μ      sync.Mutex
	nextID uint64
	subs   map[string][]subEntry
}

type subEntry struct {
	id uint64
	fn Subscriber
}

func newRegistry() *registry {
	return &registry{subs: make(map[string][]subEntry)}
}

func (r *registry) add(name string, fn Subscriber) *Subscription {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.nextID++
	r.subs[name] = append(r.subs[name], subEntry{id: r.nextID, fn: fn})
	return &Subscription{reg: r, name: name, id: r.nextID}
}

func (r *registry) remove(name string, id uint64) {
	r.μ.Lock()
	defer r.μ.Unlock()
	es := r.subs[name]
	for i, e := range es {
		if e.id == id {
			r.subs[name] = append(es[:i:i], es[i+1:]...)
			break
		}
	}
	if len(r.subs[name]) == 0 {
		delete(r.subs, name)
	}
}

// lookup returns the subscribers for name in registration order. The
// result is a snapshot; the caller may invoke it without holding the lock,
// and subscribers may add or cancel registrations reentrantly.
func (r *registry) lookup(name string) []Subscriber {
	r.μ.Lock()
	defer r.μ.Unlock()
	es := r.subs[name]
	if len(es) == 0 {
		return nil
	}
	fns := make([]Subscriber, len(es))
	for i, e := range es {
		fns[i] = e.fn
	}
	return fns
}
