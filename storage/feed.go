package storage

import (
	"moonletter/gateway"
)

// subscriber delivers events on its own goroutine so a slow consumer cannot
// block writes, while the buffered channel preserves delivery order.
type subscriber struct {
	events chan gateway.Event
	done   chan struct{}
}

// Subscribe registers a change-feed consumer for the whole collection.
// Events are delivered in the order the store applied them.
func (s *Store) Subscribe(onEvent func(gateway.Event)) (gateway.Unsubscribe, error) {
	sub := &subscriber{
		events: make(chan gateway.Event, 128),
		done:   make(chan struct{}),
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.subMu.Unlock()

	go func() {
		for {
			select {
			case event := <-sub.events:
				onEvent(event)
			case <-sub.done:
				return
			}
		}
	}()

	var once bool
	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, id)
		close(sub.done)
	}
	return unsubscribe, nil
}

func (s *Store) emit(event gateway.Event) {
	s.subMu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.events <- event:
		case <-sub.done:
		}
	}
}

func (s *Store) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.done)
	}
}
