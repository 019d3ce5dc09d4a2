package convsocket

import "sync"

// Handler receives application messages. Handlers run on the client's control
// loop in receive order, so they should return quickly.
type Handler func(*SocketMessage)

type subscriber struct {
	id      uint64
	handler Handler
	onClose func()

	// sharer marks a client sharing this connection. It is only removed by
	// that client, not by closeAll.
	sharer bool
}

// subscribers is an ordered set of dynamic handlers.
type subscribers struct {
	mu     sync.Mutex
	nextID uint64
	list   []subscriber
}

// add registers h and returns a function removing it. onClose, if set, runs
// once when the subscription ends for any reason.
func (s *subscribers) add(h Handler, onClose func()) func() {
	return s.insert(subscriber{handler: h, onClose: onClose})
}

// addSharer registers the dispatch of a client sharing this connection.
func (s *subscribers) addSharer(h Handler) func() {
	return s.insert(subscriber{handler: h, sharer: true})
}

func (s *subscribers) insert(sub subscriber) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	sub.id = id
	s.list = append(s.list, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	var removed *subscriber
	for i := range s.list {
		if s.list[i].id == id {
			sub := s.list[i]
			removed = &sub
			s.list = append(s.list[:i], s.list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed != nil && removed.onClose != nil {
		removed.onClose()
	}
}

func (s *subscribers) handlers() []Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs := make([]Handler, len(s.list))
	for i, sub := range s.list {
		hs[i] = sub.handler
	}
	return hs
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// closeAll drops every subscription except sharers, running their onClose
// callbacks.
func (s *subscribers) closeAll() {
	s.mu.Lock()
	var closed, kept []subscriber
	for _, sub := range s.list {
		if sub.sharer {
			kept = append(kept, sub)
		} else {
			closed = append(closed, sub)
		}
	}
	s.list = kept
	s.mu.Unlock()

	for _, sub := range closed {
		if sub.onClose != nil {
			sub.onClose()
		}
	}
}

// Subscribe registers h for application messages and terminal failures.
// The subscription ends when the returned function is called or when the
// client is disconnected.
func (c *Client) Subscribe(h Handler) (unsubscribe func()) {
	return c.subs.add(h, nil)
}

// dispatch hands msg to the handlers given at construction, then to dynamic
// subscribers, in registration order.
func (c *Client) dispatch(msg *SocketMessage) {
	for _, h := range c.cfg.handlers {
		h(msg)
	}
	for _, h := range c.subs.handlers() {
		h(msg)
	}
}
