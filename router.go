package convsocket

import "sync"

// Router dispatches messages to handlers by message type. Its Handle method
// is itself a Handler, so a Router can be passed to WithHandler or Subscribe.
type Router struct {
	mu       sync.RWMutex
	routes   map[MessageType]Handler
	fallback Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		routes: make(map[MessageType]Handler),
	}
}

// On registers h for messages of type t, replacing any previous handler.
func (r *Router) On(t MessageType, h Handler) *Router {
	r.mu.Lock()
	r.routes[t] = h
	r.mu.Unlock()
	return r
}

// OnTerminal registers h for failures generated by the client itself, such as
// an exhausted retry budget. Without it those go to the error route.
func (r *Router) OnTerminal(h Handler) *Router {
	return r.On(terminalRoute, h)
}

// Fallback sets the handler for message types without a route.
func (r *Router) Fallback(h Handler) *Router {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
	return r
}

// Handle routes msg.
func (r *Router) Handle(msg *SocketMessage) {
	r.mu.RLock()
	h, ok := r.route(msg)
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()

	if h != nil {
		h(msg)
	}
}

// terminalRoute is an internal key never sent on the wire.
const terminalRoute MessageType = "\x00terminal"

func (r *Router) route(msg *SocketMessage) (Handler, bool) {
	if TerminalError(msg) != nil {
		if h, ok := r.routes[terminalRoute]; ok {
			return h, true
		}
	}
	h, ok := r.routes[msg.Type]
	return h, ok
}
