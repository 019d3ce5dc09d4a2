package convsocket

import "sync"

// Owner is a registry entry. The client registered for a channel is its owner.
type Owner interface {
	Connected() bool
}

// Registry tracks which owner holds the live connection for each channel kind.
type Registry interface {
	// Register claims kind for owner. It reports false when a different
	// owner already holds the slot; re-registering the current owner succeeds.
	Register(kind ChannelKind, owner Owner) bool

	// Unregister releases kind if owner holds it and is a no-op otherwise.
	Unregister(kind ChannelKind, owner Owner)

	Lookup(kind ChannelKind) (Owner, bool)
}

// ChannelRegistry is the in-memory Registry.
type ChannelRegistry struct {
	mu     sync.Mutex
	owners map[ChannelKind]Owner
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *ChannelRegistry {
	return &ChannelRegistry{owners: make(map[ChannelKind]Owner)}
}

// DefaultRegistry returns the process-wide registry used by clients that were
// not given one with WithRegistry.
func DefaultRegistry() *ChannelRegistry {
	return defaultRegistry
}

func (r *ChannelRegistry) Register(kind ChannelKind, owner Owner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.owners[kind]; ok && current != owner {
		return false
	}
	r.owners[kind] = owner
	return true
}

func (r *ChannelRegistry) Unregister(kind ChannelKind, owner Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.owners[kind]; ok && current == owner {
		delete(r.owners, kind)
	}
}

func (r *ChannelRegistry) Lookup(kind ChannelKind) (Owner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[kind]
	return owner, ok
}

// owns reports whether owner currently holds kind in r.
func owns(r Registry, kind ChannelKind, owner Owner) bool {
	current, ok := r.Lookup(kind)
	return ok && current == owner
}
