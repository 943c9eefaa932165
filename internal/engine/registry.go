package engine

import "qmtbridge/internal/domain"

// Registry holds the current state of every order the engine has seen in
// this process, keyed by handle. Orders are never evicted.
//
// Like IDMap, Registry is owned by the Engine's event loop and is not safe
// for concurrent use.
type Registry struct {
	orders map[string]*domain.Order
	order  []string // handles in first-seen order
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{orders: make(map[string]*domain.Order)}
}

// Put stores a copy of o, replacing any previous state for o.Handle.
func (r *Registry) Put(o domain.Order) {
	if cur, ok := r.orders[o.Handle]; ok {
		*cur = o
		return
	}
	r.orders[o.Handle] = &o
	r.order = append(r.order, o.Handle)
}

// Get returns a copy of the order stored under handle.
func (r *Registry) Get(handle string) (domain.Order, bool) {
	o, ok := r.orders[handle]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// List returns copies of all orders in the order they were first stored.
func (r *Registry) List() []domain.Order {
	out := make([]domain.Order, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, *r.orders[h])
	}
	return out
}

// Len returns the number of orders held.
func (r *Registry) Len() int {
	return len(r.orders)
}
