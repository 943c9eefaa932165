// Package event carries normalized gateway events (orders, trades, positions,
// accounts and catalog metadata) from the engine to outward consumers.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"qmtbridge/internal/domain"
)

// Kind identifies the payload carried by an Event.
type Kind string

const (
	KindOrder     Kind = "order"
	KindTrade     Kind = "trade"
	KindPosition  Kind = "position"
	KindAccount   Kind = "account"
	KindContract  Kind = "contract"
	KindComponent Kind = "basket_component"
)

// Event is a single outward notification. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind      Kind                    `json:"kind"`
	Time      time.Time               `json:"time"`
	Order     *domain.Order           `json:"order,omitempty"`
	Trade     *domain.Trade           `json:"trade,omitempty"`
	Position  *domain.Position        `json:"position,omitempty"`
	Account   *domain.Account         `json:"account,omitempty"`
	Contract  *domain.Contract        `json:"contract,omitempty"`
	Component *domain.BasketComponent `json:"component,omitempty"`
}

// OrderEvent wraps a copy of o.
func OrderEvent(o domain.Order, at time.Time) Event {
	return Event{Kind: KindOrder, Time: at, Order: &o}
}

// TradeEvent wraps a copy of t.
func TradeEvent(t domain.Trade, at time.Time) Event {
	return Event{Kind: KindTrade, Time: at, Trade: &t}
}

// PositionEvent wraps a copy of p.
func PositionEvent(p domain.Position, at time.Time) Event {
	return Event{Kind: KindPosition, Time: at, Position: &p}
}

// AccountEvent wraps a copy of a.
func AccountEvent(a domain.Account, at time.Time) Event {
	return Event{Kind: KindAccount, Time: at, Account: &a}
}

// ContractEvent wraps a copy of c.
func ContractEvent(c domain.Contract, at time.Time) Event {
	return Event{Kind: KindContract, Time: at, Contract: &c}
}

// ComponentEvent wraps a copy of c.
func ComponentEvent(c domain.BasketComponent, at time.Time) Event {
	return Event{Kind: KindComponent, Time: at, Component: &c}
}

// Publisher accepts outward events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Compile-time interface check.
var _ Publisher = (*Bus)(nil)

// Bus fans events out to subscribers. Delivery is fire-and-forget: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers evt to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.published.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
			b.dropped.Add(1)
		}
	}
}

// Subscribe creates a new subscription channel with the given buffer size.
func (b *Bus) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextID
	b.nextID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel. Unknown ids are
// ignored.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Stats returns the number of events published and the number of
// per-subscriber deliveries dropped.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
