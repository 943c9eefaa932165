// Package store keeps a queryable record of the events the gateway has
// published: every order state it passed through and every fill. Nothing is
// kept beyond the lifetime of the process.
package store

import (
	"context"
	"time"

	"qmtbridge/internal/domain"
)

// OrderSnapshot is one recorded state of an order.
type OrderSnapshot struct {
	Handle  string        `json:"handle"`
	Status  domain.Status `json:"status"`
	Traded  int64         `json:"traded"`
	Price   float64       `json:"price"`
	Message string        `json:"message,omitempty"`
	At      time.Time     `json:"at"`
}

// TradeFilter narrows ListTrades. Zero fields match everything.
type TradeFilter struct {
	Handle string
	Symbol string
	Limit  int
}

// OrderJournal records and replays order state changes.
type OrderJournal interface {
	// RecordOrder appends the given order state to the order's history.
	RecordOrder(ctx context.Context, o domain.Order) error

	// OrderHistory returns the recorded states of an order, oldest first.
	OrderHistory(ctx context.Context, handle string) ([]OrderSnapshot, error)
}

// TradeJournal records and lists fills.
type TradeJournal interface {
	// RecordTrade appends a fill.
	RecordTrade(ctx context.Context, t domain.Trade) error

	// ListTrades returns fills matching f, oldest first.
	ListTrades(ctx context.Context, f TradeFilter) ([]domain.Trade, error)
}
