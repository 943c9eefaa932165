// Package domain defines the canonical order, trade, position and account
// types shared by every layer of the gateway.
package domain

import (
	"fmt"
	"time"
)

// Exchange identifies a listing venue.
type Exchange string

const (
	ExchangeSSE  Exchange = "SSE"
	ExchangeSZSE Exchange = "SZSE"
)

// Direction is the side of an order, trade or position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Offset is the position effect of an order. A-share cash equities only use
// OffsetNone; the field is carried through for front-ends that require it.
type Offset string

const (
	OffsetNone  Offset = ""
	OffsetOpen  Offset = "open"
	OffsetClose Offset = "close"
)

// OrderKind selects how an order reaches the backend.
type OrderKind string

const (
	// OrderKindNormal is a plain buy or sell sent through the trade API.
	OrderKindNormal OrderKind = "normal"
	// OrderKindPurchase subscribes a basket instrument (ETF creation).
	OrderKindPurchase OrderKind = "purchase"
	// OrderKindRedemption redeems a basket instrument into its constituents.
	OrderKindRedemption OrderKind = "redemption"
)

// IsCreationRedemption reports whether the kind settles as a basket.
func (k OrderKind) IsCreationRedemption() bool {
	return k == OrderKindPurchase || k == OrderKindRedemption
}

// PriceType is the pricing instruction attached to an order.
type PriceType string

const (
	PriceTypeLimit       PriceType = "limit"
	PriceTypeMarket      PriceType = "market"
	PriceTypeBestOrLimit PriceType = "best_or_limit"
)

// Status is the canonical order lifecycle state.
type Status string

const (
	StatusSubmitting Status = "submitting"
	StatusPartTraded Status = "parttraded"
	StatusAllTraded  Status = "alltraded"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Product classifies a tradable instrument.
type Product string

const (
	ProductEquity Product = "equity"
	ProductETF    Product = "etf"
	ProductBond   Product = "bond"
	ProductIndex  Product = "index"
)

// VTSymbol joins a symbol and exchange into the "600000.SSE" form used as a
// global instrument key.
func VTSymbol(symbol string, exchange Exchange) string {
	return fmt.Sprintf("%s.%s", symbol, exchange)
}

// OrderRequest is what a front-end asks the gateway to place.
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	Kind      OrderKind `json:"kind"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset,omitempty"`
	Type      PriceType `json:"type"`
	Volume    int64     `json:"volume"`
	Price     float64   `json:"price"`
	Reference string    `json:"reference,omitempty"`
}

// VTSymbol returns the request's instrument key.
func (r OrderRequest) VTSymbol() string { return VTSymbol(r.Symbol, r.Exchange) }

// Validate checks the fields every submission path needs.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Exchange != ExchangeSSE && r.Exchange != ExchangeSZSE {
		return fmt.Errorf("unsupported exchange %q", r.Exchange)
	}
	if r.Volume <= 0 {
		return fmt.Errorf("volume must be positive, got %d", r.Volume)
	}
	switch r.Kind {
	case OrderKindNormal, "":
		if r.Direction != DirectionLong && r.Direction != DirectionShort {
			return fmt.Errorf("unsupported direction %q", r.Direction)
		}
	case OrderKindPurchase, OrderKindRedemption:
	default:
		return fmt.Errorf("unsupported order kind %q", r.Kind)
	}
	return nil
}

// Order is the gateway's view of one order. Only the reconciliation engine
// mutates it; everything else receives copies.
type Order struct {
	Handle      string    `json:"handle"`
	GatewayName string    `json:"gateway"`
	Symbol      string    `json:"symbol"`
	Exchange    Exchange  `json:"exchange"`
	Kind        OrderKind `json:"kind"`
	Direction   Direction `json:"direction"`
	Offset      Offset    `json:"offset,omitempty"`
	Type        PriceType `json:"type"`
	Volume      int64     `json:"volume"`
	Price       float64   `json:"price"`
	Traded      int64     `json:"traded"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VTSymbol returns the order's instrument key.
func (o *Order) VTSymbol() string { return VTSymbol(o.Symbol, o.Exchange) }

// IsActive reports whether the order can still change.
func (o *Order) IsActive() bool { return !o.Status.IsTerminal() }

// Trade is a single fill. Trades are emitted once and never mutated.
type Trade struct {
	TradeID     string    `json:"trade_id"`
	Handle      string    `json:"handle"`
	GatewayName string    `json:"gateway"`
	Symbol      string    `json:"symbol"`
	Exchange    Exchange  `json:"exchange"`
	Direction   Direction `json:"direction"`
	Price       float64   `json:"price"`
	Volume      int64     `json:"volume"`
	Time        time.Time `json:"time"`
}

// VTSymbol returns the trade's instrument key.
func (t *Trade) VTSymbol() string { return VTSymbol(t.Symbol, t.Exchange) }

// Position is a holding snapshot as reported by the backend.
type Position struct {
	GatewayName string    `json:"gateway"`
	Symbol      string    `json:"symbol"`
	Exchange    Exchange  `json:"exchange"`
	Direction   Direction `json:"direction"`
	Product     Product   `json:"product,omitempty"`
	Volume      int64     `json:"volume"`
	YdVolume    int64     `json:"yd_volume"`
	SellAble    int64     `json:"sell_able"`
	Price       float64   `json:"price"`
	PnL         float64   `json:"pnl"`
}

// Account is a cash/asset snapshot of the trading account.
type Account struct {
	GatewayName string  `json:"gateway"`
	AccountID   string  `json:"account_id"`
	Balance     float64 `json:"balance"`
	Frozen      float64 `json:"frozen"`
	Available   float64 `json:"available"`
	MarketValue float64 `json:"market_value"`
}

// Contract is static instrument metadata.
type Contract struct {
	Symbol    string   `json:"symbol" yaml:"symbol"`
	Exchange  Exchange `json:"exchange" yaml:"exchange"`
	Name      string   `json:"name" yaml:"name"`
	Product   Product  `json:"product" yaml:"product"`
	PriceTick float64  `json:"price_tick" yaml:"price_tick"`
	Size      int64    `json:"size" yaml:"size"`
	MinVolume int64    `json:"min_volume" yaml:"min_volume"`
}

// VTSymbol returns the contract's instrument key.
func (c *Contract) VTSymbol() string { return VTSymbol(c.Symbol, c.Exchange) }

// BasketComponent is one constituent of a basket instrument. Share is the
// number of constituent units per basket unit.
type BasketComponent struct {
	Basket   string   `json:"basket" yaml:"basket"`
	Symbol   string   `json:"symbol" yaml:"symbol"`
	Exchange Exchange `json:"exchange" yaml:"exchange"`
	Share    float64  `json:"share" yaml:"share"`
}
