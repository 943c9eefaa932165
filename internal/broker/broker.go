// Package broker defines the boundary to the QMT trading backend: the
// asynchronous trade API the gateway calls, the callbacks it delivers, and
// the code tables needed to translate between QMT and canonical values.
package broker

import "context"

// Trader abstracts the QMT asynchronous trade API. Submissions and cancels
// return a sequence number synchronously; their outcome arrives later through
// the Callback registered with Start.
type Trader interface {
	// Name returns the backend identifier (e.g. "qmt", "simulator").
	Name() string

	// Start registers cb, connects to the backend and subscribes the account.
	Start(ctx context.Context, account string, cb Callback) error

	// Stop disconnects from the backend.
	Stop() error

	// SubmitOrder places an order and returns the submission sequence number.
	SubmitOrder(ctx context.Context, req SubmitRequest) (int64, error)

	// CancelOrder requests cancellation of the order with the given native id.
	CancelOrder(ctx context.Context, account string, orderID int64) (int64, error)

	// QueryAsset returns the account's asset snapshot.
	QueryAsset(ctx context.Context, account string) (*Asset, error)

	// QueryPositions returns all positions held by the account.
	QueryPositions(ctx context.Context, account string) ([]Position, error)

	// QueryOrders returns the account's orders for the current session.
	QueryOrders(ctx context.Context, account string) ([]Order, error)

	// QueryTrades returns the account's fills for the current session.
	QueryTrades(ctx context.Context, account string) ([]Trade, error)
}

// Callback receives asynchronous events from the backend. Implementations
// must not block; the backend invokes them from its own worker threads.
type Callback interface {
	OnDisconnected()
	OnOrder(Order)
	OnTrade(Trade)
	OnPosition(Position)
	OnAsset(Asset)
	OnOrderResponse(OrderResponse)
	OnCancelResponse(CancelResponse)
	OnOrderError(OrderError)
	OnCancelError(CancelError)
}

// SubmitRequest carries the arguments of an order submission.
type SubmitRequest struct {
	Account   string
	StockCode string
	OrderType int
	PriceType int
	Volume    int64
	Price     float64
	Strategy  string
	Remark    string
}

// Order is the backend's view of an order.
type Order struct {
	AccountID    string
	StockCode    string
	OrderID      int64
	OrderSysID   string
	OrderTime    int64
	OrderType    int
	OrderVolume  int64
	PriceType    int
	Price        float64
	TradedVolume int64
	TradedPrice  float64
	OrderStatus  int
	StatusMsg    string
	StrategyName string
	OrderRemark  string
}

// Trade is a backend fill report.
type Trade struct {
	AccountID    string
	StockCode    string
	OrderType    int
	TradedID     string
	TradedTime   int64
	TradedPrice  float64
	TradedVolume int64
	TradedAmount float64
	OrderID      int64
	OrderSysID   string
	StrategyName string
	OrderRemark  string
}

// Position is a backend holding snapshot.
type Position struct {
	AccountID       string
	StockCode       string
	Volume          int64
	CanUseVolume    int64
	OpenPrice       float64
	MarketValue     float64
	FrozenVolume    int64
	OnRoadVolume    int64
	YesterdayVolume int64
}

// Asset is a backend account snapshot.
type Asset struct {
	AccountID   string
	Cash        float64
	FrozenCash  float64
	MarketValue float64
	TotalAsset  float64
}

// OrderResponse acknowledges an asynchronous submission: it pairs the
// submission sequence with the native order id.
type OrderResponse struct {
	AccountID    string
	OrderID      int64
	StrategyName string
	OrderRemark  string
	Seq          int64
}

// CancelResponse acknowledges an asynchronous cancel request.
type CancelResponse struct {
	AccountID    string
	CancelResult int
	OrderID      int64
	OrderSysID   string
	Seq          int64
}

// OrderError reports a failed order placement.
type OrderError struct {
	AccountID    string
	OrderID      int64
	ErrorID      int
	ErrorMsg     string
	StrategyName string
	OrderRemark  string
	Seq          int64
}

// CancelError reports a failed cancel request.
type CancelError struct {
	AccountID string
	OrderID   int64
	MarketID  int
	ErrorID   int
	ErrorMsg  string
	Seq       int64
}
