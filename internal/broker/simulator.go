package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"qmtbridge/internal/domain"
)

// Compile-time interface check.
var _ Trader = (*SimulatorTrader)(nil)

// ErrNotStarted is returned when a simulator call is made before Start.
var ErrNotStarted = errors.New("simulator not started")

// SimulatorTrader implements Trader for paper trading and tests. Orders are
// kept in memory; acknowledgements and fills are delivered in order from a
// dispatcher goroutine, the way the real backend calls back from its own
// thread.
type SimulatorTrader struct {
	// AutoAck delivers an OrderResponse and a reported Order for each
	// submission.
	AutoAck bool

	mu        sync.Mutex
	cb        Callback
	seq       int64
	nextID    int64
	orders    map[int64]*Order
	positions map[string]*Position
	trades    []Trade
	cash      float64
	submitted []SubmitRequest
	cancelled []int64

	// Callbacks waiting for the dispatcher, oldest first. Guarded by mu so
	// that delivery order matches the order of state changes.
	queue   []func()
	closing bool
	wake    chan struct{}
	done    chan struct{}
}

// NewSimulatorTrader creates a SimulatorTrader holding the given cash.
func NewSimulatorTrader(cash float64) *SimulatorTrader {
	return &SimulatorTrader{
		AutoAck:   true,
		nextID:    1000,
		orders:    make(map[int64]*Order),
		positions: make(map[string]*Position),
		cash:      cash,
	}
}

// Name returns "simulator".
func (s *SimulatorTrader) Name() string {
	return "simulator"
}

// Start registers the callback and starts the dispatcher.
func (s *SimulatorTrader) Start(_ context.Context, _ string, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb != nil {
		return fmt.Errorf("simulator already started")
	}
	s.cb = cb
	s.queue = nil
	s.closing = false
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	go s.dispatch(s.wake, s.done)
	return nil
}

// Stop drains pending callbacks, then reports the disconnect.
func (s *SimulatorTrader) Stop() error {
	s.mu.Lock()
	cb := s.cb
	if cb == nil {
		s.mu.Unlock()
		return nil
	}
	s.cb = nil
	s.closing = true
	s.signal()
	done := s.done
	s.mu.Unlock()

	<-done
	cb.OnDisconnected()
	return nil
}

func (s *SimulatorTrader) dispatch(wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for range wake {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closing := s.closing
		s.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closing {
			return
		}
	}
}

// signal must be called with s.mu held.
func (s *SimulatorTrader) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SubmitOrder records the order in memory and assigns its native id.
func (s *SimulatorTrader) SubmitOrder(_ context.Context, req SubmitRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return 0, ErrNotStarted
	}
	if req.Volume <= 0 {
		return 0, fmt.Errorf("invalid volume %d", req.Volume)
	}
	s.seq++
	s.nextID++
	o := &Order{
		AccountID:    req.Account,
		StockCode:    req.StockCode,
		OrderID:      s.nextID,
		OrderSysID:   strconv.FormatInt(s.nextID, 10),
		OrderTime:    time.Now().Unix(),
		OrderType:    req.OrderType,
		OrderVolume:  req.Volume,
		PriceType:    req.PriceType,
		Price:        req.Price,
		OrderStatus:  OrderReported,
		StrategyName: req.Strategy,
		OrderRemark:  req.Remark,
	}
	s.orders[o.OrderID] = o
	s.submitted = append(s.submitted, req)

	if s.AutoAck {
		resp := OrderResponse{AccountID: req.Account, OrderID: o.OrderID, StrategyName: req.Strategy, OrderRemark: req.Remark, Seq: s.seq}
		snapshot := *o
		s.deliver(func(cb Callback) {
			cb.OnOrderResponse(resp)
			cb.OnOrder(snapshot)
		})
	}
	return s.seq, nil
}

// CancelOrder marks an active order as cancelled.
func (s *SimulatorTrader) CancelOrder(_ context.Context, account string, orderID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return 0, ErrNotStarted
	}
	s.seq++
	seq := s.seq
	s.cancelled = append(s.cancelled, orderID)

	o, ok := s.orders[orderID]
	if !ok || isFinalOrderStatus(o.OrderStatus) {
		cerr := CancelError{AccountID: account, OrderID: orderID, ErrorID: -1, ErrorMsg: "order not cancellable", Seq: seq}
		s.deliver(func(cb Callback) { cb.OnCancelError(cerr) })
		return seq, nil
	}
	if o.TradedVolume > 0 {
		o.OrderStatus = OrderPartCancel
	} else {
		o.OrderStatus = OrderCanceled
	}
	resp := CancelResponse{AccountID: account, OrderID: orderID, OrderSysID: o.OrderSysID, Seq: seq}
	snapshot := *o
	s.deliver(func(cb Callback) {
		cb.OnCancelResponse(resp)
		cb.OnOrder(snapshot)
	})
	return seq, nil
}

// Fill executes volume of an order at price and delivers the trade and the
// updated order.
func (s *SimulatorTrader) Fill(orderID, volume int64, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %d", orderID)
	}
	if isFinalOrderStatus(o.OrderStatus) {
		return fmt.Errorf("order %d is final", orderID)
	}
	if remaining := o.OrderVolume - o.TradedVolume; volume > remaining {
		volume = remaining
	}
	o.TradedVolume += volume
	o.TradedPrice = price
	if o.TradedVolume >= o.OrderVolume {
		o.OrderStatus = OrderSucceeded
	} else {
		o.OrderStatus = OrderPartSucc
	}

	tr := Trade{
		AccountID:    o.AccountID,
		StockCode:    o.StockCode,
		OrderType:    o.OrderType,
		TradedID:     fmt.Sprintf("%d-%d", orderID, len(s.trades)+1),
		TradedTime:   time.Now().Unix(),
		TradedPrice:  price,
		TradedVolume: volume,
		TradedAmount: price * float64(volume),
		OrderID:      orderID,
		OrderSysID:   o.OrderSysID,
		StrategyName: o.StrategyName,
		OrderRemark:  o.OrderRemark,
	}
	s.trades = append(s.trades, tr)
	s.applyPosition(tr)

	snapshot := *o
	s.deliver(func(cb Callback) {
		cb.OnTrade(tr)
		cb.OnOrder(snapshot)
	})
	return nil
}

// Reject marks an order as junk and delivers an OrderError plus the order.
func (s *SimulatorTrader) Reject(orderID int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %d", orderID)
	}
	o.OrderStatus = OrderJunk
	o.StatusMsg = msg
	oerr := OrderError{AccountID: o.AccountID, OrderID: orderID, ErrorID: -1, ErrorMsg: msg}
	snapshot := *o
	s.deliver(func(cb Callback) {
		cb.OnOrderError(oerr)
		cb.OnOrder(snapshot)
	})
	return nil
}

// QueryAsset returns the simulated asset snapshot.
func (s *SimulatorTrader) QueryAsset(_ context.Context, account string) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mv float64
	for _, p := range s.positions {
		mv += p.MarketValue
	}
	return &Asset{AccountID: account, Cash: s.cash, MarketValue: mv, TotalAsset: s.cash + mv}, nil
}

// QueryPositions returns copies of all simulated positions.
func (s *SimulatorTrader) QueryPositions(_ context.Context, _ string) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}

// QueryOrders returns copies of all simulated orders.
func (s *SimulatorTrader) QueryOrders(_ context.Context, _ string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	return orders, nil
}

// QueryTrades returns copies of all simulated fills.
func (s *SimulatorTrader) QueryTrades(_ context.Context, _ string) ([]Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades := make([]Trade, len(s.trades))
	copy(trades, s.trades)
	return trades, nil
}

// Submitted returns the submission requests received so far.
func (s *SimulatorTrader) Submitted() []SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubmitRequest, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// Cancelled returns the native ids cancel was requested for.
func (s *SimulatorTrader) Cancelled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.cancelled))
	copy(out, s.cancelled)
	return out
}

// applyPosition must be called with s.mu held.
func (s *SimulatorTrader) applyPosition(tr Trade) {
	p, ok := s.positions[tr.StockCode]
	if !ok {
		p = &Position{AccountID: tr.AccountID, StockCode: tr.StockCode}
		s.positions[tr.StockCode] = p
	}
	if DirectionFor(tr.OrderType) == domain.DirectionShort {
		p.Volume -= tr.TradedVolume
		p.CanUseVolume -= tr.TradedVolume
		s.cash += tr.TradedAmount
	} else {
		cost := p.OpenPrice*float64(p.Volume) + tr.TradedAmount
		p.Volume += tr.TradedVolume
		if p.Volume > 0 {
			p.OpenPrice = cost / float64(p.Volume)
		}
		s.cash -= tr.TradedAmount
	}
	p.MarketValue = float64(p.Volume) * tr.TradedPrice
}

// deliver queues a callback for the dispatcher. It never blocks, so a slow
// consumer cannot stall callers holding s.mu. It must be called with s.mu
// held.
func (s *SimulatorTrader) deliver(fn func(Callback)) {
	cb := s.cb
	if cb == nil {
		return
	}
	s.queue = append(s.queue, func() { fn(cb) })
	s.signal()
}

func isFinalOrderStatus(code int) bool {
	switch code {
	case OrderPartCancel, OrderCanceled, OrderSucceeded, OrderJunk:
		return true
	default:
		return false
	}
}
