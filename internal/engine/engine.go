// Package engine reconciles order state between the gateway and the QMT
// backend. Orders reach the backend through the trade API or the file-order
// workflow; confirmations come back through trader callbacks and export-file
// rows, in no particular order. The Engine merges all of them into one view
// of each order and publishes normalized events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"qmtbridge/internal/broker"
	"qmtbridge/internal/domain"
	"qmtbridge/internal/event"
	"qmtbridge/internal/exchange"
)

var (
	// ErrUnknownOrder is returned for a handle the engine has never issued.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrOrderTerminal is returned when cancelling an order that is already
	// filled, cancelled or rejected.
	ErrOrderTerminal = errors.New("order is in a terminal state")
	// ErrCancelPending is returned when the backend id of an order is not
	// known yet. The cancel is queued and forwarded once the id arrives.
	ErrCancelPending = errors.New("cancel queued until backend order id is known")
	// ErrStopped is returned by calls made after the engine has stopped.
	ErrStopped = errors.New("engine stopped")
	// ErrNoBasket is returned when a basket has no known components.
	ErrNoBasket = errors.New("no components for basket")
	// ErrInvalidRequest is returned for order or basket requests that fail
	// validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// OrderWriter appends file orders for the terminal's batch workflow.
type OrderWriter interface {
	WriteOrder(ctx context.Context, o exchange.FileOrder) error
}

// NoteSource issues correlation tokens for file orders.
type NoteSource interface {
	Next() string
}

// Catalog supplies instrument metadata and basket compositions.
type Catalog interface {
	Contract(vtSymbol string) (domain.Contract, bool)
	Components(basketVTSymbol string) []domain.BasketComponent
	Contracts() []domain.Contract
	AllComponents() []domain.BasketComponent
}

// Options wires an Engine to its collaborators. Trader and Publisher are
// required; Files and Notes are required for creation/redemption orders.
type Options struct {
	Gateway  string
	Account  string
	Strategy string

	Trader    broker.Trader
	Files     OrderWriter
	Notes     NoteSource
	Catalog   Catalog
	Risk      *RiskManager
	Publisher event.Publisher
	Logger    *slog.Logger
}

// Compile-time interface check.
var _ broker.Callback = (*Engine)(nil)

const inboxSize = 4096

type tradeKey struct {
	Handle  string
	TradeID string
}

// update is a confirmation reduced to the fields the engine merges.
type update struct {
	status  domain.Status
	traded  int64
	price   float64
	message string
	source  string
}

// Engine is a single-consumer actor. Every mutation of the registry and the
// id map happens on the goroutine running Run: commands are sent in through
// do and wait for their result; callbacks and file rows are sent in through
// post and never wait. Events for one handle are applied in the order they
// reach the inbox and the last applied state wins.
type Engine struct {
	gateway  string
	account  string
	strategy string

	trader  broker.Trader
	files   OrderWriter
	notes   NoteSource
	catalog Catalog
	risk    *RiskManager
	pub     event.Publisher
	log     *slog.Logger
	now     func() time.Time

	registry       *Registry
	ids            *IDMap
	seenTrades     map[tradeKey]struct{}
	pendingCancels map[string]struct{}

	inbox    chan func()
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an Engine. Call Run to start processing.
func NewEngine(opts Options) *Engine {
	gateway := opts.Gateway
	if gateway == "" {
		gateway = "QMT"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gateway:        gateway,
		account:        opts.Account,
		strategy:       opts.Strategy,
		trader:         opts.Trader,
		files:          opts.Files,
		notes:          opts.Notes,
		catalog:        opts.Catalog,
		risk:           opts.Risk,
		pub:            opts.Publisher,
		log:            logger.With("component", "engine", "gateway", gateway),
		now:            time.Now,
		registry:       NewRegistry(),
		ids:            NewIDMap(),
		seenTrades:     make(map[tradeKey]struct{}),
		pendingCancels: make(map[string]struct{}),
		inbox:          make(chan func(), inboxSize),
		stopped:        make(chan struct{}),
	}
}

// Gateway returns the gateway name used as the handle prefix.
func (e *Engine) Gateway() string { return e.gateway }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Run connects the trader, publishes the catalog and processes events until
// ctx is cancelled. The trader is stopped before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.trader.Start(ctx, e.account, e); err != nil {
		e.stop()
		return fmt.Errorf("starting trader %s: %w", e.trader.Name(), err)
	}
	e.log.Info("engine started", "trader", e.trader.Name(), "account", e.account)
	e.publishCatalog()

	for {
		select {
		case <-ctx.Done():
			e.stop()
			if err := e.trader.Stop(); err != nil {
				e.log.Warn("stopping trader", "error", err)
			}
			e.log.Info("engine stopped", "orders", e.registry.Len())
			return nil
		case fn := <-e.inbox:
			fn()
		}
	}
}

func (e *Engine) stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// do runs fn on the event loop and waits for it to finish. fn runs at most
// once and only if do has not already given up on it: when do returns an
// error, fn did not run, and when fn ran, do waits for it and returns nil.
func (e *Engine) do(ctx context.Context, fn func()) error {
	var claimed atomic.Bool
	done := make(chan struct{})
	run := func() {
		if claimed.CompareAndSwap(false, true) {
			fn()
		}
		close(done)
	}
	select {
	case e.inbox <- run:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	var err error
	select {
	case <-done:
		return nil
	case <-e.stopped:
		err = ErrStopped
	case <-ctx.Done():
		err = ctx.Err()
	}
	if claimed.CompareAndSwap(false, true) {
		return err
	}
	<-done
	return nil
}

// post queues fn on the event loop without waiting. Work posted after the
// engine stops is discarded.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.stopped:
	}
}

func (e *Engine) publish(evt event.Event) {
	if e.pub != nil {
		e.pub.Publish(evt)
	}
}

func (e *Engine) publishCatalog() {
	if e.catalog == nil {
		return
	}
	at := e.now()
	for _, c := range e.catalog.Contracts() {
		e.publish(event.ContractEvent(c, at))
	}
	for _, c := range e.catalog.AllComponents() {
		e.publish(event.ComponentEvent(c, at))
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// SendOrder submits req and returns the handle of the new order. The order
// is registered as submitting before SendOrder returns. If the file-order
// write fails the order is marked rejected and the error is returned along
// with its handle.
func (e *Engine) SendOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if req.Kind == "" {
		req.Kind = domain.OrderKindNormal
	}
	if req.Type == "" {
		req.Type = domain.PriceTypeLimit
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if e.risk != nil {
		var contract *domain.Contract
		if e.catalog != nil {
			if c, ok := e.catalog.Contract(req.VTSymbol()); ok {
				contract = &c
			}
		}
		if err := e.risk.CheckOrder(ctx, req, contract); err != nil {
			return "", err
		}
	}

	var (
		handle string
		err    error
	)
	if derr := e.do(ctx, func() { handle, err = e.submit(ctx, req) }); derr != nil {
		return "", derr
	}
	return handle, err
}

// BasketRequest asks for every constituent of a basket to be bought or sold
// in proportion to Volume basket units.
type BasketRequest struct {
	Symbol    string           `json:"symbol"`
	Exchange  domain.Exchange  `json:"exchange"`
	Direction domain.Direction `json:"direction"`
	Volume    int64            `json:"volume"`
	Reference string           `json:"reference,omitempty"`
}

// SendBasketOrder splits a basket into normal constituent orders. Components
// listed on another exchange or rounding to zero volume are skipped. The
// handles of accepted orders are returned together with any submission
// errors.
func (e *Engine) SendBasketOrder(ctx context.Context, req BasketRequest) ([]string, error) {
	if req.Direction != domain.DirectionLong && req.Direction != domain.DirectionShort {
		return nil, fmt.Errorf("%w: unsupported direction %q", ErrInvalidRequest, req.Direction)
	}
	if req.Volume <= 0 {
		return nil, fmt.Errorf("%w: volume must be positive, got %d", ErrInvalidRequest, req.Volume)
	}
	basket := domain.VTSymbol(req.Symbol, req.Exchange)
	var comps []domain.BasketComponent
	if e.catalog != nil {
		comps = e.catalog.Components(basket)
	}
	if len(comps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBasket, basket)
	}

	var (
		handles []string
		errs    []error
	)
	for _, c := range comps {
		vol := int64(c.Share * float64(req.Volume))
		if vol <= 0 || c.Exchange != req.Exchange {
			continue
		}
		h, err := e.SendOrder(ctx, domain.OrderRequest{
			Symbol:    c.Symbol,
			Exchange:  c.Exchange,
			Kind:      domain.OrderKindNormal,
			Direction: req.Direction,
			Type:      domain.PriceTypeBestOrLimit,
			Volume:    vol,
			Reference: req.Reference,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain.VTSymbol(c.Symbol, c.Exchange), err))
			continue
		}
		handles = append(handles, h)
	}
	e.log.Info("basket order split", "basket", basket, "components", len(comps), "sent", len(handles))
	return handles, errors.Join(errs...)
}

// CancelOrder asks the backend to cancel the order with the given handle.
// If the backend id is not known yet the cancel is queued and
// ErrCancelPending is returned.
func (e *Engine) CancelOrder(ctx context.Context, handle string) error {
	var err error
	if derr := e.do(ctx, func() { err = e.cancel(ctx, handle) }); derr != nil {
		return derr
	}
	return err
}

// Order returns the current state of one order.
func (e *Engine) Order(ctx context.Context, handle string) (domain.Order, error) {
	var (
		o  domain.Order
		ok bool
	)
	if err := e.do(ctx, func() { o, ok = e.registry.Get(handle) }); err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, handle)
	}
	return o, nil
}

// Orders returns every order seen in this process, oldest first.
func (e *Engine) Orders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	if err := e.do(ctx, func() { out = e.registry.List() }); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Submission (event loop only)
// ---------------------------------------------------------------------------

func (e *Engine) directHandle(seq int64) string {
	return e.gateway + "." + strconv.FormatInt(seq, 10)
}

func (e *Engine) newOrder(handle string, req domain.OrderRequest) domain.Order {
	at := e.now()
	dir := req.Direction
	if req.Kind.IsCreationRedemption() {
		dir = broker.DirectionFor(broker.OrderTypeFor(req.Kind, req.Direction))
	}
	return domain.Order{
		Handle:      handle,
		GatewayName: e.gateway,
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		Kind:        req.Kind,
		Direction:   dir,
		Offset:      req.Offset,
		Type:        req.Type,
		Volume:      req.Volume,
		Price:       req.Price,
		Status:      domain.StatusSubmitting,
		Reference:   req.Reference,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func (e *Engine) submit(ctx context.Context, req domain.OrderRequest) (string, error) {
	code, err := broker.ToCode(req.Symbol, req.Exchange)
	if err != nil {
		return "", err
	}
	if RouteFor(req) == PathFile {
		return e.submitFile(ctx, req, code)
	}
	return e.submitDirect(ctx, req, code)
}

func (e *Engine) submitDirect(ctx context.Context, req domain.OrderRequest, code string) (string, error) {
	seq, err := e.trader.SubmitOrder(ctx, broker.SubmitRequest{
		Account:   e.account,
		StockCode: code,
		OrderType: broker.OrderTypeFor(req.Kind, req.Direction),
		PriceType: broker.PriceTypeFor(req.Type, req.Exchange),
		Volume:    req.Volume,
		Price:     req.Price,
		Strategy:  e.strategy,
		Remark:    req.Reference,
	})
	if err != nil {
		return "", fmt.Errorf("submitting %s: %w", req.VTSymbol(), err)
	}
	if seq <= 0 {
		return "", fmt.Errorf("submitting %s: backend returned sequence %d", req.VTSymbol(), seq)
	}

	o := e.newOrder(e.directHandle(seq), req)
	e.registry.Put(o)
	e.publish(event.OrderEvent(o, o.CreatedAt))
	e.log.Info("order submitted", "handle", o.Handle, "path", PathDirect.String(), "symbol", o.VTSymbol(),
		"direction", o.Direction, "volume", o.Volume, "price", o.Price)
	return o.Handle, nil
}

func (e *Engine) submitFile(ctx context.Context, req domain.OrderRequest, code string) (string, error) {
	if e.files == nil || e.notes == nil {
		return "", errors.New("file-order workflow is not configured")
	}
	o := e.newOrder(e.notes.Next(), req)
	e.registry.Put(o)

	err := e.files.WriteOrder(ctx, exchange.FileOrder{
		OrderType: broker.OrderTypeFor(req.Kind, req.Direction),
		PriceType: broker.PriceTypeFor(req.Type, req.Exchange),
		Price:     req.Price,
		StockCode: code,
		Volume:    req.Volume,
		Account:   e.account,
		Strategy:  e.strategy,
		Note:      o.Handle,
	})
	if err != nil {
		o.Status = domain.StatusRejected
		o.Message = err.Error()
		o.UpdatedAt = e.now()
		e.registry.Put(o)
		e.publish(event.OrderEvent(o, o.UpdatedAt))
		e.log.Warn("file order write failed", "handle", o.Handle, "symbol", o.VTSymbol(), "error", err)
		return o.Handle, fmt.Errorf("writing file order %s: %w", o.Handle, err)
	}

	e.publish(event.OrderEvent(o, o.CreatedAt))
	e.log.Info("order submitted", "handle", o.Handle, "path", PathFile.String(), "symbol", o.VTSymbol(),
		"kind", o.Kind, "volume", o.Volume)
	return o.Handle, nil
}

func (e *Engine) cancel(ctx context.Context, handle string) error {
	o, ok := e.registry.Get(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, handle)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrOrderTerminal, handle, o.Status)
	}
	native, ok := e.ids.Native(handle)
	if !ok {
		e.pendingCancels[handle] = struct{}{}
		e.log.Info("cancel queued", "handle", handle)
		return fmt.Errorf("%w: %s", ErrCancelPending, handle)
	}
	return e.forwardCancel(ctx, handle, native)
}

func (e *Engine) forwardCancel(ctx context.Context, handle, native string) error {
	id, err := strconv.ParseInt(native, 10, 64)
	if err != nil {
		return fmt.Errorf("cancelling %s: backend id %q is not numeric", handle, native)
	}
	if _, err := e.trader.CancelOrder(ctx, e.account, id); err != nil {
		return fmt.Errorf("cancelling %s: %w", handle, err)
	}
	e.log.Info("cancel sent", "handle", handle, "native_id", native)
	return nil
}

// flushCancel forwards a queued cancel once the order's native id is known.
func (e *Engine) flushCancel(handle string) {
	if _, ok := e.pendingCancels[handle]; !ok {
		return
	}
	o, _ := e.registry.Get(handle)
	if o.Status.IsTerminal() {
		delete(e.pendingCancels, handle)
		e.log.Info("queued cancel dropped", "handle", handle, "status", o.Status)
		return
	}
	native, ok := e.ids.Native(handle)
	if !ok {
		return
	}
	delete(e.pendingCancels, handle)
	if err := e.forwardCancel(context.Background(), handle, native); err != nil {
		e.log.Warn("queued cancel failed", "handle", handle, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Merge (event loop only)
// ---------------------------------------------------------------------------

// applyUpdate merges u into the order stored under handle and publishes the
// result. Updates that change none of status, traded volume and price are
// suppressed. Traded volume never decreases. Terminal orders are not
// modified; a late update that would change one is logged as an anomaly.
func (e *Engine) applyUpdate(handle string, u update) {
	cur, ok := e.registry.Get(handle)
	if !ok {
		e.log.Debug("update for unknown order dropped", "handle", handle, "source", u.source)
		return
	}

	next := cur
	next.Status = u.status
	if u.traded > next.Traded {
		next.Traded = u.traded
	} else if u.traded < next.Traded {
		e.log.Debug("stale traded volume ignored", "handle", handle, "traded", u.traded, "have", cur.Traded)
	}
	if u.price > 0 {
		next.Price = u.price
	}
	if u.message != "" {
		next.Message = u.message
	}

	if next.Status == cur.Status && next.Traded == cur.Traded && next.Price == cur.Price {
		return
	}
	if cur.Status.IsTerminal() {
		e.log.Warn("late update for terminal order ignored", "handle", handle, "status", cur.Status,
			"update_status", u.status, "update_traded", u.traded, "source", u.source)
		return
	}

	next.UpdatedAt = e.now()
	if next.Status == domain.StatusRejected {
		e.log.Warn("order rejected", "handle", handle, "symbol", next.VTSymbol(), "reason", next.Message)
	}
	e.registry.Put(next)
	e.publish(event.OrderEvent(next, next.UpdatedAt))
}

// correctSide returns the side of a fill in instrument symbol/exchange that
// belongs to order o. Creation/redemption fills in a constituent carry the
// constituent's side: redeeming hands constituents out (short leg of the
// swap) and creating takes them in (long leg).
func correctSide(o domain.Order, symbol string, ex domain.Exchange, raw domain.Direction) domain.Direction {
	if symbol == o.Symbol && ex == o.Exchange {
		return raw
	}
	switch o.Kind {
	case domain.OrderKindRedemption:
		return domain.DirectionShort
	case domain.OrderKindPurchase:
		return domain.DirectionLong
	default:
		return raw
	}
}

// emitTrade publishes t once per (handle, trade id).
func (e *Engine) emitTrade(t domain.Trade) {
	if t.Volume <= 0 {
		e.log.Debug("empty fill dropped", "handle", t.Handle, "trade_id", t.TradeID)
		return
	}
	if t.TradeID != "" {
		key := tradeKey{Handle: t.Handle, TradeID: t.TradeID}
		if _, dup := e.seenTrades[key]; dup {
			return
		}
		e.seenTrades[key] = struct{}{}
	}
	if t.Time.IsZero() {
		t.Time = e.now()
	}
	t.GatewayName = e.gateway
	e.publish(event.TradeEvent(t, t.Time))
}

// ---------------------------------------------------------------------------
// Export-file rows
// ---------------------------------------------------------------------------

// IngestRow queues a parsed export row for reconciliation. It has the
// signature of exchange.Sink.
func (e *Engine) IngestRow(row exchange.Row) {
	switch r := row.(type) {
	case exchange.OrderResultRow:
		e.post(func() { e.handleOrderResult(r) })
	case exchange.TradeChangeRow:
		e.post(func() { e.handleTradeChange(r) })
	}
}

func (e *Engine) handleOrderResult(r exchange.OrderResultRow) {
	if r.Note == "" {
		return
	}
	if _, ok := e.registry.Get(r.Note); !ok {
		e.log.Debug("order result for foreign note dropped", "note", r.Note)
		return
	}
	if r.NativeID != "" {
		e.ids.Register(r.Note, r.NativeID)
	}
	e.applyUpdate(r.Note, update{
		status:  broker.TaskStatusToStatus(r.TaskStatus),
		traded:  r.Traded,
		message: r.Message,
		source:  "order_result",
	})
	e.flushCancel(r.Note)
}

func (e *Engine) handleTradeChange(r exchange.TradeChangeRow) {
	if r.Note == "" {
		return
	}
	o, ok := e.registry.Get(r.Note)
	if !ok {
		e.log.Debug("trade for foreign note dropped", "note", r.Note, "trade_id", r.TradeID)
		return
	}
	e.emitTrade(domain.Trade{
		TradeID:   r.TradeID,
		Handle:    o.Handle,
		Symbol:    r.Symbol,
		Exchange:  r.Exchange,
		Direction: correctSide(o, r.Symbol, r.Exchange, r.Direction),
		Price:     r.Price,
		Volume:    r.Volume,
		Time:      r.Time,
	})
}

// ---------------------------------------------------------------------------
// broker.Callback
// ---------------------------------------------------------------------------

// OnDisconnected implements broker.Callback.
func (e *Engine) OnDisconnected() {
	e.log.Warn("trader disconnected")
}

// OnOrder implements broker.Callback.
func (e *Engine) OnOrder(o broker.Order) {
	e.post(func() { e.handleBackendOrder(o) })
}

// OnTrade implements broker.Callback.
func (e *Engine) OnTrade(t broker.Trade) {
	e.post(func() { e.handleBackendTrade(t) })
}

// OnPosition implements broker.Callback.
func (e *Engine) OnPosition(p broker.Position) {
	e.post(func() { e.handlePosition(p) })
}

// OnAsset implements broker.Callback.
func (e *Engine) OnAsset(a broker.Asset) {
	e.post(func() {
		e.publish(event.AccountEvent(domain.Account{
			GatewayName: e.gateway,
			AccountID:   a.AccountID,
			Balance:     a.TotalAsset,
			Frozen:      a.FrozenCash,
			Available:   a.Cash,
			MarketValue: a.MarketValue,
		}, e.now()))
	})
}

// OnOrderResponse implements broker.Callback.
func (e *Engine) OnOrderResponse(r broker.OrderResponse) {
	e.post(func() { e.handleOrderResponse(r) })
}

// OnCancelResponse implements broker.Callback.
func (e *Engine) OnCancelResponse(r broker.CancelResponse) {
	e.log.Info("cancel acknowledged", "native_id", r.OrderID, "result", r.CancelResult, "seq", r.Seq)
}

// OnOrderError implements broker.Callback.
func (e *Engine) OnOrderError(oe broker.OrderError) {
	e.post(func() { e.handleOrderError(oe) })
}

// OnCancelError implements broker.Callback.
func (e *Engine) OnCancelError(ce broker.CancelError) {
	e.log.Warn("cancel rejected", "native_id", ce.OrderID, "error_id", ce.ErrorID, "error", ce.ErrorMsg)
}

func (e *Engine) handleOrderResponse(r broker.OrderResponse) {
	handle := e.directHandle(r.Seq)
	if _, ok := e.registry.Get(handle); !ok {
		e.log.Debug("order response for unknown sequence dropped", "seq", r.Seq, "native_id", r.OrderID)
		return
	}
	e.ids.Register(handle, strconv.FormatInt(r.OrderID, 10))
	e.log.Debug("order acknowledged", "handle", handle, "native_id", r.OrderID)
	e.flushCancel(handle)
}

func (e *Engine) handleBackendOrder(o broker.Order) {
	native := strconv.FormatInt(o.OrderID, 10)
	handle, ok := e.ids.Handle(native)
	if !ok {
		e.log.Debug("order update for uncorrelated native id dropped", "native_id", native, "code", o.StockCode)
		return
	}
	e.applyUpdate(handle, update{
		status:  broker.OrderStatusToStatus(o.OrderStatus),
		traded:  o.TradedVolume,
		price:   o.Price,
		message: o.StatusMsg,
		source:  "trader",
	})
}

func (e *Engine) handleBackendTrade(t broker.Trade) {
	handle, ok := e.ids.Handle(strconv.FormatInt(t.OrderID, 10))
	if !ok {
		e.log.Debug("trade for uncorrelated native id dropped", "native_id", t.OrderID, "trade_id", t.TradedID)
		return
	}
	symbol, ex, err := broker.ParseCode(t.StockCode)
	if err != nil {
		e.log.Warn("trade with malformed stock code dropped", "handle", handle, "error", err)
		return
	}
	o, _ := e.registry.Get(handle)
	e.emitTrade(domain.Trade{
		TradeID:   t.TradedID,
		Handle:    handle,
		Symbol:    symbol,
		Exchange:  ex,
		Direction: correctSide(o, symbol, ex, broker.DirectionFor(t.OrderType)),
		Price:     t.TradedPrice,
		Volume:    t.TradedVolume,
		Time:      broker.TimestampToTime(t.TradedTime),
	})
}

func (e *Engine) handleOrderError(oe broker.OrderError) {
	handle, ok := "", false
	if oe.OrderID > 0 {
		handle, ok = e.ids.Handle(strconv.FormatInt(oe.OrderID, 10))
	}
	if !ok && oe.Seq > 0 {
		h := e.directHandle(oe.Seq)
		if _, found := e.registry.Get(h); found {
			handle, ok = h, true
		}
	}
	if !ok {
		e.log.Warn("order error for unknown order", "native_id", oe.OrderID, "seq", oe.Seq,
			"error_id", oe.ErrorID, "error", oe.ErrorMsg)
		return
	}
	e.applyUpdate(handle, update{
		status:  domain.StatusRejected,
		message: fmt.Sprintf("[%d] %s", oe.ErrorID, oe.ErrorMsg),
		source:  "order_error",
	})
}

func (e *Engine) handlePosition(p broker.Position) {
	symbol, ex, err := broker.ParseCode(p.StockCode)
	if err != nil {
		e.log.Warn("position with malformed stock code dropped", "error", err)
		return
	}
	pos := domain.Position{
		GatewayName: e.gateway,
		Symbol:      symbol,
		Exchange:    ex,
		Direction:   domain.DirectionLong,
		Volume:      p.Volume,
		YdVolume:    p.YesterdayVolume,
		SellAble:    p.CanUseVolume,
		Price:       p.OpenPrice,
		PnL:         p.MarketValue - float64(p.Volume)*p.OpenPrice,
	}
	if e.catalog != nil {
		if c, ok := e.catalog.Contract(domain.VTSymbol(symbol, ex)); ok {
			pos.Product = c.Product
		}
	}
	e.publish(event.PositionEvent(pos, e.now()))
}
