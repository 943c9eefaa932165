package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"qmtbridge/internal/domain"
)

func TestSimulatorTraderName(t *testing.T) {
	b := NewSimulatorTrader(0)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorTrader.Name() = %q, want %q", got, "simulator")
	}
}

func TestTaskStatusToStatus(t *testing.T) {
	tests := []struct {
		code string
		want domain.Status
	}{
		{"0", domain.StatusSubmitting},
		{"1", domain.StatusSubmitting},
		{"2", domain.StatusSubmitting},
		{"3", domain.StatusPartTraded},
		{"4", domain.StatusPartTraded},
		{"5", domain.StatusSubmitting},
		{"6", domain.StatusCancelled},
		{"7", domain.StatusAllTraded},
		{"8", domain.StatusCancelled},
		{"9", domain.StatusRejected},
		{" 7 ", domain.StatusAllTraded},
		{"", domain.StatusSubmitting},
		{"42", domain.StatusSubmitting},
		{"bogus", domain.StatusSubmitting},
	}
	for _, tt := range tests {
		for i := 0; i < 3; i++ {
			if got := TaskStatusToStatus(tt.code); got != tt.want {
				t.Errorf("TaskStatusToStatus(%q) = %q, want %q", tt.code, got, tt.want)
			}
		}
	}
}

func TestTaskStatusCodesDistinct(t *testing.T) {
	if len(taskStatusMap) != 10 {
		t.Errorf("taskStatusMap has %d entries, want 10 distinct codes", len(taskStatusMap))
	}
}

func TestOrderStatusToStatus(t *testing.T) {
	tests := []struct {
		code int
		want domain.Status
	}{
		{OrderUnreported, domain.StatusSubmitting},
		{OrderWaitReporting, domain.StatusSubmitting},
		{OrderReported, domain.StatusSubmitting},
		{OrderReportedCancel, domain.StatusSubmitting},
		{OrderPartSuccCancel, domain.StatusPartTraded},
		{OrderPartCancel, domain.StatusCancelled},
		{OrderCanceled, domain.StatusCancelled},
		{OrderPartSucc, domain.StatusPartTraded},
		{OrderSucceeded, domain.StatusAllTraded},
		{OrderJunk, domain.StatusRejected},
		{OrderUnknown, domain.StatusSubmitting},
		{-1, domain.StatusSubmitting},
		{0, domain.StatusSubmitting},
	}
	for _, tt := range tests {
		if got := OrderStatusToStatus(tt.code); got != tt.want {
			t.Errorf("OrderStatusToStatus(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCodeConversion(t *testing.T) {
	code, err := ToCode("600000", domain.ExchangeSSE)
	if err != nil {
		t.Fatalf("ToCode returned unexpected error: %v", err)
	}
	if code != "600000.SH" {
		t.Errorf("ToCode = %q, want %q", code, "600000.SH")
	}

	symbol, exchange, err := ParseCode("000001.SZ")
	if err != nil {
		t.Fatalf("ParseCode returned unexpected error: %v", err)
	}
	if symbol != "000001" || exchange != domain.ExchangeSZSE {
		t.Errorf("ParseCode = (%q, %q), want (%q, %q)", symbol, exchange, "000001", domain.ExchangeSZSE)
	}

	if _, err := ToCode("600000", "NYSE"); err == nil {
		t.Error("ToCode with unsupported exchange should fail")
	}
	for _, bad := range []string{"600000", ".SH", "600000.HK"} {
		if _, _, err := ParseCode(bad); err == nil {
			t.Errorf("ParseCode(%q) should fail", bad)
		}
	}
}

func TestParseMarket(t *testing.T) {
	tests := []struct {
		label, symbol string
		want          domain.Exchange
	}{
		{"SH", "600000", domain.ExchangeSSE},
		{"sz", "000001", domain.ExchangeSZSE},
		{"上证A股", "600000", domain.ExchangeSSE},
		{"沪A", "510300", domain.ExchangeSSE},
		{"深证A股", "000001", domain.ExchangeSZSE},
		{"", "600519", domain.ExchangeSSE},
		{"???", "300750", domain.ExchangeSZSE},
	}
	for _, tt := range tests {
		if got := ParseMarket(tt.label, tt.symbol); got != tt.want {
			t.Errorf("ParseMarket(%q, %q) = %q, want %q", tt.label, tt.symbol, got, tt.want)
		}
	}
}

func TestOrderAndPriceTypes(t *testing.T) {
	if got := OrderTypeFor(domain.OrderKindNormal, domain.DirectionLong); got != StockBuy {
		t.Errorf("OrderTypeFor(normal, long) = %d, want %d", got, StockBuy)
	}
	if got := OrderTypeFor(domain.OrderKindNormal, domain.DirectionShort); got != StockSell {
		t.Errorf("OrderTypeFor(normal, short) = %d, want %d", got, StockSell)
	}
	if got := OrderTypeFor(domain.OrderKindPurchase, ""); got != ETFPurchase {
		t.Errorf("OrderTypeFor(purchase) = %d, want %d", got, ETFPurchase)
	}
	if got := OrderTypeFor(domain.OrderKindRedemption, ""); got != ETFRedemption {
		t.Errorf("OrderTypeFor(redemption) = %d, want %d", got, ETFRedemption)
	}
	if got := DirectionFor(StockSell); got != domain.DirectionShort {
		t.Errorf("DirectionFor(StockSell) = %q, want short", got)
	}
	if got := PriceTypeFor(domain.PriceTypeMarket, domain.ExchangeSZSE); got != PriceMarketSZConvert5 {
		t.Errorf("PriceTypeFor(market, SZSE) = %d, want %d", got, PriceMarketSZConvert5)
	}
	if got := PriceTypeFor(domain.PriceTypeLimit, domain.ExchangeSSE); got != PriceFix {
		t.Errorf("PriceTypeFor(limit) = %d, want %d", got, PriceFix)
	}
}

// recordingCallback collects callbacks delivered by the simulator.
type recordingCallback struct {
	mu        sync.Mutex
	responses []OrderResponse
	orders    []Order
	trades    []Trade
	cancels   []CancelResponse
	errs      []CancelError
}

func (r *recordingCallback) OnDisconnected() {}
func (r *recordingCallback) OnOrder(o Order) {
	r.mu.Lock()
	r.orders = append(r.orders, o)
	r.mu.Unlock()
}
func (r *recordingCallback) OnTrade(tr Trade) {
	r.mu.Lock()
	r.trades = append(r.trades, tr)
	r.mu.Unlock()
}
func (r *recordingCallback) OnPosition(Position) {}
func (r *recordingCallback) OnAsset(Asset)       {}
func (r *recordingCallback) OnOrderResponse(resp OrderResponse) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
}
func (r *recordingCallback) OnCancelResponse(resp CancelResponse) {
	r.mu.Lock()
	r.cancels = append(r.cancels, resp)
	r.mu.Unlock()
}
func (r *recordingCallback) OnOrderError(OrderError) {}
func (r *recordingCallback) OnCancelError(e CancelError) {
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
}

func TestSimulatorLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatorTrader(100000)
	cb := &recordingCallback{}

	if _, err := sim.SubmitOrder(ctx, SubmitRequest{Volume: 100}); err != ErrNotStarted {
		t.Fatalf("SubmitOrder before Start = %v, want ErrNotStarted", err)
	}
	if err := sim.Start(ctx, "acct", cb); err != nil {
		t.Fatalf("Start: %v", err)
	}

	seq, err := sim.SubmitOrder(ctx, SubmitRequest{Account: "acct", StockCode: "600000.SH", OrderType: StockBuy, PriceType: PriceFix, Volume: 200, Price: 10})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if seq != 1 {
		t.Errorf("first seq = %d, want 1", seq)
	}

	orders, _ := sim.QueryOrders(ctx, "acct")
	if len(orders) != 1 {
		t.Fatalf("QueryOrders returned %d orders, want 1", len(orders))
	}
	id := orders[0].OrderID

	if err := sim.Fill(id, 150, 10); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if _, err := sim.CancelOrder(ctx, "acct", id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if _, err := sim.CancelOrder(ctx, "acct", 999999); err != nil {
		t.Fatalf("CancelOrder unknown: %v", err)
	}
	if err := sim.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.responses) != 1 || cb.responses[0].Seq != seq || cb.responses[0].OrderID != id {
		t.Errorf("responses = %+v, want one response pairing seq %d with order %d", cb.responses, seq, id)
	}
	if len(cb.trades) != 1 || cb.trades[0].TradedVolume != 150 {
		t.Errorf("trades = %+v, want one fill of 150", cb.trades)
	}
	if len(cb.cancels) != 1 || len(cb.errs) != 1 {
		t.Errorf("got %d cancel responses and %d cancel errors, want 1 and 1", len(cb.cancels), len(cb.errs))
	}
	last := cb.orders[len(cb.orders)-1]
	if last.OrderStatus != OrderPartCancel {
		t.Errorf("final order status = %d, want %d", last.OrderStatus, OrderPartCancel)
	}

	positions, _ := sim.QueryPositions(ctx, "acct")
	if len(positions) != 1 || positions[0].Volume != 150 {
		t.Errorf("positions = %+v, want 150 shares of 600000.SH", positions)
	}
}

// blockingCallback holds the dispatcher inside the first order response
// until release is closed.
type blockingCallback struct {
	recordingCallback
	release chan struct{}
	once    sync.Once
}

func (b *blockingCallback) OnOrderResponse(resp OrderResponse) {
	b.once.Do(func() { <-b.release })
	b.recordingCallback.OnOrderResponse(resp)
}

func TestSimulatorSubmitDoesNotBlockOnSlowCallback(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatorTrader(0)
	cb := &blockingCallback{release: make(chan struct{})}
	if err := sim.Start(ctx, "acct", cb); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 3000
	submitted := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if _, err := sim.SubmitOrder(ctx, SubmitRequest{Account: "acct", StockCode: "600000.SH", OrderType: StockBuy, Volume: 100}); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("SubmitOrder: %v", err)
		}
	case <-time.After(5 * time.Second):
		close(cb.release)
		t.Fatal("SubmitOrder blocked while the callback consumer was stalled")
	}

	close(cb.release)
	if err := sim.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.responses) != n {
		t.Fatalf("got %d order responses, want %d", len(cb.responses), n)
	}
	for i, r := range cb.responses {
		if r.Seq != int64(i+1) {
			t.Fatalf("response %d has seq %d, want %d", i, r.Seq, i+1)
		}
	}
}

func TestTimestampToTime(t *testing.T) {
	if !TimestampToTime(0).IsZero() {
		t.Error("TimestampToTime(0) should be zero")
	}
	got := TimestampToTime(1700000000)
	if !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("TimestampToTime = %v, want %v", got, time.Unix(1700000000, 0))
	}
	if _, offset := got.Zone(); offset != 8*3600 {
		t.Errorf("zone offset = %d, want %d", offset, 8*3600)
	}
}
