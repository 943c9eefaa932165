package qmtbridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"qmtbridge/internal/api"
	"qmtbridge/internal/broker"
	"qmtbridge/internal/config"
	"qmtbridge/internal/domain"
	"qmtbridge/internal/engine"
	"qmtbridge/internal/event"
	"qmtbridge/internal/exchange"
	"qmtbridge/internal/store"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

type gateway struct {
	sim    *broker.SimulatorTrader
	bus    *event.Bus
	client *Client
}

// startGateway runs a paper-trading engine behind the HTTP API.
func startGateway(t *testing.T) *gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	bus := event.NewBus()
	journal, err := store.OpenJournal(ctx, logger)
	require.NoError(t, err)
	subID, ch := bus.Subscribe(1024)
	go journal.Consume(ctx, ch)

	sim := broker.NewSimulatorTrader(1_000_000)
	eng := engine.NewEngine(engine.Options{
		Gateway:   "QMT",
		Account:   "acct",
		Trader:    sim,
		Files:     exchange.NewOrderWriter(t.TempDir()),
		Notes:     exchange.NewNoteGenerator("sess"),
		Publisher: bus,
		Logger:    logger,
	})
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	srv := api.NewServer(config.Default().Server, eng, journal, bus, logger)
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
		bus.Unsubscribe(subID)
		journal.Close()
	})
	return &gateway{sim: sim, bus: bus, client: NewClient(hs.URL)}
}

func TestClientOrderLifecycle(t *testing.T) {
	g := startGateway(t)
	ctx := context.Background()
	c := g.client

	handle, err := c.SubmitOrder(ctx, OrderRequest{
		Symbol: "600000", Exchange: domain.ExchangeSSE, Direction: domain.DirectionLong,
		Volume: 1000, Price: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "QMT.1", handle)

	// The simulator assigns native ids from 1001.
	require.NoError(t, g.sim.Fill(1001, 400, 10))
	require.Eventually(t, func() bool {
		o, err := c.Order(ctx, handle)
		return err == nil && o.Traded == 400 && o.Status == domain.StatusPartTraded
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		trades, err := c.Trades(ctx, handle, "", 0)
		return err == nil && len(trades) == 1
	}, 2*time.Second, 10*time.Millisecond)

	active, err := c.Orders(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	pending, err := c.CancelOrder(ctx, handle)
	require.NoError(t, err)
	assert.False(t, pending)
	require.Eventually(t, func() bool {
		o, err := c.Order(ctx, handle)
		return err == nil && o.Status == domain.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		hist, err := c.OrderHistory(ctx, handle)
		return err == nil && len(hist) > 0 && hist[len(hist)-1].Status == domain.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	active, err = c.Orders(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = c.CancelOrder(ctx, handle)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestClientErrors(t *testing.T) {
	g := startGateway(t)
	ctx := context.Background()
	c := g.client

	_, err := c.Order(ctx, "QMT.404")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unknown order")

	_, err = c.SubmitOrder(ctx, OrderRequest{Symbol: "600000", Exchange: "NYSE", Direction: domain.DirectionLong, Volume: 100})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.SubmitBasket(ctx, BasketRequest{Symbol: "510300", Exchange: domain.ExchangeSSE, Direction: domain.DirectionLong, Volume: 1})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

func TestStreamEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	api.NewEventService(bus, logger).Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now()
				bus.Publish(event.OrderEvent(domain.Order{Handle: "QMT.1"}, now))
				bus.Publish(event.TradeEvent(domain.Trade{TradeID: "T1", Handle: "QMT.1", Volume: 100}, now))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []Event
	errDone := errors.New("done")
	err = streamEvents(ctx, conn, []string{"trade"}, func(evt Event) error {
		got = append(got, evt)
		if len(got) == 3 {
			return errDone
		}
		return nil
	})
	require.ErrorIs(t, err, errDone)
	for _, evt := range got {
		assert.Equal(t, event.KindTrade, evt.Kind)
		assert.Equal(t, "T1", evt.Trade.TradeID)
	}
}
