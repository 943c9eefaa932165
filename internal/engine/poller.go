package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qmtbridge/internal/broker"
	"qmtbridge/internal/util"
)

// PollerConfig controls periodic re-queries of backend state.
type PollerConfig struct {
	Interval        time.Duration
	FullEvery       int // ticks between full account/position/order refreshes
	MarketHoursOnly bool
	RatePerMin      int // 0 disables pacing
}

// Poller periodically re-queries the backend and feeds the results through
// the same callbacks the backend pushes to. Trades are queried on every
// tick; account, positions and orders every FullEvery ticks and on the
// first tick.
type Poller struct {
	trader   broker.Trader
	cb       broker.Callback
	account  string
	cfg      PollerConfig
	limiter  *util.RateLimiter
	calendar *util.TradingCalendar
	log      *slog.Logger
	now      func() time.Time

	ticks int
}

// NewPoller creates a Poller that delivers query results to cb.
func NewPoller(t broker.Trader, cb broker.Callback, account string, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.FullEvery <= 0 {
		cfg.FullEvery = 21
	}
	return &Poller{
		trader:   t,
		cb:       cb,
		account:  account,
		cfg:      cfg,
		limiter:  util.NewRateLimiter(cfg.RatePerMin, 4),
		calendar: util.NewTradingCalendar(broker.Shanghai),
		log:      logger.With("component", "poller"),
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("poller started", "interval", p.cfg.Interval, "full_every", p.cfg.FullEvery)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("poll failed", "error", err)
			}
		}
	}
}

// Tick performs one polling cycle.
func (p *Poller) Tick(ctx context.Context) error {
	if p.cfg.MarketHoursOnly && !p.calendar.IsMarketOpen(p.now()) {
		return nil
	}
	full := p.ticks%p.cfg.FullEvery == 0
	p.ticks++

	var errs []error
	if err := p.pollTrades(ctx); err != nil {
		errs = append(errs, err)
	}
	if full {
		for _, poll := range []func(context.Context) error{p.pollAsset, p.pollPositions, p.pollOrders} {
			if err := poll(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) pollTrades(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	trades, err := p.trader.QueryTrades(ctx, p.account)
	if err != nil {
		return fmt.Errorf("querying trades: %w", err)
	}
	for _, t := range trades {
		p.cb.OnTrade(t)
	}
	return nil
}

func (p *Poller) pollAsset(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	a, err := p.trader.QueryAsset(ctx, p.account)
	if err != nil {
		return fmt.Errorf("querying asset: %w", err)
	}
	if a != nil {
		p.cb.OnAsset(*a)
	}
	return nil
}

func (p *Poller) pollPositions(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	positions, err := p.trader.QueryPositions(ctx, p.account)
	if err != nil {
		return fmt.Errorf("querying positions: %w", err)
	}
	for _, pos := range positions {
		p.cb.OnPosition(pos)
	}
	return nil
}

func (p *Poller) pollOrders(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	orders, err := p.trader.QueryOrders(ctx, p.account)
	if err != nil {
		return fmt.Errorf("querying orders: %w", err)
	}
	for _, o := range orders {
		p.cb.OnOrder(o)
	}
	return nil
}
