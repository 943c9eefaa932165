package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"qmtbridge/internal/api"
	"qmtbridge/internal/broker"
	"qmtbridge/internal/catalog"
	"qmtbridge/internal/config"
	"qmtbridge/internal/engine"
	"qmtbridge/internal/event"
	"qmtbridge/internal/exchange"
	"qmtbridge/internal/store"
	"qmtbridge/internal/util"
)

// paperCash is the starting cash of the simulated account.
const paperCash = 10_000_000

func main() {
	envPath := flag.String("env", ".env", "optional .env file")
	cfgPath := flag.String("config", os.Getenv(config.EnvConfigPath), "YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("loading env: %v", err)
	}
	// The .env file may name the config file.
	if *cfgPath == "" {
		*cfgPath = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if !cfg.Trading.PaperMode {
		// The terminal's trade API is only reachable through its own
		// bindings; this binary links the simulator only.
		log.Fatalf("live trading needs a broker.Trader for the terminal; set trading.paper_mode")
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("loading catalog: %v", err)
	}

	fileDir := cfg.QMT.FileDir()
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		log.Fatalf("creating file exchange dir: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := event.NewBus()
	journal, err := store.OpenJournal(ctx, logger)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer journal.Close()

	trader := broker.NewSimulatorTrader(paperCash)
	notes := exchange.NewNoteGenerator(cfg.QMT.SessionID)
	eng := engine.NewEngine(engine.Options{
		Gateway:   cfg.QMT.Gateway,
		Account:   cfg.QMT.Account,
		Strategy:  cfg.QMT.Strategy,
		Trader:    trader,
		Files:     exchange.NewOrderWriter(fileDir),
		Notes:     notes,
		Catalog:   cat,
		Risk:      engine.NewRiskManager(cfg.Trading.MaxOrderVolume, cfg.Trading.MaxOrderNotional),
		Publisher: bus,
		Logger:    logger,
	})
	ingestor := exchange.NewIngestor(fileDir, eng.IngestRow, logger)
	poller := engine.NewPoller(trader, eng, cfg.QMT.Account, engine.PollerConfig{
		Interval:        cfg.Polling.Interval,
		FullEvery:       cfg.Polling.FullEvery,
		MarketHoursOnly: cfg.Polling.MarketHoursOnly,
		RatePerMin:      cfg.Polling.RateLimitPerMin,
	}, logger)
	srv := api.NewServer(cfg.Server, eng, journal, bus, logger)

	logger.Info("qmt-bridge starting",
		"gateway", eng.Gateway(),
		"backend", trader.Name(),
		"account", cfg.QMT.Account,
		"file_dir", fileDir,
		"session", notes.Session(),
		"contracts", len(cat.Contracts()),
	)

	subID, events := bus.Subscribe(4096)
	defer bus.Unsubscribe(subID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return journal.Consume(gctx, events) })
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return ingestor.Watch(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("qmt-bridge stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("qmt-bridge stopped")
}
