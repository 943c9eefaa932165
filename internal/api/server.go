// Package api exposes the gateway to front-ends: a JSON HTTP API for order
// entry and queries, a WebSocket push of every outward event, and a gRPC
// server stream of the same events for Go consumers.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"qmtbridge/internal/config"
	"qmtbridge/internal/domain"
	"qmtbridge/internal/engine"
	"qmtbridge/internal/event"
	"qmtbridge/internal/store"
)

// Engine is the subset of the reconciliation engine the API drives.
type Engine interface {
	SendOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	SendBasketOrder(ctx context.Context, req engine.BasketRequest) ([]string, error)
	CancelOrder(ctx context.Context, handle string) error
	Order(ctx context.Context, handle string) (domain.Order, error)
	Orders(ctx context.Context) ([]domain.Order, error)
}

// Journal answers history queries.
type Journal interface {
	store.OrderJournal
	store.TradeJournal
}

// Compile-time interface checks.
var _ Engine = (*engine.Engine)(nil)
var _ Journal = (*store.Journal)(nil)

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	cfg     config.Server
	eng     Engine
	journal Journal
	hub     *Hub
	events  *EventService
	log     *slog.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer creates a Server. Events published on bus are pushed to
// WebSocket and gRPC subscribers.
func NewServer(cfg config.Server, eng Engine, journal Journal, bus *event.Bus, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	s := &Server{
		cfg:     cfg,
		eng:     eng,
		journal: journal,
		hub:     NewHub(bus, logger),
		events:  NewEventService(bus, logger),
		log:     logger,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.grpcSrv = grpc.NewServer()
	s.events.Register(s.grpcSrv)
	return s
}

// Router returns the API routes without middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{handle}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{handle}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{handle}/history", s.handleOrderHistory).Methods(http.MethodGet)
	api.HandleFunc("/basket-orders", s.handleSubmitBasket).Methods(http.MethodPost)
	api.HandleFunc("/trades", s.handleListTrades).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.hub.ServeWS)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Handler returns the routes wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.Router())
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails. gRPC is skipped when no gRPC
// port is configured.
func (s *Server) ListenAndServe(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.hub.Run(ctx) })

	g.Go(func() error {
		s.log.Info("http listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.cfg.GRPCPort > 0 {
		g.Go(func() error {
			lis, err := net.Listen("tcp", s.cfg.GRPCAddr())
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			s.log.Info("grpc listening", "addr", lis.Addr().String())
			return s.grpcSrv.Serve(lis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight HTTP
// requests. Open event streams are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.grpcSrv.Stop()
	return err
}
