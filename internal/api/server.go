package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tokenScope/internal/model"
	"tokenScope/internal/wallet"
)

// ViewSource serves the published views and drives the sync.
type ViewSource interface {
	Views() *model.Views
	Status() model.SyncStatus
	Resync(ctx context.Context) (uint64, error)
}

// WalletDirectory lists discovered wallet providers.
type WalletDirectory interface {
	List() []wallet.Descriptor
	Get(id string) (wallet.Descriptor, bool)
}

// SessionManager owns the authenticated wallet session.
type SessionManager interface {
	Connect(ctx context.Context, d wallet.Descriptor) (wallet.Session, error)
	Current() (wallet.Session, bool)
	Disconnect()
	HandleAccountsChanged(accounts []string)
}

// TransactionTracker merges the events of a self-submitted transaction.
type TransactionTracker interface {
	TrackTransaction(ctx context.Context, hash common.Hash) (int, error)
}

// FactoryReader reads the live factory state.
type FactoryReader interface {
	Info(ctx context.Context) (model.FactoryInfo, error)
	TokenAt(ctx context.Context, i uint64) (common.Address, error)
	Address() common.Address
}

// Config holds HTTP server settings.
type Config struct {
	Listen         string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// TrackTimeout bounds how long a transaction receipt is awaited.
	TrackTimeout time.Duration
}

// Deps are the components the API serves from. Nil members disable their
// routes' backing behavior with a 503.
type Deps struct {
	Views    ViewSource
	Wallets  WalletDirectory
	Sessions SessionManager
	Tracker  TransactionTracker
	Factory  FactoryReader
}

// Server is the HTTP and WebSocket surface for the UI.
type Server struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	router *chi.Mux
	hub    *Hub
	server *http.Server
}

// NewServer builds the router. Call Publish with every new view set.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.TrackTimeout <= 0 {
		cfg.TrackTimeout = 2 * time.Minute
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
		hub:    NewHub(logger),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.Listen,
		Handler:     s.router,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout stays zero unless set: it would cut WebSocket streams.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Publish pushes a view set to every WebSocket client.
func (s *Server) Publish(views model.Views) {
	s.hub.BroadcastViews(views)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server start", zap.String("listen", s.cfg.Listen))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Stop()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/ws", s.serveWS)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/views", func(r chi.Router) {
			r.Get("/", s.handleViews)
			r.Get("/recent", s.handleRecent)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/activity", s.handleActivity)
		})

		r.Get("/status", s.handleStatus)
		r.Post("/sync/retry", s.handleResync)

		r.Get("/wallets", s.handleWallets)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/", s.handleConnect)
			r.Delete("/", s.handleDisconnect)
			r.Post("/accounts", s.handleAccountsChanged)
		})

		r.Post("/transactions/{hash}", s.handleTrackTransaction)

		r.Get("/factory", s.handleFactory)
		r.Get("/factory/tokens/{index}", s.handleFactoryToken)
		r.Post("/factory/calldata", s.handleCreateCalldata)
	})
}
