// ABOUTME: Gateway orchestrator that wires the store, realtime hub, sessions and HTTP server
// ABOUTME: Manages the listener, route table, graceful shutdown and health endpoint lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/chatdesk/internal/auth"
	"github.com/2389/chatdesk/internal/config"
	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/metrics"
	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/session"
	"github.com/2389/chatdesk/internal/store"
)

// Gateway orchestrates the chatdesk server components.
// It owns the store and realtime hub and serves the REST API, the
// WebSocket session endpoint and the admin notification stream.
type Gateway struct {
	config       *config.Config
	store        store.Store
	hub          *realtime.Hub
	conversation *conversation.Service
	sessions     *session.Registry
	metrics      *metrics.Metrics
	verifier     *auth.JWTVerifier
	renderer     *renderer
	httpServer   *http.Server
	logger       *slog.Logger

	// closing is closed when shutdown starts so long-lived streams return
	closing      chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore creates and returns a store based on config. The database
// path environment override has already been applied by config.Load.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	hub := realtime.NewHub(cfg.Chat.SubscriberBuffer, logger.With("component", "hub"))
	hub.SetObserver(m)

	convService := conversation.New(s, hub, cfg.Chat.MaxMessageBytes, logger)
	convService.SetObserver(m)

	sessions := session.NewRegistry(session.Config{
		Service:      convService,
		Hub:          hub,
		TypingQuiet:  cfg.Chat.TypingDebounce,
		TypingExpiry: cfg.Chat.TypingExpiry,
		ReadDelay:    cfg.Chat.ReadReceiptDelay,
		UpdateBuffer: cfg.Chat.SubscriberBuffer,
		Logger:       logger,
		Observer:     m,
	})

	gw := &Gateway{
		config:       cfg,
		store:        s,
		hub:          hub,
		conversation: convService,
		sessions:     sessions,
		metrics:      m,
		verifier:     verifier,
		renderer:     newRenderer(),
		logger:       logger.With("component", "gateway"),
		closing:      make(chan struct{}),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP route table.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("GET /healthz", g.handleHealth)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	authed := auth.HTTPAuthMiddleware(g.verifier)
	adminOnly := auth.RequireAdminHTTP()

	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.Handle(pattern, g.instrument(route, authed(h)))
	}

	handle("POST /api/enquiries", "create_enquiry", g.handleCreateEnquiry)
	handle("POST /api/enquiries/{id}/conversation", "open_conversation", g.handleOpenConversation)
	handle("GET /api/conversations/{id}/messages", "list_messages", g.handleListMessages)
	handle("POST /api/conversations/{id}/messages", "send_message", g.handleSendMessage)
	handle("POST /api/conversations/{id}/read", "mark_read", g.handleMarkRead)
	handle("GET /ws/conversations/{id}", "session_ws", g.handleSessionWS)
	mux.Handle("GET /api/admin/notifications",
		g.instrument("notifications", authed(adminOnly(http.HandlerFunc(g.handleNotifications)))))

	return mux
}

// Handler returns the gateway's HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the HTTP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	httpLn, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address %s: %w", g.config.Server.HTTPAddr, err)
	}
	return httpLn, nil
}

// startServer serves HTTP in the background and reports failures on the
// returned channel.
func (g *Gateway) startServer(httpLn net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal blocks until ctx is done or the server fails.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// server fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	httpListener, err := g.setupTCPListener()
	if err != nil {
		return err
	}

	errCh := g.startServer(httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, ends open WebSocket and SSE streams,
// closes every session and then the hub and store. Only the first call
// does any work; later calls return its result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")
		close(g.closing)

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		// Sessions untrack presence and flush typing before the hub goes away.
		g.sessions.CloseAll()
		g.hub.Close()

		errs = appendCloseError(errs, "store close", g.store.Close())

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
