package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/hyperifyio/questionproxy/internal/api"
	"github.com/hyperifyio/questionproxy/internal/cache"
	"github.com/hyperifyio/questionproxy/internal/llm"
	"github.com/hyperifyio/questionproxy/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled service: store, gateway and HTTP handler.
type App struct {
	cfg     Config
	store   *cache.Store
	gateway *llm.Gateway
	handler *api.Handler
	logger  zerolog.Logger
}

// New opens the response store and builds the upstream gateway. A missing API
// key is only a warning unless cfg.RequireAPIKey is set; requests then fail
// with 503 when they reach the gateway.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, cfg.DBPath, cache.Options{MaxRows: cfg.MaxRows, StrictPerms: cfg.DBStrictPerms})
	if err != nil {
		return nil, fmt.Errorf("open response store: %w", err)
	}

	gateway := llm.NewGateway(llm.GatewayConfig{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		Timeout:    cfg.LLMTimeout,
		HTTPClient: newUpstreamHTTPClient(cfg.LLMTimeout),
	})

	a := &App{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		handler: api.NewHandler(gateway, store, cache.NewRecentWindow(cfg.RecentSize), cfg.LLMModel),
		logger:  log.Logger,
	}

	if !gateway.HasKey {
		log.Warn().Msg("no LLM API key configured; online requests will fail until one is set")
		return a, nil
	}
	a.preflight(ctx)
	return a, nil
}

// preflight lists models to surface connectivity problems early. It never fails startup.
func (a *App) preflight(ctx context.Context) {
	lister, ok := a.gateway.Client.(llm.ModelLister)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := lister.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("LLM model list failed; continuing")
		return
	}
	log.Info().Int("count", len(models.Models)).Str("model", a.cfg.LLMModel).Msg("LLM models available")
}

// Handler returns the routed HTTP handler with the middleware chain applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.handler.RegisterRoutes(mux)

	var h http.Handler = mux
	h = middleware.CORS(h)
	h = middleware.Logging(a.logger)(h)
	return h
}

// Serve listens on cfg.ListenAddr until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener; tests use it with port 0.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	if a.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, a.cfg.MaxConns)
	}
	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the response store.
func (a *App) Close() error {
	return a.store.Close()
}
