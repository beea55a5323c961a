package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/config"
	"github.com/alexjbarnes/oauth-flow-sim/internal/logging"
	"github.com/alexjbarnes/oauth-flow-sim/internal/metrics"
	"github.com/alexjbarnes/oauth-flow-sim/internal/oauth"
	"github.com/alexjbarnes/oauth-flow-sim/internal/seed"
	"github.com/alexjbarnes/oauth-flow-sim/internal/server"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	engine := oauth.NewEngine(oauth.Config{
		Store:   st,
		Secret:  []byte(cfg.JWTSecret),
		Metrics: m,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Store:         st,
			Engine:        engine,
			Metrics:       m,
			Logger:        logger,
			SessionCookie: cfg.SessionCookie,
			SecureCookies: cfg.SecureCookies,
			MaxDelay:      cfg.MaxDelay,
			EnableSimAPI:  cfg.EnableSimAPI,
			EnableMetrics: cfg.EnableMetrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Injected delays can hold a response for up to MaxDelay.
		WriteTimeout: cfg.MaxDelay + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("version", Version),
			slog.Bool("sim_api", cfg.EnableSimAPI),
			slog.Bool("metrics", cfg.EnableMetrics),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStore loads the seed document and applies it with the environment
// overrides on top.
func buildStore(cfg *config.Config) (*store.Store, error) {
	doc, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("loading seed: %w", err)
	}

	extra, err := cfg.ParseExtraUsers()
	if err != nil {
		return nil, fmt.Errorf("parsing extra users: %w", err)
	}
	doc.Users = append(doc.Users, extra...)

	// An explicit signing section in the seed file wins over the env toggles.
	if cfg.SeedFile == "" || doc.Signing == nil {
		sc := cfg.SigningConfig()
		doc.Signing = &sc
	}

	st := store.New()
	if err := seed.Apply(st, doc); err != nil {
		return nil, fmt.Errorf("applying seed: %w", err)
	}

	return st, nil
}
