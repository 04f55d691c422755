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

	"github.com/xtrntr/marketplace/internal/api"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/ledger"
	"github.com/xtrntr/marketplace/internal/market"
	"github.com/xtrntr/marketplace/internal/obs"
	"github.com/xtrntr/marketplace/migrations"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type accountStore interface {
	auth.AccountOpener
	api.AccountReader
}

// backend bundles the storage the registry and the API run against
type backend struct {
	ledger   ledger.Ledger
	state    ledger.StateLoader
	users    auth.UserStore
	accounts accountStore
	sales    api.SaleReader
	close    func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Memory {
		logger.Warn("running on in-memory storage; state is lost on exit")
		l := ledger.NewMemory()
		return &backend{ledger: l, state: l, users: auth.NewMemoryUsers(), accounts: l, sales: l, close: func() {}}, nil
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, migrations.Init); err != nil {
		database.Close(ctx)
		return nil, err
	}
	return &backend{
		ledger:   database,
		state:    database,
		users:    database,
		accounts: database,
		sales:    database,
		close:    func() { database.Close(context.Background()) },
	}, nil
}

// Main entry point: sets up storage, the registry and the HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.close()

	// The escrow account holds listed assets and in-flight payments
	if err := store.accounts.OpenAccount(ctx, cfg.EscrowAccount); err != nil {
		return fmt.Errorf("failed to open escrow account: %w", err)
	}

	// Initialize auth service; registry identities cannot be claimed by users
	authService := auth.NewAuthService(store.users, store.accounts, cfg.JWTSecret, cfg.JWTTTL, cfg.EscrowAccount, cfg.Administrator)
	if cfg.AdminPassword != "" {
		if err := authService.Bootstrap(ctx, cfg.Administrator, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to bootstrap administrator: %w", err)
		}
	} else {
		logger.Warn("MARKET_ADMIN_PASSWORD not set; administrator cannot log in", "admin", cfg.Administrator)
		if err := store.accounts.OpenAccount(ctx, cfg.Administrator); err != nil {
			return fmt.Errorf("failed to open administrator account: %w", err)
		}
	}

	// Initialize the registry and restore persisted listings
	var hub *api.Hub
	registry, err := market.NewRegistry(store.ledger, market.Config{
		Administrator: cfg.Administrator,
		Escrow:        cfg.EscrowAccount,
		FeeRate:       cfg.FeeRate,
	},
		market.WithLogger(logger.With("component", "registry")),
		market.WithObserver(func(ev market.Event) { hub.Notify(ev) }),
	)
	if err != nil {
		return err
	}
	hub = api.NewHub(registry, logger.With("component", "hub"))
	defer hub.Close()

	state, err := store.state.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registry state: %w", err)
	}
	if err := registry.Restore(state); err != nil {
		return err
	}
	logger.Info("registry restored", "slots", registry.ListingCount(), "fee_rate", registry.FeeRate())

	// Initialize API handlers
	handler := api.NewHandler(registry, authService, store.sales, store.accounts, logger.With("component", "api"))

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handler.Routes(r, hub)

	// Start periodic listing book broadcast
	go hub.Run(ctx, cfg.BroadcastInterval)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
