package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/market"
	"github.com/xtrntr/marketplace/internal/obs"
	"github.com/xtrntr/marketplace/migrations"
)

const seedPassword = "password123"

// Seed the database with test users, assets, listings and one sale
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	// Connect to database
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx, migrations.Init); err != nil {
		fatal("failed to migrate", err)
	}

	// First check if we already have sales
	sales, err := database.GetAllSales(ctx)
	if err != nil {
		fatal("failed to check sales", err)
	}
	if len(sales) > 0 {
		fmt.Printf("Database already has %d sales. No need to seed.\n", len(sales))
		return
	}

	if err := database.OpenAccount(ctx, cfg.EscrowAccount); err != nil {
		fatal("failed to open escrow account", err)
	}
	authService := auth.NewAuthService(database, database, cfg.JWTSecret, cfg.JWTTTL, cfg.EscrowAccount, cfg.Administrator)
	adminPassword := cfg.AdminPassword
	if adminPassword == "" {
		adminPassword = seedPassword
	}
	if err := authService.Bootstrap(ctx, cfg.Administrator, adminPassword); err != nil {
		fatal("failed to bootstrap administrator", err)
	}

	// Create test users if they don't exist
	for _, username := range []string{"trader1", "trader2"} {
		if _, err := database.GetUserByUsername(ctx, username); err == nil {
			continue
		}
		if _, err := authService.Register(ctx, username, seedPassword); err != nil {
			fatal("failed to create user "+username, err)
		}
	}
	if err := database.Deposit(ctx, "trader2", 100000); err != nil {
		fatal("failed to fund trader2", err)
	}

	// Mint assets for trader1
	assets := []struct {
		id    int64
		price int64
	}{
		{id: 1001, price: 30000},
		{id: 1002, price: 31000},
		{id: 1003, price: 32000},
	}
	for _, a := range assets {
		if owner, err := database.GetAssetOwner(ctx, a.id); err == nil {
			logger.Info("asset already minted", "asset_id", a.id, "owner", owner)
			continue
		}
		if err := database.MintAsset(ctx, a.id, "trader1"); err != nil {
			fatal("failed to mint asset", err)
		}
	}

	registry, err := market.NewRegistry(database, market.Config{
		Administrator: cfg.Administrator,
		Escrow:        cfg.EscrowAccount,
		FeeRate:       cfg.FeeRate,
	}, market.WithLogger(logger))
	if err != nil {
		fatal("failed to create registry", err)
	}
	state, err := database.LoadState(ctx)
	if err != nil {
		fatal("failed to load registry state", err)
	}
	if err := registry.Restore(state); err != nil {
		fatal("failed to restore registry", err)
	}

	// List every asset trader1 still holds
	for _, a := range assets {
		if _, ok := registry.Lookup(a.id); ok {
			continue
		}
		if _, err := registry.List(ctx, "trader1", a.id, a.price); err != nil {
			fatal("failed to list asset", err)
		}
	}

	// trader2 buys the first asset, overpaying to exercise the refund
	sale, err := registry.Buy(ctx, "trader2", assets[0].id, assets[0].price+500)
	if err != nil {
		fatal("failed to buy asset", err)
	}

	fmt.Printf("Successfully seeded the database: %d listings, sale %s at %d (fee %d)\n",
		registry.ListingCount(), sale.ID, sale.Price, sale.Fee)
}
