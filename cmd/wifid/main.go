// Package main is the entry point for the wifi daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-wifi/internal/config"
	"github.com/bbernstein/lacylights-wifi/internal/database"
	"github.com/bbernstein/lacylights-wifi/internal/database/models"
	"github.com/bbernstein/lacylights-wifi/internal/database/repositories"
	"github.com/bbernstein/lacylights-wifi/internal/server"
	"github.com/bbernstein/lacylights-wifi/internal/services/network"
	"github.com/bbernstein/lacylights-wifi/internal/services/pubsub"
	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	printBanner(cfg)

	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		Driver:      cfg.DBDriver,
		MaxIdleConn: 2,
		MaxOpenConn: 4,
		Debug:       cfg.DBDebug,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, db); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
	log.Println("Server stopped")
}

// run serves the HTTP API until ctx is cancelled, then stops the driver.
func run(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	driver := wifi.NewDriver(cfg.Driver(), nil, nil,
		repositories.NewNVRepository(db, models.NVKeyDriver))

	srv := server.New(driver, pubsub.New(), server.Options{
		CORSOrigin:    cfg.CORSOrigin,
		Development:   cfg.IsDevelopment(),
		Version:       Version,
		APProfilePath: cfg.APProfile,
		Profiles:      repositories.NewNVRepository(db, models.NVKeyAPProfile),
		Lister:        network.Lister{CtrlDir: cfg.CtrlDir},
	})
	if err := srv.Attach(ctx); err != nil {
		return fmt.Errorf("failed to register link callbacks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, ":"+cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := driver.Stop(stopCtx); err != nil {
			log.Printf("Warning: driver stop failed: %v", err)
		}
		return nil
	})
	return g.Wait()
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  LacyLights WiFi Daemon")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Interface:   %s\n", cfg.Interface)
	fmt.Printf("  Recovery:    %v\n", cfg.AutoRecovery)
	fmt.Println("============================================")
}
