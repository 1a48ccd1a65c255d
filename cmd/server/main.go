package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opensandbox/opensandbox/internal/activity"
	"github.com/opensandbox/opensandbox/internal/api"
	"github.com/opensandbox/opensandbox/internal/config"
	"github.com/opensandbox/opensandbox/internal/hypervisor"
	"github.com/opensandbox/opensandbox/internal/network"
	"github.com/opensandbox/opensandbox/internal/orchestrator"
	"github.com/opensandbox/opensandbox/internal/storage"
	"github.com/opensandbox/opensandbox/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		st = pg
		log.Println("sandboxd: using PostgreSQL VM store")
	} else {
		dbPath := filepath.Join(cfg.DataDir, "vms.db")
		sq, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			log.Fatalf("failed to open sqlite store at %s: %v", dbPath, err)
		}
		st = sq
		log.Printf("sandboxd: using local SQLite VM store at %s", dbPath)
	}
	defer st.Close()

	sp := storage.New(cfg.ChrootBase, cfg.StorageRoot, storage.CloneMode(cfg.RootfsCloneMode))

	nm, err := network.New(cfg.BridgeName, cfg.GatewayIP, cfg.SubnetCIDR)
	if err != nil {
		log.Fatalf("failed to initialize network manager: %v", err)
	}

	hv := hypervisor.New(hypervisor.Config{
		FirecrackerBin: cfg.FirecrackerBin,
		JailerBin:      cfg.JailerBin,
		JailerUID:      cfg.JailerUID,
		JailerGID:      cfg.JailerGID,
	})

	bus := activity.NewBus()
	if cfg.ActivityWebhookURL != "" {
		bus.Subscribe(activity.WebhookSubscriber(cfg.ActivityWebhookURL))
		log.Printf("sandboxd: activity webhook configured (%s)", cfg.ActivityWebhookURL)
	}
	bus.Subscribe(func(e activity.Event) {
		log.Printf("sandboxd: event %s vm=%s", e.Type, e.VmID)
	})

	orch := orchestrator.New(cfg, sp, nm, hv, st, bus)

	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := orch.SeedAllocators(seedCtx); err != nil {
		cancel()
		log.Fatalf("failed to seed allocators: %v", err)
	}
	cancel()

	server := api.NewServer(orch)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("sandboxd: starting server on %s", addr)

	go func() {
		if err := server.Start(addr); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("sandboxd: shutting down...")
	if err := server.Close(); err != nil {
		log.Printf("error closing server: %v", err)
	}
}
