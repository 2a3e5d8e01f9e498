package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/polarlab/brisk/internal/config"
	"github.com/polarlab/brisk/internal/feed"
	"github.com/polarlab/brisk/internal/server"
	"github.com/polarlab/brisk/internal/storage"
	"github.com/polarlab/brisk/internal/task"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dataDir := os.Getenv("BRISK_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	secret := os.Getenv("BRISK_SECRET")
	if secret == "" {
		log.Fatal("BRISK_SECRET environment variable is required")
	}

	cfg, err := config.Load(os.Getenv("BRISK_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	registry := task.DefaultRegistry()
	if err := cfg.ApplyTaskPolicies(registry); err != nil {
		log.Fatalf("Failed to apply task policies: %v", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := storage.NewDB(dataDir + "/brisk.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(db, cfg, registry, feed.NewHub(), secret)
	srv.StartWorkers(ctx)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	fmt.Printf("Brisk collection API running on http://localhost:%s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, srv))
}
