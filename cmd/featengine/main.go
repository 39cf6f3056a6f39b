package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stock-evalv1/internal/featengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := featengine.LoadConfig()
	log.Printf("[featengine] symbols: %v, snapshot interval: %ds", cfg.Symbols, cfg.SnapshotIntervalS)

	svc, err := featengine.New(cfg)
	if err != nil {
		log.Fatalf("[featengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[featengine] fatal: %v", err)
	}
}
