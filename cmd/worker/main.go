package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"consilium/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (postgres, relay dispatcher, handlers).
// 3) Dispatch outbox batches until SIGINT/SIGTERM.
func main() {
	log.Println("consilium worker starting")
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("consilium worker stopped with error: %v", err)
	}
}
