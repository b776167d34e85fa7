package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"relaychat.com/internal/gateway/app"
)

func main() {
	// Ctrl+C / kubernetes stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gwApp, err := app.New("socket-gateway")
	if err != nil {
		log.Fatalf("init socket-gateway error: %v", err)
	}
	if err := gwApp.Run(ctx); err != nil {
		log.Fatalf("socket-gateway exited: %v", err)
	}
	log.Println("socket-gateway exit")
}
