package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duochat/duochat-server/internal/server"
	"github.com/duochat/duochat-server/internal/store"
)

func main() {
	fmt.Println("Starting DuoChat relay server...")

	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)

	messages, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open message store at %s: %v", cfg.DBPath, err)
	}
	defer messages.Close()

	hub := server.NewHub()
	go hub.Run()

	router := server.NewRouter(hub, messages)
	httpServer := server.CreateServer(cfg.Port, router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
	}

	if err := server.ShutdownServer(httpServer, 10*time.Second); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := hub.Shutdown(10 * time.Second); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}
