package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/server"
)

func main() {
	logger := log.New(os.Stdout, "[authd] ", log.LstdFlags|log.Lshortfile)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("no .env loaded: %v", err)
	}

	cfg := server.FromEnv()
	if cfg.Production && cfg.UsingDevSecrets() {
		logger.Fatal("refusing to start: production mode with development signing secrets")
	}
	if cfg.UsingDevSecrets() {
		logger.Println("WARNING: using development signing secrets")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if err := srv.CloseStores(shutdownCtx); err != nil {
		logger.Printf("store close: %v", err)
	}
}
