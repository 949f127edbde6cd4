package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adeguard/auth"
	"adeguard/config"
	"adeguard/handlers"
	"adeguard/metrics"
	"adeguard/service"
	"adeguard/version"

	"github.com/apex/log"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	info := version.Get("adeguard")
	log.WithFields(log.Fields{
		"version":     info.Version,
		"git_sha":     info.GitSHA,
		"environment": cfg.Environment,
	}).Info("adeguard.starting")

	metrics.Register()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	svc, err := service.Open(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	svc.Start(context.Background())

	authService, err := auth.NewService(auth.Config{
		Secret:        cfg.JWTSecret,
		AccessExpiry:  cfg.AccessTokenExpiry,
		RefreshExpiry: cfg.RefreshTokenExpiry,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	})
	if err != nil {
		log.Fatalf("Failed to create auth service: %v", err)
	}

	router := handlers.SetupRouter(handlers.NewHandlers(svc, authService, cfg.AllowedOrigins), cfg)

	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	svc.Stop()

	log.Info("Server exited")
}
