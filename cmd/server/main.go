package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harshpratap3205/VedioCall/internal/config"
	"github.com/harshpratap3205/VedioCall/internal/logging"
	"github.com/harshpratap3205/VedioCall/internal/server"
	"github.com/harshpratap3205/VedioCall/internal/signaling"
)

func main() {
	logging.Init()

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	hub := signaling.NewHub()
	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Routes(hub),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("signaling server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
