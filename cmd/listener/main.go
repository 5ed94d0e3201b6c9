package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pg_listener/internal/app"
	"pg_listener/internal/config"
	dLog "pg_listener/internal/domain/log"
)

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.MustLoad()

	fmt.Println("Connecting to database...")
	a, err := app.Build(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("close", dLog.Field{Key: "err", Value: err})
		}
		fmt.Println("Database connection closed.")
	}()

	if a.Metrics != nil {
		go func() {
			if err := a.Metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server stopped", dLog.Field{Key: "err", Value: err})
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = a.Metrics.Shutdown(shutdownCtx)
		}()
	}

	if err := a.Listener.Subscribe(ctx); err != nil {
		return err
	}
	select {
	case <-a.Listener.Done():
		// interrupted while subscribing
		return nil
	default:
	}
	a.Printer.Banner(a.Listener.Channels())

	if err := a.Listener.Run(ctx, a.Handler); err != nil {
		a.Logger.Error("listener stopped", dLog.Field{Key: "err", Value: err})
		return err
	}
	fmt.Println("\n\nStopping notification listener...")
	return nil
}
