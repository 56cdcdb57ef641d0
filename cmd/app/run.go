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

	"predict_go/internal/app"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Start the agents and the health endpoint",
	GroupID: "engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Graceful Shutdown Context
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bootstrap := app.NewBootstrap(nil)
		if err := bootstrap.LoadConfig(configPath); err != nil {
			return err
		}
		if err := bootstrap.Initialize(ctx); err != nil {
			slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
			return err
		}
		if err := bootstrap.Start(); err != nil {
			bootstrap.Runtime.Terminate()
			_ = bootstrap.Wait()
			return err
		}

		addr := bootstrap.Config.Health.Addr
		srv := &http.Server{
			Addr:              addr,
			Handler:           bootstrap.HealthHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			// Localhost by default; see health.addr
			slog.Info("🕵️ Health server started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Health server failed", slog.Any("error", err))
			}
		}()

		err := bootstrap.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("Health server shutdown", slog.Any("error", serr))
		}
		return err
	},
}
