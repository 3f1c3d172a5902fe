package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sandeepkv93/labflags/internal/config"
	"github.com/sandeepkv93/labflags/internal/service"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Server   *http.Server
	Resolver *service.FeatureFlagResolver
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, resolver *service.FeatureFlagResolver) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Resolver: resolver}
}

// Run loads the flag table, serves HTTP until ctx is cancelled or the listener fails,
// then drains in-flight requests within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	if a.Resolver != nil {
		a.Resolver.WaitForInitialization(ctx)
		a.Logger.Info("feature flags initialized", "flags", len(a.Resolver.Keys()))
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	timeout := 15 * time.Second
	if a.Config != nil && a.Config.ShutdownTimeout > 0 {
		timeout = a.Config.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.Logger.Info("server shutting down", "timeout", timeout.String())
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
