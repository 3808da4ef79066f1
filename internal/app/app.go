package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tapit-auth/internal/client"
	"tapit-auth/internal/config"
	"tapit-auth/internal/dashboard"

	"golang.org/x/sync/errgroup"
)

type App struct {
	httpServer    *http.Server
	clients       *client.Registry
	dashboard     *dashboard.Handler
	sweepInterval time.Duration
	cleanup       func() error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	parts, cleanup, err := setupHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           parts.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		httpServer:    server,
		clients:       parts.clients,
		dashboard:     parts.dashboard,
		sweepInterval: cfg.ClientSweepInterval,
		cleanup:       cleanup,
	}, nil
}

// Run serves HTTP and collects idle client sessions until ctx is done
// or the server fails. It returns nil after a clean Shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.clients.Run(gctx, a.sweepInterval)
	})

	return g.Wait()
}

// Shutdown stops accepting requests, closes live field sockets after
// flushing their pending edits, then tears down every client session.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	a.dashboard.Shutdown()
	a.clients.Close()
	if a.cleanup != nil {
		return a.cleanup()
	}
	return nil
}
