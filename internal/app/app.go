package app

import (
	"context"

	api "walletfeed/internal/api/http"
	"walletfeed/internal/stream"

	"gitlab.com/nevasik7/alerting/logger"
)

// App starts and stops the long-running parts: the live-update listener and
// the ops HTTP server.
type App struct {
	log      logger.Logger
	httpSrv  *api.Server
	listener *stream.Listener
}

func New(log logger.Logger, httpSrv *api.Server, listener *stream.Listener) *App {
	return &App{log: log, httpSrv: httpSrv, listener: listener}
}

func (a *App) Start() error {
	a.log.Debug("App started begin...")

	if a.listener != nil {
		if err := a.listener.Start(); err != nil {
			return err
		}
	}

	errCh := a.httpSrv.Start()
	go func() {
		if err, ok := <-errCh; ok && err != nil {
			a.log.Fatalf("HTTP server failed, error=%v", err)
		}
	}()

	a.log.Info("App started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stopped begin...")

	if a.listener != nil {
		if err := a.listener.Stop(); err != nil {
			a.log.Errorf("Failed to stop live-update listener, error=%v", err)
		}
	}

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info("App stopped")
	return nil
}
