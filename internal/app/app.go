package app

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/core"
	transporthttp "github.com/parleychat/parley/internal/transport/http"
)

// App wires together the coordinator and the transport layer.
type App struct {
	server          *stdhttp.Server
	coord           *core.Server
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) *App {
	coord := core.NewServer(logger, cfg.FlowBuffer)
	server := transporthttp.NewServer(coord, cfg, logger)

	return &App{
		server:          server,
		coord:           coord,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
}

// Run starts the coordinator and the HTTP server and blocks until context
// cancellation or fatal error. The coordinator tears every live stream
// down before Run returns.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	coordCtx, stopCoord := context.WithCancel(context.Background())
	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		a.coord.Run(coordCtx)
	}()

	stop := func() {
		stopCoord()
		<-coordDone
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stop()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			stop()
			return err
		}

		stop()
		return <-serverErr
	}
}
