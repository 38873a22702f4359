package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/aretw0/parley/pkg/adapters/http"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the HTTP API on ln until ctx is cancelled, then drains requests
// for up to five seconds. Pending workflow runs are resumed first when configured.
func Serve(ctx context.Context, app *App, ln net.Listener, streams *httpAdapter.StreamManager) error {
	opts := []httpAdapter.Option{
		httpAdapter.WithLogger(app.Logger),
		httpAdapter.WithAllowedOrigins(app.Config.Server.AllowedOrigins...),
	}
	if streams != nil {
		opts = append(opts, httpAdapter.WithStreams(streams))
	}
	if app.Config.Server.Metrics {
		opts = append(opts, httpAdapter.WithMetricsHandler(app.Metrics.Handler()))
	}

	srv := &http.Server{
		Handler:           httpAdapter.NewHandler(app.Service, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if app.Config.Server.ResumeOnStart {
		resumed, err := app.Service.Workflows().ResumePending(ctx)
		if err != nil {
			app.Logger.Warn("could not resume pending runs", "err", err)
		} else if len(resumed) > 0 {
			app.Logger.Info("resumed pending runs", "count", len(resumed))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info("parley listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		app.Logger.Info("parley server stopped gracefully")
		return nil
	})

	return g.Wait()
}
