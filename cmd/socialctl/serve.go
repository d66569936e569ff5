package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gobeaver/beaver-social/web"
)

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the connect and callback routes for browser users",
		Long:  "Configured from BEAVER_WEB_*. Each browser gets its own identity cookie.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", envOr("BEAVER_WEB_LISTEN", ":8080"), "listen address (env BEAVER_WEB_LISTEN)")
	return cmd
}

func (c *cli) serve(ctx context.Context, listen string) error {
	webCfg, err := web.GetConfig()
	if err != nil {
		return err
	}
	a, err := c.newApp(ctx, webCfg.WithCallbacks)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	hc := web.NewHealthChecker(webCfg.Version)
	hc.RegisterCheck("database", a.db.PingContext)
	hc.RegisterCheck("cache", a.store.Ping)
	if a.nats != nil {
		hc.RegisterCheck("nats", a.nats.Ping)
	}
	for _, name := range a.hub.Names() {
		svc, err := a.hub.Service(name)
		if err != nil {
			return err
		}
		if cb := svc.Breaker(); cb != nil {
			hc.RegisterBreaker(name, cb)
		}
	}

	h, err := web.New(a.hub, *webCfg,
		web.WithLogger(a.logger),
		web.WithHealthChecker(hc),
		web.WithMetricsHandler(a.metrics.Handler()),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("listening",
		zap.String("addr", listen),
		zap.String("absolute_path", webCfg.AbsolutePath),
		zap.Strings("providers", a.hub.Names()))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
