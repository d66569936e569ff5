package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gobeaver/beaver-social/krypto"
	"github.com/gobeaver/beaver-social/notify"
	"github.com/gobeaver/beaver-social/oauth"
	"github.com/gobeaver/beaver-social/web"
)

func (c *cli) connectCmd() *cobra.Command {
	var (
		listen  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "connect <provider>",
		Short: "Authorize an account and store its credential in the vault",
		Long: "Starts a callback server on --listen, prints the provider's authorization URL\n" +
			"and waits until the browser comes back. Register http://<listen>/<provider>/callback\n" +
			"as the application's callback URL.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return c.connect(ctx, args[0], listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", envOr("BEAVER_CALLBACK_LISTEN", "127.0.0.1:8765"), "address of the local callback server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the authorization")
	return cmd
}

func (c *cli) connect(ctx context.Context, provider, listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	// The cookie is never used with a static identity but the handler
	// still requires a signing secret.
	secret, err := krypto.GenerateSecureToken(32)
	if err != nil {
		return err
	}
	webCfg := web.Config{
		AbsolutePath:    "http://" + ln.Addr().String(),
		SuccessPath:     "/done",
		CookieName:      "socialctl",
		CookieSecret:    secret,
		SecurityHeaders: true,
		RequestTimeout:  30 * time.Second,
	}

	a, err := c.newApp(ctx, webCfg.WithCallbacks)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, svc, err := a.service(ctx, c.identity, provider)
	if err != nil {
		return err
	}
	h, err := web.New(a.hub, webCfg, web.WithLogger(a.logger), web.WithStaticIdentity(c.identity))
	if err != nil {
		return err
	}
	router := h.Routes()
	router.Get("/done", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Connected. You can close this window.")
	})

	done := make(chan oauth.Event, 1)
	unsubscribe := a.bus.Subscribe(notify.ListenerFunc(func(_ context.Context, e oauth.Event) error {
		if e.Kind == oauth.EventOAuthComplete && e.Provider == provider && e.Identity == c.identity {
			select {
			case done <- e:
			default:
			}
		}
		return nil
	}))
	defer unsubscribe()

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("callback server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL, err := svc.AuthorizationURL(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Open this URL to authorize %s:\n\n  %s\n\n", provider, authURL)
	if c.browse != nil {
		if err := c.browse(ctx, authURL); err != nil {
			return err
		}
	}

	select {
	case e := <-done:
		if e.Status != oauth.StatusSuccess {
			return fmt.Errorf("authorization failed: %s", e.Message)
		}
		fmt.Fprintf(c.stdout, "Connected %s for %s.\n", provider, c.identity)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for authorization: %w", ctx.Err())
	}
}
