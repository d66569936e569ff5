// Command socialctl connects provider accounts and sends signed requests
// from the command line.
//
//	socialctl connect github
//	socialctl call github GET /user --out json
//	socialctl call twitter POST /statuses/update.json -p status=hello
//	socialctl serve
//
// Providers, storage and notifications are configured from BEAVER_*
// variables, see the config package.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gobeaver/beaver-social/oauth"
)

type cli struct {
	identity string
	catalog  string
	out      string // "json" | "text"
	stdout   io.Writer

	// newRegistry and browse are replaced in tests.
	newRegistry func() *oauth.Registry
	browse      func(ctx context.Context, authURL string) error
}

func main() {
	c := &cli{stdout: os.Stdout, newRegistry: oauth.DefaultRegistry}
	if err := c.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "socialctl",
		Short:         "Connect OAuth provider accounts and call their APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.identity, "identity", envOr("BEAVER_IDENTITY", "default"), "identity that owns the credentials (env BEAVER_IDENTITY)")
	root.PersistentFlags().StringVar(&c.catalog, "catalog", envOr("BEAVER_OAUTH_CATALOG", ""), "YAML file with extra provider APIs (env BEAVER_OAUTH_CATALOG)")
	root.PersistentFlags().StringVar(&c.out, "out", envOr("BEAVER_OUT", "text"), "output format: json|text")

	root.AddCommand(
		c.connectCmd(),
		c.callCmd(),
		c.disconnectCmd(),
		c.providersCmd(),
		c.serveCmd(),
	)
	return root
}

func (c *cli) print(status int, body []byte) {
	if c.out == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(c.stdout, string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Fprintln(c.stdout, string(body))
	} else {
		fmt.Fprintf(c.stdout, "status=%d\n", status)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
