package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gobeaver/beaver-social/oauth"
)

func (c *cli) callCmd() *cobra.Command {
	var (
		params  []string
		query   []string
		headers []string
		data    string
	)
	cmd := &cobra.Command{
		Use:   "call <provider> <verb> <uri>",
		Short: "Send a signed request with the stored credential",
		Long: "Relative URIs are resolved against the provider's API base URL.\n" +
			"Parameters are signed and sent in the query for GET and DELETE, in the\n" +
			"form body otherwise. --data replaces the body.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := requestOptions(params, query, headers, data)
			if err != nil {
				return err
			}

			a, err := c.newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx, svc, err := a.service(cmd.Context(), c.identity, args[0])
			if err != nil {
				return err
			}
			verb := oauth.Verb(strings.ToUpper(args[1]))
			resp, err := svc.SendSignedRequest(ctx, verb, args[2], opts...)
			if err != nil {
				return err
			}
			c.print(resp.StatusCode, resp.Body())
			if !resp.IsSuccess() {
				return fmt.Errorf("%s %s: status %d", verb, args[2], resp.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "signed parameter name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header 'Name: value' (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "raw request body")
	return cmd
}

func requestOptions(params, query, headers []string, data string) ([]oauth.RequestOption, error) {
	var opts []oauth.RequestOption
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q, want name=value", p)
		}
		opts = append(opts, oauth.WithParam(name, value))
	}
	for _, q := range query {
		name, value, ok := strings.Cut(q, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --query %q, want name=value", q)
		}
		opts = append(opts, oauth.WithQuery(name, value))
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --header %q, want 'Name: value'", h)
		}
		opts = append(opts, oauth.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	if data != "" {
		opts = append(opts, oauth.WithPayload(data))
	}
	return opts, nil
}

func (c *cli) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <provider>",
		Short: "Forget the session and the stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx, svc, err := a.service(cmd.Context(), c.identity, args[0])
			if err != nil {
				return err
			}
			if err := svc.Disconnect(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Disconnected %s for %s.\n", args[0], c.identity)
			return nil
		},
	}
}

type providerRow struct {
	Provider  string `json:"provider"`
	Version   string `json:"version"`
	Connected bool   `json:"connected"`
}

func (c *cli) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and whether the identity is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx := oauth.WithIdentity(cmd.Context(), c.identity)
			rows := make([]providerRow, 0, len(a.hub.Names()))
			for _, name := range a.hub.Names() {
				svc, err := a.hub.Service(name)
				if err != nil {
					return err
				}
				connected, err := svc.IsConnected(ctx)
				if err != nil {
					return err
				}
				rows = append(rows, providerRow{Provider: name, Version: svc.Version(), Connected: connected})
			}

			if c.out == "json" {
				body, err := json.Marshal(rows)
				if err != nil {
					return err
				}
				c.print(0, body)
				return nil
			}
			for _, r := range rows {
				state := "not connected"
				if r.Connected {
					state = "connected"
				}
				fmt.Fprintf(c.stdout, "%-16s %-4s %s\n", r.Provider, r.Version, state)
			}
			return nil
		},
	}
}
