package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kata/internal/bootstrap"
	"github.com/felixgeelhaar/kata/internal/config"
	mcpserver "github.com/felixgeelhaar/kata/internal/mcp"
)

var (
	mcpHTTPAddr string

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve kata tools over the Model Context Protocol (stdio by default)",
		Long: `Runs the MCP server in-process against the configured stores, so it
works without the daemon. Editors launch it as 'kata mcp'.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
)

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve over HTTP on this address instead of stdio")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer app.Close()

	srv := mcpserver.NewServer(mcpserver.Config{
		Catalog:      app.Registry,
		Drafts:       app.Drafts,
		Submissions:  app.Submissions,
		Interactions: app.Reconciler,
		Version:      Version,
	})

	if mcpHTTPAddr != "" {
		return srv.ServeHTTP(ctx, mcpHTTPAddr)
	}
	return srv.ServeStdio(ctx)
}
