package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medterm/medterm/internal/platform/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the terminology tools over the Model Context Protocol",
		Long: "Serves MCP over stdio by default. With --port the server listens for\n" +
			"streamable HTTP instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			port, _ := cmd.Flags().GetString("port")

			// stdout carries the protocol, so logs go to stderr.
			logger := newLogger(os.Stderr, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			names, err := cfg.Ontologies()
			if err != nil {
				return err
			}
			svc, store, err := newService(ctx, cfg, names, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			server, err := mcp.NewServer(svc, logger)
			if err != nil {
				return err
			}
			if port != "" {
				return server.RunHTTP(ctx, ":"+port)
			}
			return server.Run(ctx)
		},
	}
	cmd.Flags().String("port", "", "Serve streamable HTTP on this port instead of stdio")
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}
