// Command viyv-browser-server runs C4: the in-process pending-request
// engine, session table, event subsystem, and MCP tool catalogue that a
// client talks to (spec §4.4).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/viyv-labs/browser-bridge/internal/config"
	"github.com/viyv-labs/browser-bridge/internal/server"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile   string
	verbose   bool
	agentName string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viyv-browser-server",
		Short: "AI agent ↔ browser bridge server",
		Long:  "Exposes the fixed browser-control tool catalogue over MCP, dispatching calls to the extension worker via the local socket Bridge.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $VIYV_BROWSER_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().StringVar(&agentName, "agent-name", "default", "default agent id used for single-agent MCP clients")

	root.AddCommand(versionCmd())
	root.AddCommand(doctorCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("viyv-browser-server %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and socket health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("VIYV_BROWSER_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	// stdout carries the MCP client's stdio transport (runServer wires
	// mcpserver.NewStdioServer onto it), so logs go to stderr instead.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServer() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if agentName != "" {
		cfg.DefaultAgentName = agentName
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg)
	srv.Events.Deliver = deliverEventNotification(srv.Catalogue.MCP)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.SocketPath)
	})
	g.Go(func() error {
		stdio := mcpserver.NewStdioServer(srv.Catalogue.MCP)
		if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && gctx.Err() == nil {
			return fmt.Errorf("mcp stdio serve: %w", err)
		}
		return nil
	})

	slog.Info("server.starting", "socket", cfg.SocketPath, "defaultAgent", cfg.DefaultAgentName)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server run: %w", err)
	}
	slog.Info("server.stopped")
	return nil
}

// deliverEventNotification bridges EventSubsystem.Deliver to the MCP
// client's own notification channel, so a matching browser_event
// actually reaches a subscribed client instead of being dropped on the
// floor (spec §4.4.5, §8 property 8).
func deliverEventNotification(mcp *mcpserver.MCPServer) func(server.Notification) error {
	return func(n server.Notification) error {
		mcp.SendNotificationToAllClients("notifications/browser_event", map[string]any{
			"subscriptionId": n.SubscriptionID,
			"event":          n.Event,
		})
		return nil
	}
}

func runDoctor() {
	fmt.Println("viyv-browser-server doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (found)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  Socket:   %s", cfg.SocketPath)
	if _, err := os.Stat(cfg.SocketPath); err != nil {
		fmt.Println(" (not present — extension not yet connected)")
	} else {
		fmt.Println(" (present)")
	}
}
