// Command viyv-browser-worker runs C5: the extension worker that
// dispatches tool_call records against a real Chromium debugger attach
// and emits tool_result/browser_event records back over its own stdio,
// using the same C1 framed codec the Bridge speaks to its own host
// (see internal/transport/framed, internal/worker).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/viyv-labs/browser-bridge/internal/config"
	"github.com/viyv-labs/browser-bridge/internal/store"
	"github.com/viyv-labs/browser-bridge/internal/worker"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

var Version = "dev"

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viyv-browser-worker",
		Short: "Chromium-debugger-attached browser-control worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $VIYV_BROWSER_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("viyv-browser-worker %s (protocol %d)\n", Version, protocol.ProtocolVersion)
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
	// stdout/stdin carry the C1 wire protocol; logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// versionInfo is the shape of Chromium's /json/version CDP discovery
// endpoint response.
type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// discoverControlURL builds the worker's ControlURLFunc: if
// cfg.CDPControlURL is set it's returned verbatim (already-known
// debugger target, e.g. under a managed launch), otherwise it queries
// cfg.CDPDiscoveryURL's /json/version endpoint, matching the public
// Chrome DevTools Protocol discovery contract.
func discoverControlURL(cfg *config.Config) worker.ControlURLFunc {
	return func(ctx context.Context) (string, error) {
		if cfg.CDPControlURL != "" {
			return cfg.CDPControlURL, nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.CDPDiscoveryURL+"/json/version", nil)
		if err != nil {
			return "", fmt.Errorf("worker: build discovery request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("worker: query %s: %w", cfg.CDPDiscoveryURL, err)
		}
		defer resp.Body.Close()

		var v versionInfo
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return "", fmt.Errorf("worker: decode discovery response: %w", err)
		}
		if v.WebSocketDebuggerURL == "" {
			return "", fmt.Errorf("worker: %s returned no webSocketDebuggerUrl", cfg.CDPDiscoveryURL)
		}
		return v.WebSocketDebuggerURL, nil
	}
}

func runWorker() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var sessionStore *store.SessionStore
	if cfg.StorePath != "" {
		db, err := store.Open(cfg.StorePath)
		if err != nil {
			slog.Warn("worker.store_open_failed", "path", cfg.StorePath, "error", err)
		} else {
			sessionStore = store.NewSessionStore(db)
		}
	}

	params := worker.DefaultParams(discoverControlURL(cfg), sessionStore)
	params.TabLockTTL = cfg.TabLockTTL()
	params.ScreenshotRingCap = cfg.ScreenshotRingSize
	params.LogRingPerTabCap = cfg.ConsolePerTabRingSize
	params.LogRingGlobalCap = cfg.ConsoleGlobalRingSize

	w := worker.New(params)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker.starting", "cdpControlUrl", cfg.CDPControlURL, "cdpDiscoveryUrl", cfg.CDPDiscoveryURL)
	if err := w.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker run: %w", err)
	}
	slog.Info("worker.stopped")
	return nil
}
