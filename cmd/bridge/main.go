// Command viyv-browser-bridge runs C3: the relay between the extension
// worker's framed stdio (C1) and the Server's local socket (C2).
//
// In the browsers this protocol is modeled on, the browser itself
// spawns the bridge process as a native-messaging host and talks to it
// over stdio. Here that role is filled by cmd/worker, a Go process this
// command spawns as a subprocess and wires to its own stdio pipes —
// reusing the exact C1 framed codec (internal/transport/framed) rather
// than inventing a fourth transport for a pairing that is, on the wire,
// identical to the host/bridge relationship.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/viyv-labs/browser-bridge/internal/bridgecore"
	"github.com/viyv-labs/browser-bridge/internal/config"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

var Version = "dev"

var (
	cfgFile    string
	verbose    bool
	workerPath string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viyv-browser-bridge",
		Short: "Relay between the extension worker and the browser-bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $VIYV_BROWSER_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().StringVar(&workerPath, "worker-path", "", "path to the viyv-browser-worker binary (default: look up $PATH)")

	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("viyv-browser-bridge %s (protocol %d)\n", Version, protocol.ProtocolVersion)
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
	// The C1 wire protocol runs over pipes to the worker subprocess,
	// not over the Bridge's own stdio, so logs on stderr cannot
	// corrupt it.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func resolveSocketPath(cfg *config.Config) string {
	if v := os.Getenv("VIYV_BROWSER_SOCKET"); v != "" {
		return v
	}
	return cfg.SocketPath
}

func resolveWorkerPath() (string, error) {
	if workerPath != "" {
		return workerPath, nil
	}
	if p, err := exec.LookPath("viyv-browser-worker"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("viyv-browser-worker not found on PATH; pass --worker-path")
}

func runBridge() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sockPath := resolveSocketPath(cfg)

	workerBin, err := resolveWorkerPath()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCmd := exec.CommandContext(ctx, workerBin)
	workerCmd.Stderr = os.Stderr
	workerStdin, err := workerCmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin pipe: %w", err)
	}
	workerStdout, err := workerCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout pipe: %w", err)
	}
	if err := workerCmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	slog.Info("bridge.worker_started", "pid", workerCmd.Process.Pid, "path", workerBin)

	bridge := bridgecore.New(workerStdout, workerStdin, bridgecore.Params{
		SockPath:     sockPath,
		PollInterval: time.Duration(cfg.BridgeSocketPollIntervalSec) * time.Second,
		WaitTimeout:  time.Duration(cfg.BridgeSocketWaitSec) * time.Second,
		MinBackoff:   time.Duration(cfg.BridgeMinBackoffSec) * time.Second,
		MaxBackoff:   time.Duration(cfg.BridgeMaxBackoffSec) * time.Second,
	})

	slog.Info("bridge.starting", "socket", sockPath)
	runErr := bridge.Run(ctx)

	_ = workerStdin.Close()
	_ = workerCmd.Wait()

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("bridge run: %w", runErr)
	}
	slog.Info("bridge.stopped")
	return nil
}
