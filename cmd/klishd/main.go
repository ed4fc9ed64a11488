// Command klishd is the KTP daemon: it loads a scheme, binds a listen
// socket, and serves client sessions until terminated (§6 "Daemon"),
// following the teacher's own cobra-plus-signal-context cli/main.go shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klish-project/klish/runtime/daemon"
)

func main() {
	var (
		schemePath string
		cachePath  string
		socketPath string
		rootView   string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "klishd",
		Short:         "Run the klish command-scheme daemon",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			d, err := daemon.New(daemon.Config{
				SchemePath: schemePath,
				CachePath:  cachePath,
				SocketPath: socketPath,
				RootView:   rootView,
				Logger:     logger,
			})
			if err != nil {
				return fmt.Errorf("klishd: %w", err)
			}
			defer d.Shutdown()

			ln, err := daemon.Listen(socketPath)
			if err != nil {
				return fmt.Errorf("klishd: %w", err)
			}

			ctx, cancel := newSignalContext()
			defer cancel()

			logger.Info("klishd: serving", "socket", socketPath)
			if err := d.Serve(ctx, ln); err != nil && ctx.Err() == nil {
				return fmt.Errorf("klishd: %w", err)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&schemePath, "scheme", "s", "/etc/klish/scheme.json", "Path to the scheme JSON file")
	rootCmd.Flags().StringVar(&cachePath, "cache", "", "Path to the CBOR scheme compile cache (disabled if empty)")
	rootCmd.Flags().StringVar(&socketPath, "socket", "/tmp/klish-unix.sock", "Path to the listen socket")
	rootCmd.Flags().StringVar(&rootView, "root-view", "main", "View a fresh session's path stack starts at")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newSignalContext cancels on SIGINT/SIGTERM/SIGQUIT (§5 "break the event
// loop after the current iteration"), the same shape as the teacher's
// newCancellableContext in cli/main.go, extended with SIGQUIT per the
// daemon's own expanded signal set.
func newSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
