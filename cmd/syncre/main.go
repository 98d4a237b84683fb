// Command syncre is a terminal client for Syncre end-to-end encrypted chats.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Syncre-App/chatcore/internal/cli"
	"github.com/Syncre-App/chatcore/internal/config"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

var (
	logLevel string
	logPath  string
)

var rootCmd = &cobra.Command{
	Use:           "syncre",
	Short:         "Terminal client for Syncre encrypted chats",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadApp reads configuration, applies the logging flags and wires the
// client.
func loadApp(cmd *cobra.Command) (*cli.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := initLog(cfg, cmd.Flags().Changed("log-level")); err != nil {
		return nil, err
	}
	return cli.NewApp(cfg), nil
}

func initLog(cfg *config.Config, flagSet bool) error {
	raw := cfg.LogLevel
	if flagSet {
		raw = logLevel
	}
	if cfg.Debug && !flagSet {
		raw = "debug"
	}
	level, err := logger.ParseLevel(raw)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if logPath != "" && logPath != "-" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "v", "info",
		"Log threshold (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logPath, "log", "l", "-",
		"Path to the log output (- is stderr)")
}
