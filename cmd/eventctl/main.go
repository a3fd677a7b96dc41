// Command eventctl administers events and bulk-loads photos directly against
// the configured store, without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/observability"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "eventctl",
	Short: "Manage events and photos of the eventface store",
	Long: `eventctl talks to the eventface database, object storage and face
extractor using the same configuration file as the API and worker.

It can create and delete events, bulk-import a directory of photos,
run a selfie match and inspect single photos.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != "postgres" {
			return fmt.Errorf("eventctl needs the postgres storage driver, got %q", cfg.Storage.Driver)
		}
		logLevel, _ := cmd.Flags().GetString("log-level")
		observability.SetupLogger(logLevel, "text")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
