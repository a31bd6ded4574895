package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/consoled/internal/app"
	"github.com/nfrund/consoled/internal/config"
	"github.com/nfrund/consoled/internal/logging"
)

var serveFlags struct {
	addr     string
	manifest string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = serveFlags.addr
		}
		if cmd.Flags().Changed("manifest") {
			cfg.Manifest = serveFlags.manifest
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logging.New(cfg.LogFormat, cfg.LogLevel)
		slog.Info("Starting consoled", "version", version, "addr", cfg.Addr, "manifest", cfg.Manifest, "mqtt", cfg.MQTTEnabled())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := app.New(cfg, afero.NewOsFs())
		runErr := a.Run(ctx)
		if err := a.Close(); err != nil && runErr == nil {
			runErr = err
		}
		if runErr != nil {
			slog.Error("Console server stopped with error", "error", runErr)
		}
		return runErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address, overrides CONSOLE_ADDR")
	serveCmd.Flags().StringVar(&serveFlags.manifest, "manifest", "", "component manifest, overrides CONSOLE_MANIFEST")
	rootCmd.AddCommand(serveCmd)
}
