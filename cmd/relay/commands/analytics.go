package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var analyticsAddr string

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Completion run analytics",
}

var analyticsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run aggregates and Prometheus metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if analyticsAddr != "" {
			cfg.Analytics.Addr = analyticsAddr
		}
		c, err := openClientWith(cmd, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		srv := c.AnalyticsServer()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		c.Log.Info().Str("addr", srv.Addr).Msg("analytics server listening")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	analyticsServeCmd.Flags().StringVar(&analyticsAddr, "addr", "", "Listen address (default from config)")
	analyticsCmd.AddCommand(analyticsServeCmd)
}
