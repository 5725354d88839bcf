package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/version"
	"golang.org/x/sync/errgroup"
)

const (
	gracefulShutdownTimeout = 30 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Activate the store and serve metrics until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.Default().WithField(logging.PhaseFieldKey, "run")
		logger.WithField("version", version.Version).Info("termstore run")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := service.New(ctx, cfg, logging.Default())
		if err != nil {
			logger.WithError(err).Fatal("Failed to open store")
		}
		if err := svc.Activate(ctx); err != nil {
			_ = svc.Close(context.Background())
			logger.WithError(err).Fatal("Failed to activate store")
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/_health", func(w http.ResponseWriter, _ *http.Request) {
			if !svc.Repo.IsActive() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		server := &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.WithField("listen_address", cfg.Metrics.ListenAddress).Info("Starting metrics server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
			defer cancel()
			var errs *multierror.Error
			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = multierror.Append(errs, err)
			}
			if err := svc.Close(shutdownCtx); err != nil {
				errs = multierror.Append(errs, err)
			}
			return errs.ErrorOrNil()
		})
		if err := g.Wait(); err != nil {
			logger.WithError(err).Error("Shutdown failed")
			os.Exit(1)
		}
		logger.Info("Shutdown complete")
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
