package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kiln-build/kiln/internal/service"
)

func init() {
	var (
		workers     int
		metricsAddr string
		reportPath  string
		progress    bool
	)

	build := &cobra.Command{
		Use:   "build [package...]",
		Short: "Build packages in dependency order",
		Long: `Build resolves the recipe tree into a build order and drives every
package through the pipeline. With package arguments only those packages
and their build dependencies are built.

Individual package failures do not fail the run; consult the summary
table or the run report for per-package outcomes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Parallelism = workers
			}
			if reportPath != "" {
				cfg.Report = reportPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Warnf("metrics endpoint: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			rep, err := service.New().
				WithConfig(cfg).
				WithLogger(logger).
				WithPackages(args).
				WithProgress(progress).
				Run(ctx)
			if err != nil {
				return err
			}

			if err := rep.RenderTable(os.Stdout); err != nil {
				return err
			}
			if failed := rep.Failed(); failed > 0 {
				logger.Warnf("%d package(s) failed, see the build logs", failed)
			}
			return nil
		},
	}

	build.Flags().IntVarP(&workers, "workers", "w", 0, "override the configured worker count")
	build.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	build.Flags().StringVar(&reportPath, "report", "", "write the YAML run report to this path")
	build.Flags().BoolVar(&progress, "progress", isatty.IsTerminal(os.Stdout.Fd()), "show download progress bars")

	RootCommand.AddCommand(build)
}
