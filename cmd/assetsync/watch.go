package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/metrics"
	"github.com/dshills/assetsync/internal/project"
	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/manifest"
	"github.com/dshills/assetsync/internal/resource"
)

var watchCmd = &cobra.Command{
	Use:   "watch <project>",
	Short: "Keep a project in sync until interrupted",
	Long: `Open the project, start the watch commands of every enabled resource and log
tree, manifest and resource updates until SIGINT or SIGTERM.

When metrics.addr is set, Prometheus metrics are served on /metrics.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Named("watch")
	p, err := project.Open(ctx, args[0],
		project.WithConfig(cfg.ProjectConfig()),
		project.WithClient(&logClient{logger: logger}),
		project.WithServerControl(&logServer{logger: logger}))
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Resource.StopTimeout+5*time.Second)
	defer cancel()
	return p.Close(closeCtx)
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// logClient logs every update a project emits.
type logClient struct {
	logger *zap.Logger
}

func (c *logClient) FsTreeUpdate(u fstree.Update) {
	c.logger.Info("tree updated", zap.Int("replaced", len(u.Replace)), zap.Strings("deleted", u.Delete))
}

func (c *logClient) ResourcesUpdate(resources map[string]manifest.ResourceConfig) {
	c.logger.Info("resources updated", zap.Int("count", len(resources)))
}

func (c *logClient) ResourceStatus(name string, status resource.Status) {
	running := 0
	for _, cmd := range status.WatchCommands {
		if cmd.Running {
			running++
		}
	}
	c.logger.Info("resource status", zap.String("resource", name), zap.Int("watchCommandsRunning", running))
}

func (c *logClient) RestartResource(name string) {
	c.logger.Info("restart requested", zap.String("resource", name))
}

func (c *logClient) ReloadResource(name string) {
	c.logger.Info("reload requested", zap.String("resource", name))
}

func (c *logClient) Notify(err error) {
	c.logger.Warn("notification", zap.Error(err))
}

type logServer struct {
	logger *zap.Logger
}

func (s *logServer) SetEnabledResources(projectPath string, enabledPaths []string) {
	s.logger.Info("enabled resources", zap.String("project", projectPath), zap.Strings("paths", enabledPaths))
}
