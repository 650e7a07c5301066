package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/chiwei-platform/paas-workloads/internal/adapter/http"
	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/spf13/cobra"
	cron "gopkg.in/robfig/cron.v2"
)

const (
	shutdownTimeout   = 30 * time.Second
	outputStreamBatch = 100
	// 日志保留月数
	outputStreamKeepMonths = 24
)

func newServeCmd(loadCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and periodic jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), loadCfg())
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	scheduler, err := scheduleJobs(ctx, c)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP 路由
	handler := httpadapter.NewRouter(
		httpadapter.NewAppHandler(c.apps, c.offline, c.entrance),
		httpadapter.NewDeploymentHandler(c.deploys),
		httpadapter.NewProcessHandler(c.apps, c.processes, c.runtimeLogs),
		httpadapter.NewStreamHandler(c.streams),
		httpadapter.NewAdminHandler(c.clusters, c.apps, c.clusterState),
		httpadapter.NewWorkloadHandler(c.apps, c.monitors, c.metrics, c.sandboxes),
		cfg.APIToken,
	)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	return nil
}

// scheduleJobs 注册定时生成集群状态与压缩部署日志的任务，表达式为空时不注册。
func scheduleJobs(ctx context.Context, c *components) (*cron.Cron, error) {
	scheduler := cron.New()
	if spec := c.cfg.CronRegionGenState; spec != "" {
		if _, err := scheduler.AddFunc(spec, func() { runRegionGenState(ctx, c) }); err != nil {
			return nil, fmt.Errorf("schedule region_gen_state %q: %w", spec, err)
		}
	}
	if spec := c.cfg.CronCleanOutputStream; spec != "" {
		if _, err := scheduler.AddFunc(spec, func() { runCleanOutputStream(ctx, c, time.Now()) }); err != nil {
			return nil, fmt.Errorf("schedule clean_outputstream %q: %w", spec, err)
		}
	}
	return scheduler, nil
}

func runRegionGenState(ctx context.Context, c *components) {
	for _, target := range c.cfg.RegionStateTargets() {
		states, err := c.clusterState.GenerateRegion(ctx, target.Region, target.IgnoreLabels)
		if err != nil {
			slog.Error("generate region cluster state failed", "target_region", target.Region, "error", err)
		}
		slog.Info("region cluster state generated", "target_region", target.Region, "clusters", len(states))
	}
}

func runCleanOutputStream(ctx context.Context, c *components, now time.Time) {
	before := now.AddDate(0, -outputStreamKeepMonths, 0)
	res, err := c.cleaner.Clean(ctx, before, outputStreamBatch, false)
	if err != nil {
		slog.Error("clean output streams failed", "error", err)
		return
	}
	slog.Info("output streams cleaned", "before", before, "streams", res.Streams, "lines", res.Lines)
}
