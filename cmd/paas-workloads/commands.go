package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/spf13/cobra"
)

// withComponents 为一次性命令装配服务并在结束后释放。
func withComponents(ctx context.Context, cfg *config.Config, fn func(c *components) error) error {
	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()
	return fn(c)
}

// parseLabels 解析 k=v 形式的标签参数。
func parseLabels(items []string) (map[string]string, error) {
	labels := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			return nil, &domain.ValidationError{Field: "ignore-labels", Message: fmt.Sprintf("%q is not in k=v form", item)}
		}
		labels[k] = v
	}
	return labels, nil
}

// requireFlags 检查必填参数，缺失按参数错误处理。
func requireFlags(values map[string]string) error {
	for name, v := range values {
		if v == "" {
			return &domain.ValidationError{Field: name, Message: "is required"}
		}
	}
	return nil
}

func newRegionGenStateCmd(loadCfg func() *config.Config) *cobra.Command {
	var (
		region       string
		cluster      string
		ignoreLabels []string
	)
	cmd := &cobra.Command{
		Use:   "region_gen_state",
		Short: "Generate a new RegionClusterState when the node set changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, err := parseLabels(ignoreLabels)
			if err != nil {
				return err
			}
			cfg := loadCfg()
			if region == "" {
				region = cfg.Region
			}
			return withComponents(cmd.Context(), cfg, func(c *components) error {
				if cluster != "" {
					state, created, err := c.clusterState.GenerateState(cmd.Context(), region, cluster, labels)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "cluster %s: state %s (created=%t)\n", cluster, state.Name, created)
					return nil
				}
				// 部分集群失败时仍输出已生成的快照
				states, err := c.clusterState.GenerateRegion(cmd.Context(), region, labels)
				for _, s := range states {
					fmt.Fprintf(cmd.OutOrStdout(), "cluster %s: state %s\n", s.ClusterName, s.Name)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region to process (defaults to REGION)")
	cmd.Flags().StringVar(&cluster, "cluster", "", "only process this cluster")
	cmd.Flags().StringSliceVar(&ignoreLabels, "ignore-labels", nil, "skip nodes carrying any of these k=v labels")
	return cmd
}

func newUpsertCustomDomainCmd(loadCfg func() *config.Config) *cobra.Command {
	var (
		req        service.UpsertCustomDomainRequest
		env        string
		publishApp bool
	)
	cmd := &cobra.Command{
		Use:   "upsert_custom_domain",
		Short: "Create or update a custom domain for a module environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlags(map[string]string{"app_code": req.AppCode, "domain_name": req.DomainName}); err != nil {
				return err
			}
			req.Environment = domain.Environment(env)
			return withComponents(cmd.Context(), loadCfg(), func(c *components) error {
				d, err := c.entrance.UpsertCustomDomain(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "domain %s%s saved for %s/%s/%s\n", d.Name, d.PathPrefix, req.AppCode, req.ModuleName, req.Environment)
				if publishApp && req.Environment == domain.EnvProd {
					slog.Warn("market publishing is handled by the platform console, skipped", "app_code", req.AppCode)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.AppCode, "app_code", "", "application code")
	cmd.Flags().StringVar(&req.ModuleName, "app_module", domain.DefaultModuleName, "module name")
	cmd.Flags().StringVar(&env, "app_env", string(domain.EnvProd), "environment (stag|prod)")
	cmd.Flags().StringVar(&req.DomainName, "domain_name", "", "custom domain host")
	cmd.Flags().StringVar(&req.PathPrefix, "path_prefix", "/", "path prefix")
	cmd.Flags().BoolVar(&req.HTTPSEnabled, "https_enabled", false, "serve the domain over https")
	cmd.Flags().BoolVar(&publishApp, "publish_app", false, "publish the prod address to the market")
	return cmd
}

func newCleanOutputStreamCmd(loadCfg func() *config.Config) *cobra.Command {
	var (
		beforeMonths int
		batchSize    int
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "clean_outputstream",
		Short: "Compact deployment logs older than the given number of months",
		RunE: func(cmd *cobra.Command, args []string) error {
			if beforeMonths <= 0 {
				return &domain.ValidationError{Field: "before_months", Message: "must be positive"}
			}
			if batchSize <= 0 {
				return &domain.ValidationError{Field: "batch_size", Message: "must be positive"}
			}
			before := time.Now().AddDate(0, -beforeMonths, 0)
			return withComponents(cmd.Context(), loadCfg(), func(c *components) error {
				res, err := c.cleaner.Clean(cmd.Context(), before, batchSize, dryRun)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "streams=%d lines=%d dry_run=%t\n", res.Streams, res.Lines, dryRun)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&beforeMonths, "before_months", outputStreamKeepMonths, "compact streams older than N months")
	cmd.Flags().IntVar(&batchSize, "batch_size", outputStreamBatch, "streams per batch")
	cmd.Flags().BoolVar(&dryRun, "dry_run", false, "only count what would be compacted")
	return cmd
}

func newExportIdleAppsCmd(loadCfg func() *config.Config) *cobra.Command {
	var (
		cluster  string
		idleDays int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "export_cluster_idle_apps",
		Short: "Export apps without recent deployments that still run instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlags(map[string]string{"cluster": cluster}); err != nil {
				return err
			}
			if idleDays <= 0 {
				return &domain.ValidationError{Field: "idle_days", Message: "must be positive"}
			}
			if output == "" {
				output = fmt.Sprintf("%s-idle-apps-%s.xlsx", cluster, time.Now().Format("20060102"))
			}
			return withComponents(cmd.Context(), loadCfg(), func(c *components) error {
				apps, err := c.idle.Report(cmd.Context(), cluster, idleDays, time.Now())
				if err != nil {
					return err
				}
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create report file: %w", err)
				}
				if err := service.WriteIdleReport(f, apps); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close report file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d idle apps written to %s\n", len(apps), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cluster, "cluster", "", "cluster name")
	cmd.Flags().IntVar(&idleDays, "idle_days", 180, "days since the last successful deployment")
	cmd.Flags().StringVarP(&output, "output", "o", "", "xlsx file to write")
	return cmd
}
