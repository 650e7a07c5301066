package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/spf13/cobra"
)

const (
	exitInvalid   = 1
	exitTransient = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		code := exitCode(err)
		if code == exitTransient {
			fmt.Fprintln(os.Stderr, "the operation may succeed if retried")
		}
		os.Exit(code)
	}
}

// exitCode 参数错误返回 1，其余视为可重试的临时失败。
func exitCode(err error) int {
	var ve *domain.ValidationError
	if errors.As(err, &ve) || errors.Is(err, domain.ErrInvalidInput) {
		return exitInvalid
	}
	return exitTransient
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config
	root := &cobra.Command{
		Use:           "paas-workloads",
		Short:         "Multi-cluster workload engine for the PaaS platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			setupLogger(cfg)
			if err := cfg.LoadExtras(); err != nil {
				return &domain.ValidationError{Field: "CONFIG_FILE", Message: err.Error()}
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &domain.ValidationError{Field: "flags", Message: err.Error()}
	})
	loadCfg := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(loadCfg),
		newRegionGenStateCmd(loadCfg),
		newUpsertCustomDomainCmd(loadCfg),
		newCleanOutputStreamCmd(loadCfg),
		newExportIdleAppsCmd(loadCfg),
	)
	return root
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler).With("region", cfg.Region))
}
