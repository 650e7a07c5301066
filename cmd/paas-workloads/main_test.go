package main

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"参数错误", &domain.ValidationError{Field: "x", Message: "bad"}, exitInvalid},
		{"包装的参数错误", fmt.Errorf("upsert: %w", domain.ErrInvalidInput), exitInvalid},
		{"集群不可达", domain.ErrClusterUnreachable, exitTransient},
		{"未知错误", errors.New("boom"), exitTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels([]string{"node-role.kubernetes.io/master=true", "dedicated="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if labels["node-role.kubernetes.io/master"] != "true" {
		t.Errorf("labels = %v", labels)
	}
	if v, ok := labels["dedicated"]; !ok || v != "" {
		t.Errorf("empty value not kept: %v", labels)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseLabels([]string{bad}); exitCode(err) != exitInvalid {
			t.Errorf("parseLabels(%q) err = %v, want validation error", bad, err)
		}
	}
}

func TestRootCmd_ValidationBeforeWiring(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	tests := []struct {
		name string
		args []string
	}{
		{"未知参数", []string{"clean_outputstream", "--nope"}},
		{"月数非法", []string{"clean_outputstream", "--before_months", "0"}},
		{"缺少域名", []string{"upsert_custom_domain", "--app_code", "demo"}},
		{"缺少集群", []string{"export_cluster_idle_apps"}},
		{"标签格式错误", []string{"region_gen_state", "--ignore-labels", "master"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetArgs(tt.args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)
			err := root.Execute()
			if err == nil {
				t.Fatal("expected error")
			}
			if code := exitCode(err); code != exitInvalid {
				t.Errorf("exit code = %d (%v), want %d", code, err, exitInvalid)
			}
		})
	}
}

func TestRootCmd_InvalidConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", t.TempDir()+"/missing.yaml")
	root := newRootCmd()
	root.SetArgs([]string{"clean_outputstream"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); exitCode(err) != exitInvalid {
		t.Errorf("err = %v, want validation error", err)
	}
}
