package domain

import (
	"fmt"
	"time"
)

// SandboxKind 是临时工作负载的类别。
type SandboxKind string

const (
	SandboxAgent      SandboxKind = "agent_sandbox"
	SandboxCodeEditor SandboxKind = "code_editor"
)

// SandboxStatus 是沙箱的运行状态。
type SandboxStatus string

const (
	SandboxPending SandboxStatus = "pending"
	SandboxRunning SandboxStatus = "running"
	SandboxFailed  SandboxStatus = "failed"
	SandboxUnknown SandboxStatus = "unknown"
)

// Sandbox 是一个 Pod + Service 组成的临时工作负载，生命周期独立于应用环境。
type Sandbox struct {
	UUID        string               `json:"uuid"`
	Kind        SandboxKind          `json:"kind"`
	AppCode     string               `json:"app_code"`
	ModuleName  string               `json:"module_name"`
	Environment Environment          `json:"environment"`
	ClusterName string               `json:"cluster_name"`
	Image       string               `json:"image"`
	Envs        map[string]string    `json:"envs,omitempty"`
	DaemonPort  int32                `json:"daemon_port"`
	Workdir     string               `json:"workdir,omitempty"`
	Resources   ResourceRequirements `json:"resources"`
	NodePort    bool                 `json:"node_port"`
	Status      SandboxStatus        `json:"status"`
	Operator    string               `json:"operator,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Namespace 返回沙箱所在命名空间：bk-agent-sbx-{safe_app_id}。
func (s *Sandbox) Namespace() string {
	return fmt.Sprintf("bk-agent-sbx-%s", SafeAppID(s.AppCode))
}

// Name 返回 Pod/Service 共用的资源名。
func (s *Sandbox) Name() string {
	short := s.UUID
	if len(short) > 8 {
		short = short[:8]
	}
	prefix := "sbx"
	if s.Kind == SandboxCodeEditor {
		prefix = "editor"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, SafeAppID(s.AppCode), short)
}

// Labels 是沙箱资源的标签。
func (s *Sandbox) Labels() map[string]string {
	return map[string]string{
		LabelAppCode:    s.AppCode,
		LabelModuleName: s.ModuleName,
		LabelEnv:        string(s.Environment),
		LabelCategory:   string(s.Kind),
		"sandbox_id":    s.UUID,
	}
}

// SandboxRuntime 是沙箱在集群中的实时状态与访问地址。
type SandboxRuntime struct {
	Status   SandboxStatus `json:"status"`
	PodIP    string        `json:"pod_ip,omitempty"`
	HostIP   string        `json:"host_ip,omitempty"`
	NodePort int32         `json:"node_port,omitempty"`
	// ServiceAddr 是集群内访问地址 {svc}.{ns}:{port}
	ServiceAddr string `json:"service_addr"`
}
