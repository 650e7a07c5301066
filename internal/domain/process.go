package domain

import (
	"sort"
	"strings"
	"time"
)

// DefaultTargetPort 是用户进程监听的默认端口，通过 PORT 环境变量注入。
const DefaultTargetPort = 5000

// ProcTypeWeb 是默认承接流量的进程类型。
const ProcTypeWeb = "web"

// ProcessTargetStatus 是进程的期望运行状态。
type ProcessTargetStatus string

const (
	ProcessStart ProcessTargetStatus = "start"
	ProcessStop  ProcessTargetStatus = "stop"
)

// ScalingPolicy 决定 HPA 的指标配置。
type ScalingPolicy string

// ScalingPolicyDefault 对应 CPU 利用率 85%。
const ScalingPolicyDefault ScalingPolicy = "default"

// AutoscalingConfig 是进程自动扩缩容配置。
type AutoscalingConfig struct {
	MinReplicas int           `json:"min_replicas"`
	MaxReplicas int           `json:"max_replicas"`
	Policy      ScalingPolicy `json:"policy"`
}

func (c AutoscalingConfig) Validate() error {
	if c.MinReplicas < 1 {
		return &ValidationError{Field: "scaling_config.min_replicas", Message: "must be at least 1"}
	}
	if c.MaxReplicas < c.MinReplicas {
		return &ValidationError{Field: "scaling_config.max_replicas", Message: "must not be less than min_replicas"}
	}
	if c.Policy != ScalingPolicyDefault {
		return &ValidationError{Field: "scaling_config.policy", Message: "unsupported policy " + string(c.Policy)}
	}
	return nil
}

// ProbeType 是探针类别。
type ProbeType string

const (
	ProbeLiveness  ProbeType = "liveness"
	ProbeReadiness ProbeType = "readiness"
	ProbeStartup   ProbeType = "startup"
)

// ProbePortPlaceholder 在渲染时替换为进程监听端口。
const ProbePortPlaceholder = "${PORT}"

type ExecAction struct {
	Command []string `json:"command"`
}

type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type HTTPGetAction struct {
	Path        string       `json:"path,omitempty"`
	Port        string       `json:"port"`
	Host        string       `json:"host,omitempty"`
	Scheme      string       `json:"scheme,omitempty"`
	HTTPHeaders []HTTPHeader `json:"http_headers,omitempty"`
}

type TCPSocketAction struct {
	Port string `json:"port"`
	Host string `json:"host,omitempty"`
}

// Probe 是一个健康探针，Exec / HTTPGet / TCPSocket 三选一。
type Probe struct {
	Exec                *ExecAction      `json:"exec,omitempty"`
	HTTPGet             *HTTPGetAction   `json:"http_get,omitempty"`
	TCPSocket           *TCPSocketAction `json:"tcp_socket,omitempty"`
	InitialDelaySeconds int32            `json:"initial_delay_seconds,omitempty"`
	TimeoutSeconds      int32            `json:"timeout_seconds,omitempty"`
	PeriodSeconds       int32            `json:"period_seconds,omitempty"`
	SuccessThreshold    int32            `json:"success_threshold,omitempty"`
	FailureThreshold    int32            `json:"failure_threshold,omitempty"`
}

func (p *Probe) Validate() error {
	n := 0
	if p.Exec != nil {
		n++
	}
	if p.HTTPGet != nil {
		n++
	}
	if p.TCPSocket != nil {
		n++
	}
	if n != 1 {
		return &ValidationError{Field: "probe", Message: "exactly one of exec, http_get, tcp_socket is required"}
	}
	return nil
}

// ProbeSet 是进程的三类探针，缺失的探针不会渲染到容器中。
type ProbeSet struct {
	Liveness  *Probe `json:"liveness,omitempty"`
	Readiness *Probe `json:"readiness,omitempty"`
	Startup   *Probe `json:"startup,omitempty"`
}

// Get 按类别取探针。
func (s ProbeSet) Get(t ProbeType) *Probe {
	switch t {
	case ProbeLiveness:
		return s.Liveness
	case ProbeReadiness:
		return s.Readiness
	case ProbeStartup:
		return s.Startup
	}
	return nil
}

// Set 按类别写入探针。
func (s *ProbeSet) Set(t ProbeType, p *Probe) {
	switch t {
	case ProbeLiveness:
		s.Liveness = p
	case ProbeReadiness:
		s.Readiness = p
	case ProbeStartup:
		s.Startup = p
	}
}

// ProcessTmpl 是调用方声明的进程模板，sync 的输入。
type ProcessTmpl struct {
	Name          string             `json:"name"`
	Command       string             `json:"command"`
	Replicas      *int               `json:"replicas,omitempty"`
	Plan          string             `json:"plan,omitempty"`
	Probes        *ProbeSet          `json:"probes,omitempty"`
	Autoscaling   *bool              `json:"autoscaling,omitempty"`
	ScalingConfig *AutoscalingConfig `json:"scaling_config,omitempty"`
}

// ProcessSpec 是模块级的进程声明，一个进程名对应一个 Deployment。
type ProcessSpec struct {
	ID         string `json:"id"`
	AppCode    string `json:"app_code"`
	ModuleName string `json:"module_name"`
	Name       string `json:"name"`
	// ProcCommand 是 Procfile 中的原始命令
	ProcCommand    string             `json:"proc_command"`
	Command        []string           `json:"command,omitempty"`
	Args           []string           `json:"args,omitempty"`
	TargetReplicas *int               `json:"target_replicas,omitempty"`
	Plan           string             `json:"plan"`
	Probes         ProbeSet           `json:"probes"`
	Autoscaling    bool               `json:"autoscaling"`
	ScalingConfig  *AutoscalingConfig `json:"scaling_config,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ProcessSpecEnvOverlay 是进程在某个环境下的覆盖配置。
type ProcessSpecEnvOverlay struct {
	SpecID         string              `json:"spec_id"`
	Environment    Environment         `json:"environment"`
	TargetReplicas *int                `json:"target_replicas,omitempty"`
	TargetStatus   ProcessTargetStatus `json:"target_status"`
	Autoscaling    *bool               `json:"autoscaling,omitempty"`
	ScalingConfig  *AutoscalingConfig  `json:"scaling_config,omitempty"`
	Plan           string              `json:"plan,omitempty"`
	// LastOperatedAt 用于限制同一进程的操作频率
	LastOperatedAt *time.Time `json:"last_operated_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DefaultProcessType 选出承接流量的进程：有 web 用 web，否则取名称最小者；没有进程时返回空串。
func DefaultProcessType(types []string) string {
	if len(types) == 0 {
		return ""
	}
	sorted := make([]string, len(types))
	copy(sorted, types)
	sort.Strings(sorted)
	for _, t := range sorted {
		if t == ProcTypeWeb {
			return t
		}
	}
	return sorted[0]
}

// DefaultReplicas 返回未声明副本数时的隐式默认值：web 在 prod 为 2，其余为 1。
func DefaultReplicas(procType string, env Environment) int {
	if procType == ProcTypeWeb && env == EnvProd {
		return 2
	}
	return 1
}

// EffectiveReplicas 按优先级计算环境下的目标副本数：运维覆盖 > 声明值 > 隐式默认值。
func EffectiveReplicas(spec *ProcessSpec, overlay *ProcessSpecEnvOverlay, env Environment) int {
	if overlay != nil && overlay.TargetReplicas != nil {
		return *overlay.TargetReplicas
	}
	if spec.TargetReplicas != nil {
		return *spec.TargetReplicas
	}
	return DefaultReplicas(spec.Name, env)
}

// EffectiveAutoscaling 返回环境下是否启用自动扩缩容及其配置。
func EffectiveAutoscaling(spec *ProcessSpec, overlay *ProcessSpecEnvOverlay) (bool, *AutoscalingConfig) {
	enabled := spec.Autoscaling
	cfg := spec.ScalingConfig
	if overlay != nil {
		if overlay.Autoscaling != nil {
			enabled = *overlay.Autoscaling
		}
		if overlay.ScalingConfig != nil {
			cfg = overlay.ScalingConfig
		}
	}
	return enabled && cfg != nil, cfg
}

// EffectivePlan 返回环境下的资源方案名。
func EffectivePlan(spec *ProcessSpec, overlay *ProcessSpecEnvOverlay) string {
	if overlay != nil && overlay.Plan != "" {
		return overlay.Plan
	}
	if spec.Plan != "" {
		return spec.Plan
	}
	return DefaultPlanName
}

// SplitProcCommand 把 Procfile 命令拆成 entrypoint 与参数，交给 shell 执行以保留原语义。
func SplitProcCommand(command string) (entrypoint, args []string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}
	return []string{"bash", "-c"}, []string{command}
}

// ResourceRequirements 与 corev1.ResourceRequirements 对应，值为规范化后的 quantity 字符串。
type ResourceRequirements struct {
	Limits   map[string]string `json:"limits,omitempty"`
	Requests map[string]string `json:"requests,omitempty"`
}

// Process 是渲染 Deployment 所需的完整运行时描述，不持久化。
type Process struct {
	App                 *WlApp               `json:"-"`
	Type                string               `json:"type"`
	Version             int                  `json:"version"`
	Replicas            int                  `json:"replicas"`
	Image               string               `json:"image"`
	ImagePullPolicy     string               `json:"image_pull_policy,omitempty"`
	Command             []string             `json:"command,omitempty"`
	Args                []string             `json:"args,omitempty"`
	Envs                map[string]string    `json:"envs,omitempty"`
	TargetPort          int                  `json:"target_port"`
	Resources           ResourceRequirements `json:"resources"`
	Probes              ProbeSet             `json:"probes"`
	NodeSelector        map[string]string    `json:"node_selector,omitempty"`
	Tolerations         []Toleration         `json:"tolerations,omitempty"`
	ImagePullSecretName string               `json:"image_pull_secret_name,omitempty"`
	Autoscaling         *AutoscalingConfig   `json:"autoscaling,omitempty"`
}

// InstanceState 是 Pod 的运行阶段。
type InstanceState string

const (
	InstancePending   InstanceState = "Pending"
	InstanceRunning   InstanceState = "Running"
	InstanceSucceeded InstanceState = "Succeeded"
	InstanceFailed    InstanceState = "Failed"
	InstanceUnknown   InstanceState = "Unknown"
)

// TerminatedInfo 是容器最近一次退出的信息。
type TerminatedInfo struct {
	ExitCode int32  `json:"exit_code"`
	Reason   string `json:"reason,omitempty"`
}

// Instance 是进程的一个运行中 Pod，由 Pod 状态推导而来。
type Instance struct {
	Name           string          `json:"name"`
	ProcessType    string          `json:"process_type"`
	HostIP         string          `json:"host_ip,omitempty"`
	PodIP          string          `json:"pod_ip,omitempty"`
	StartTime      *time.Time      `json:"start_time,omitempty"`
	State          InstanceState   `json:"state"`
	StateMessage   string          `json:"state_message,omitempty"`
	Ready          bool            `json:"ready"`
	RestartCount   int32           `json:"restart_count"`
	Version        int             `json:"version"`
	Image          string          `json:"image,omitempty"`
	TerminatedInfo *TerminatedInfo `json:"terminated_info,omitempty"`
}

// ProcessStatus 是 list_processes 的返回项：期望状态 + 实时实例。
type ProcessStatus struct {
	Type              string              `json:"type"`
	Name              string              `json:"name"` // Deployment 名称
	TargetReplicas    int                 `json:"target_replicas"`
	TargetStatus      ProcessTargetStatus `json:"target_status"`
	Replicas          int32               `json:"replicas"`
	ReadyReplicas     int32               `json:"ready_replicas"`
	UpdatedReplicas   int32               `json:"updated_replicas"`
	AvailableReplicas int32               `json:"available_replicas"`
	Version           int                 `json:"version"`
	Autoscaling       bool                `json:"autoscaling"`
	Summary           string              `json:"summary"`
	Instances         []Instance          `json:"instances"`
}

// ProcessService 是进程对应的 ClusterIP Service。
type ProcessService struct {
	App      *WlApp        `json:"-"`
	Name     string        `json:"name"`
	ProcType string        `json:"proc_type"`
	Ports    []ServicePort `json:"ports"`
}

type ServicePort struct {
	Name       string `json:"name"`
	Protocol   string `json:"protocol"`
	Port       int32  `json:"port"`
	TargetPort int32  `json:"target_port"`
	NodePort   int32  `json:"node_port,omitempty"`
}

// ProcAutoscaling 是进程对应的 HPA 描述。
type ProcAutoscaling struct {
	App      *WlApp            `json:"-"`
	Name     string            `json:"name"`
	ProcType string            `json:"proc_type"`
	Target   string            `json:"target"` // 目标 Deployment 名称
	Config   AutoscalingConfig `json:"config"`
}
