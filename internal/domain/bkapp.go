package domain

// BkApp 是云原生应用在集群中的 CRD 描述，由集群侧控制器展开为工作负载。
type BkApp struct {
	App        *WlApp            `json:"-"`
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	PullPolicy string            `json:"image_pull_policy,omitempty"`
	Version    int               `json:"version"`
	Envs       map[string]string `json:"envs,omitempty"`
	Processes  []BkAppProcess    `json:"processes"`
	Hook       *Hook             `json:"hook,omitempty"`
}

// BkAppProcess 是 BkApp 中的一个进程。
type BkAppProcess struct {
	Name        string               `json:"name"`
	Replicas    int                  `json:"replicas"`
	Command     []string             `json:"command,omitempty"`
	Args        []string             `json:"args,omitempty"`
	TargetPort  int                  `json:"target_port"`
	Resources   ResourceRequirements `json:"resources"`
	Probes      ProbeSet             `json:"probes"`
	Autoscaling *AutoscalingConfig   `json:"autoscaling,omitempty"`
}
