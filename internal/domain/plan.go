package domain

import "fmt"

// DefaultPlanName 是未指定资源方案时使用的方案。
const DefaultPlanName = "default"

// ResourcePlan 是进程的资源配额预设，数值使用 K8s quantity 的规范写法。
type ResourcePlan struct {
	Name     string `json:"name" yaml:"name"`
	CPULimit string `json:"cpu_limit" yaml:"cpu_limit"`
	MemLimit string `json:"mem_limit" yaml:"mem_limit"`
	CPUReq   string `json:"cpu_request" yaml:"cpu_request"`
	MemReq   string `json:"mem_request" yaml:"mem_request"`
}

// Requirements 转换为容器资源需求。
func (p ResourcePlan) Requirements() ResourceRequirements {
	return ResourceRequirements{
		Limits:   map[string]string{"cpu": p.CPULimit, "memory": p.MemLimit},
		Requests: map[string]string{"cpu": p.CPUReq, "memory": p.MemReq},
	}
}

// BuiltinPlans 是内置资源方案，可由配置文件覆盖或追加。
var BuiltinPlans = map[string]ResourcePlan{
	"default": {Name: "default", CPULimit: "4", MemLimit: "1Gi", CPUReq: "200m", MemReq: "256Mi"},
	"4C1G":    {Name: "4C1G", CPULimit: "4", MemLimit: "1Gi", CPUReq: "200m", MemReq: "256Mi"},
	"4C2G":    {Name: "4C2G", CPULimit: "4", MemLimit: "2Gi", CPUReq: "200m", MemReq: "1Gi"},
	"4C4G":    {Name: "4C4G", CPULimit: "4", MemLimit: "4Gi", CPUReq: "200m", MemReq: "2Gi"},
	"2C1G":    {Name: "2C1G", CPULimit: "2", MemLimit: "1Gi", CPUReq: "200m", MemReq: "256Mi"},
	"2C2G":    {Name: "2C2G", CPULimit: "2", MemLimit: "2Gi", CPUReq: "200m", MemReq: "1Gi"},
	"1C512M":  {Name: "1C512M", CPULimit: "1", MemLimit: "512Mi", CPUReq: "100m", MemReq: "128Mi"},
}

// PlanTable 按名称查找资源方案。
type PlanTable map[string]ResourcePlan

// NewPlanTable 以内置方案为基础合并自定义方案。
func NewPlanTable(overrides map[string]ResourcePlan) PlanTable {
	t := make(PlanTable, len(BuiltinPlans)+len(overrides))
	for k, v := range BuiltinPlans {
		t[k] = v
	}
	for k, v := range overrides {
		v.Name = k
		t[k] = v
	}
	return t
}

func (t PlanTable) Lookup(name string) (ResourcePlan, error) {
	if name == "" {
		name = DefaultPlanName
	}
	p, ok := t[name]
	if !ok {
		return ResourcePlan{}, fmt.Errorf("%w: unknown resource plan %q", ErrInvalidInput, name)
	}
	return p, nil
}
