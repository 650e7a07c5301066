package domain

import "time"

// AppMetricsMonitor 是环境的指标采集配置，每个 WlApp 至多一个。
type AppMetricsMonitor struct {
	AppID      string    `json:"app_id"`
	Port       int32     `json:"port"`
	TargetPort int32     `json:"target_port"`
	Path       string    `json:"path"`
	Interval   string    `json:"interval"`
	Enabled    bool      `json:"is_enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ServiceMonitor 是 prometheus-operator ServiceMonitor 的领域描述。
type ServiceMonitor struct {
	App         *WlApp            `json:"-"`
	Name        string            `json:"name"`
	Port        string            `json:"port"`
	Path        string            `json:"path"`
	Interval    string            `json:"interval"`
	MatchLabels map[string]string `json:"match_labels"`
}

// MetricsResourceType 是可查询的资源指标。
type MetricsResourceType string

const (
	MetricsCPU    MetricsResourceType = "cpu"
	MetricsMemory MetricsResourceType = "mem"
)

// MetricsSeriesType 是指标序列类别。
type MetricsSeriesType string

const (
	SeriesCurrent MetricsSeriesType = "current"
	SeriesLimit   MetricsSeriesType = "limit"
	SeriesRequest MetricsSeriesType = "request"
)

// MetricPoint 是一个采样点。
type MetricPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// MetricSeries 是一条带标签的时间序列。
type MetricSeries struct {
	Labels map[string]string `json:"labels"`
	Points []MetricPoint     `json:"points"`
}

// InstanceSeries 是某个实例在某个序列类别下的取值。
type InstanceSeries struct {
	Instance string            `json:"instance"`
	Type     MetricsSeriesType `json:"type"`
	Points   []MetricPoint     `json:"points"`
}

// ResourceMetrics 是某种资源的查询结果。
type ResourceMetrics struct {
	Type    MetricsResourceType `json:"type"`
	Results []InstanceSeries    `json:"results"`
}

// MetricsQuery 是一次资源指标查询。
type MetricsQuery struct {
	App         *WlApp
	ProcessType string
	// InstanceName 为空表示查询进程下全部实例
	InstanceName string
	Start        time.Time
	End          time.Time
	Step         time.Duration
	Resources    []MetricsResourceType
	Series       []MetricsSeriesType
}
