package domain

// HealthStatus 是 Pod 健康分类结果。
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthUnhealthy   HealthStatus = "unhealthy"
	HealthProgressing HealthStatus = "progressing"
	HealthUnknown     HealthStatus = "unknown"
)

// PodHealth 描述 Pod 的健康状态及失败原因。
type PodHealth struct {
	Status  HealthStatus `json:"status"`
	Reason  string       `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
}

// FailureMessage 返回适合写入部署日志的失败描述。
func (h PodHealth) FailureMessage() string {
	switch {
	case h.Message != "" && h.Reason != "":
		return h.Reason + ": " + h.Message
	case h.Message != "":
		return h.Message
	}
	return h.Reason
}
