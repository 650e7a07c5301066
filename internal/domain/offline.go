package domain

import "time"

// OfflineStatus 是下架操作的状态。
type OfflineStatus string

const (
	OfflinePending    OfflineStatus = "pending"
	OfflineSuccessful OfflineStatus = "successful"
	OfflineFailed     OfflineStatus = "failed"
)

// OfflineOperation 记录一次模块环境下架。进行中的下架会阻止新的部署。
type OfflineOperation struct {
	UUID      string        `json:"uuid"`
	AppID     string        `json:"app_id"`
	Status    OfflineStatus `json:"status"`
	Operator  string        `json:"operator,omitempty"`
	ErrDetail string        `json:"err_detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
