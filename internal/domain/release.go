package domain

import "time"

// ReleaseStatus 是 Release 的发布结果。
type ReleaseStatus string

const (
	ReleaseStatusPending    ReleaseStatus = "pending"
	ReleaseStatusSuccessful ReleaseStatus = "successful"
	ReleaseStatusFailed     ReleaseStatus = "failed"
)

// Release 是一次可部署快照，version 在同一 WlApp 内严格递增，创建后不可变（仅状态随发布结果更新）。
type Release struct {
	UUID           string            `json:"uuid"`
	AppID          string            `json:"app_id"`
	Version        int               `json:"version"`
	BuildID        string            `json:"build_id,omitempty"`
	Image          string            `json:"image"`
	ArtifactType   ArtifactType      `json:"artifact_type,omitempty"`
	SlugPath       string            `json:"slug_path,omitempty"`
	ConfigSnapshot map[string]string `json:"config_snapshot,omitempty"`
	Procfile       map[string]string `json:"procfile,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	Status         ReleaseStatus     `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate 拒绝既没有 procfile、也没有构建产物和镜像的发布。
// procfile 为空但有 build 的历史发布（dirty legacy release）允许创建，产生空进程集。
func (r *Release) Validate() error {
	if len(r.Procfile) == 0 && r.BuildID == "" && r.Image == "" {
		return &ValidationError{Field: "procfile", Message: "release requires a procfile, a build or an image"}
	}
	if r.Image == "" && r.BuildID == "" {
		return ErrBuildMissing
	}
	return nil
}

// IsDirtyLegacy 判断是否为空 procfile 的历史发布。
func (r *Release) IsDirtyLegacy() bool {
	return len(r.Procfile) == 0 && r.BuildID != ""
}
