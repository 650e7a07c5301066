package domain

import "time"

// ArtifactType 是构建产物类型。
type ArtifactType string

const (
	ArtifactSlug  ArtifactType = "slug"
	ArtifactImage ArtifactType = "image"
)

// Build 是一次成功构建的产物，被 Release 不可变地引用。
type Build struct {
	UUID               string            `json:"uuid"`
	AppID              string            `json:"app_id"`
	Image              string            `json:"image"`
	Procfile           map[string]string `json:"procfile,omitempty"`
	BuildpacksMetadata map[string]string `json:"buildpacks_metadata,omitempty"`
	ArtifactType       ArtifactType      `json:"artifact_type"`
	// SlugPath 仅 slug 产物有值，运行时通过预签名 URL 下载
	SlugPath       string    `json:"slug_path,omitempty"`
	SourceRevision string    `json:"source_revision,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BuildProcessStatus 是构建过程的状态机。
// 状态流转：Pending → Running → (Successful | Failed | Interrupted)
type BuildProcessStatus string

const (
	BuildProcessPending     BuildProcessStatus = "pending"
	BuildProcessRunning     BuildProcessStatus = "running"
	BuildProcessSuccessful  BuildProcessStatus = "successful"
	BuildProcessFailed      BuildProcessStatus = "failed"
	BuildProcessInterrupted BuildProcessStatus = "interrupted"
)

func (s BuildProcessStatus) IsTerminal() bool {
	return s == BuildProcessSuccessful || s == BuildProcessFailed || s == BuildProcessInterrupted
}

// BuildProcess 记录一次 slug-builder Pod 的执行。
type BuildProcess struct {
	UUID               string             `json:"uuid"`
	AppID              string             `json:"app_id"`
	SourceTarPath      string             `json:"source_tar_path"`
	Revision           string             `json:"revision"`
	BuildpacksRequired []string           `json:"buildpacks_required,omitempty"`
	Status             BuildProcessStatus `json:"status"`
	BuildID            string             `json:"build_id,omitempty"`
	InvokeMessage      string             `json:"invoke_message,omitempty"`
	StreamID           string             `json:"stream_id"`
	IntRequestedAt     *time.Time         `json:"int_requested_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// SlugBuilderPod 是 slug-builder 一次性 Pod 的运行描述。
type SlugBuilderPod struct {
	App       *WlApp
	Name      string
	Image     string
	Envs      map[string]string
	Resources ResourceRequirements
	// ImagePullSecretName 为空时不设置 imagePullSecrets
	ImagePullSecretName string
}
