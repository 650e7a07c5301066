package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflict")

	ErrAppNotFound        = fmt.Errorf("wl app %w", ErrNotFound)
	ErrClusterNotFound    = fmt.Errorf("cluster %w", ErrNotFound)
	ErrBuildNotFound      = fmt.Errorf("build %w", ErrNotFound)
	ErrReleaseNotFound    = fmt.Errorf("release %w", ErrNotFound)
	ErrProcessNotFound    = fmt.Errorf("process spec %w", ErrNotFound)
	ErrDeploymentNotFound = fmt.Errorf("deployment %w", ErrNotFound)
	ErrCommandNotFound    = fmt.Errorf("command %w", ErrNotFound)
	ErrStreamNotFound     = fmt.Errorf("output stream %w", ErrNotFound)
	ErrStateNotFound      = fmt.Errorf("cluster state %w", ErrNotFound)
	ErrMonitorNotFound    = fmt.Errorf("metrics monitor %w", ErrNotFound)
	ErrDomainNotFound     = fmt.Errorf("domain %w", ErrNotFound)
	ErrOfflineNotFound    = fmt.Errorf("offline operation %w", ErrNotFound)
	ErrSandboxNotFound    = fmt.Errorf("sandbox %w", ErrNotFound)

	// Kubernetes 交互相关
	ErrResourceMissing             = errors.New("kubernetes resource missing")
	ErrResourceDuplicate           = errors.New("kubernetes resource already exists")
	ErrClusterUnreachable          = errors.New("cluster unreachable")
	ErrReadTargetStatusTimeout     = errors.New("read target status timeout")
	ErrCreateServiceAccountTimeout = errors.New("create default service account timeout")

	// 发布流程相关
	ErrBuildMissing           = fmt.Errorf("build missing: %w", ErrInvalidInput)
	ErrCommandRerun           = fmt.Errorf("command already finished, create a new one to rerun: %w", ErrConflict)
	ErrOfflineOperationExist  = fmt.Errorf("an offline operation is in progress: %w", ErrConflict)
	ErrDeployInProgress       = fmt.Errorf("another deployment is in progress: %w", ErrConflict)
	ErrReleaseVersionConflict = fmt.Errorf("release version is not the next version: %w", ErrConflict)
	ErrAddonShareChain        = fmt.Errorf("shared service must be owned by the referenced module: %w", ErrInvalidInput)
	ErrMapperDowngrade        = fmt.Errorf("mapper version can not be downgraded: %w", ErrInvalidInput)
)

// ValidationError 携带出错字段，CLI 与 HTTP 层据此区分校验错误。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// TransportError 表示与 apiserver 之间的网络/TLS 错误。
type TransportError struct {
	Cluster  string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error talking to cluster %s (%s): %v", e.Cluster, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApiError 表示 apiserver 返回的非 2xx 响应。
type ApiError struct {
	Status int
	Reason string
	Body   string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("kubernetes api error: status=%d reason=%s body=%s", e.Status, e.Reason, e.Body)
}

// PodNotSucceededError 表示一次性 Pod（hook/build）以非零退出码结束。
type PodNotSucceededError struct {
	PodName  string
	ExitCode int
	Reason   string
}

func (e *PodNotSucceededError) Error() string {
	return fmt.Sprintf("pod %s not succeeded, exit code: %d, reason: %s", e.PodName, e.ExitCode, e.Reason)
}

// ProcessOperationTooOftenError 表示同一进程操作过于频繁。
type ProcessOperationTooOftenError struct {
	ProcessType string
	RetryAfter  time.Duration
}

func (e *ProcessOperationTooOftenError) Error() string {
	return fmt.Sprintf("operation on process %s is too often, please retry after %d seconds",
		e.ProcessType, int(e.RetryAfter.Seconds()+0.999))
}

func (e *ProcessOperationTooOftenError) Unwrap() error { return ErrConflict }
