package domain

import (
	"fmt"
	"time"
)

// DeploymentStatus 是发布状态机的状态。
// 状态流转：Pending → Preparation → Build → PreReleaseHook → Release → (Successful | Failed | Interrupted)
type DeploymentStatus string

const (
	DeploymentPending        DeploymentStatus = "PENDING"
	DeploymentPreparation    DeploymentStatus = "PREPARATION"
	DeploymentBuild          DeploymentStatus = "BUILD"
	DeploymentPreReleaseHook DeploymentStatus = "PRE_RELEASE_HOOK"
	DeploymentRelease        DeploymentStatus = "RELEASE"
	DeploymentSuccessful     DeploymentStatus = "SUCCESSFUL"
	DeploymentFailed         DeploymentStatus = "FAILED"
	DeploymentInterrupted    DeploymentStatus = "INTERRUPTED"
)

// ActiveDeploymentStatuses 是占用环境的非终态。
var ActiveDeploymentStatuses = []DeploymentStatus{
	DeploymentPending, DeploymentPreparation, DeploymentBuild, DeploymentPreReleaseHook, DeploymentRelease,
}

func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentSuccessful || s == DeploymentFailed || s == DeploymentInterrupted
}

// PhaseType 是发布阶段。
type PhaseType string

const (
	PhasePreparation    PhaseType = "preparation"
	PhaseBuild          PhaseType = "build"
	PhasePreReleaseHook PhaseType = "pre_release_hook"
	PhaseRelease        PhaseType = "release"
)

// PhaseOrder 是阶段的严格执行顺序。
var PhaseOrder = []PhaseType{PhasePreparation, PhaseBuild, PhasePreReleaseHook, PhaseRelease}

// Status 返回阶段运行中对应的部署状态。
func (p PhaseType) Status() DeploymentStatus {
	switch p {
	case PhasePreparation:
		return DeploymentPreparation
	case PhaseBuild:
		return DeploymentBuild
	case PhasePreReleaseHook:
		return DeploymentPreReleaseHook
	case PhaseRelease:
		return DeploymentRelease
	}
	return DeploymentPending
}

// Step 名称，由阶段注册表声明。
const (
	StepValidateSource      = "validate source"
	StepResolveAddons       = "resolve add-on credentials"
	StepAllocateAddresses   = "allocate addresses"
	StepEnsureNamespace     = "ensure namespace"
	StepUpsertPullSecret    = "upsert image pull secret"
	StepRefreshEnvConfigMap = "refresh env configmap"

	StepUploadSource  = "prepare source"
	StepRunBuilder    = "run slug builder"
	StepCreateBuild   = "create build"
	StepRunHook       = "run pre-release hook"
	StepCreateRelease = "create release"
	StepDeployProcess = "deploy processes"
	StepSyncNetwork   = "sync networking"
	StepWaitReady     = "wait processes ready"
	StepCollectOld    = "collect legacy resources"
)

// StepRegistry 声明每个阶段包含的步骤。
type StepRegistry map[PhaseType][]string

// DefaultSteps 是默认的阶段步骤注册表。
var DefaultSteps = StepRegistry{
	PhasePreparation:    {StepValidateSource, StepResolveAddons, StepAllocateAddresses, StepEnsureNamespace, StepUpsertPullSecret, StepRefreshEnvConfigMap},
	PhaseBuild:          {StepUploadSource, StepRunBuilder, StepCreateBuild},
	PhasePreReleaseHook: {StepRunHook},
	PhaseRelease:        {StepCreateRelease, StepDeployProcess, StepSyncNetwork, StepWaitReady, StepCollectOld},
}

// Has 判断阶段是否注册了该步骤。
func (r StepRegistry) Has(phase PhaseType, step string) bool {
	for _, s := range r[phase] {
		if s == step {
			return true
		}
	}
	return false
}

// OutcomeKind 是阶段执行结果类别。
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeInterrupted OutcomeKind = "interrupted"
)

// PhaseOutcome = Success | Failed{reason, exit_code?} | Interrupted{reason}
type PhaseOutcome struct {
	Kind     OutcomeKind
	Reason   string
	ExitCode *int
}

func Success() PhaseOutcome { return PhaseOutcome{Kind: OutcomeSuccess} }

func Failed(reason string, exitCode *int) PhaseOutcome {
	return PhaseOutcome{Kind: OutcomeFailed, Reason: reason, ExitCode: exitCode}
}

func Interrupted(reason string) PhaseOutcome {
	return PhaseOutcome{Kind: OutcomeInterrupted, Reason: reason}
}

func (o PhaseOutcome) IsSuccess() bool { return o.Kind == OutcomeSuccess }

// FinalStatus 把阶段结果映射为部署终态。
func (o PhaseOutcome) FinalStatus() DeploymentStatus {
	switch o.Kind {
	case OutcomeSuccess:
		return DeploymentSuccessful
	case OutcomeInterrupted:
		return DeploymentInterrupted
	}
	return DeploymentFailed
}

// AbortMessage 是发布阶段中止时写入日志的消息。
func AbortMessage(reason string) string {
	return fmt.Sprintf("Release aborted, reason: %s", reason)
}

// StreamKind 是部署日志流的类别。
type StreamKind string

const (
	StreamPreparation   StreamKind = "preparation"
	StreamBuildProc     StreamKind = "build_proc"
	StreamPreReleaseCmd StreamKind = "pre_release_cmd"
	StreamMain          StreamKind = "main"
)

// AdvancedOptions 是部署的高级选项。
type AdvancedOptions struct {
	// Image 非空时跳过构建，直接使用镜像（CUSTOM_IMAGE 运行时）
	Image string `json:"image,omitempty"`
	// BuildID 非空时复用已有构建产物
	BuildID   string            `json:"build_id,omitempty"`
	SmartTag  string            `json:"smart_tag,omitempty"`
	ExtraEnvs map[string]string `json:"extra_envs,omitempty"`
	Invoker   string            `json:"invoker,omitempty"`
}

// Hook 是部署前置命令。
type Hook struct {
	Enabled bool   `json:"enabled"`
	Command string `json:"command"`
}

// Deployment 是一次发布请求在数据库中的记录。
type Deployment struct {
	UUID               string                `json:"uuid"`
	AppID              string                `json:"app_id"`
	Status             DeploymentStatus      `json:"status"`
	SourceTarPath      string                `json:"source_tar_path,omitempty"`
	SourceRevision     string                `json:"source_revision,omitempty"`
	Procfile           map[string]string     `json:"procfile,omitempty"`
	Processes          []ProcessTmpl         `json:"processes,omitempty"`
	BuildpacksRequired []string              `json:"buildpacks_required,omitempty"`
	PreReleaseHook     *Hook                 `json:"pre_release_hook,omitempty"`
	Options            AdvancedOptions       `json:"advanced_options"`
	BuildProcessID     string                `json:"build_process_id,omitempty"`
	BuildID            string                `json:"build_id,omitempty"`
	ReleaseVersion     int                   `json:"release_version,omitempty"`
	HookCommandID      string                `json:"hook_command_id,omitempty"`
	Streams            map[StreamKind]string `json:"streams"`
	ErrDetail          string                `json:"err_detail,omitempty"`
	IntRequestedAt     *time.Time            `json:"int_requested_at,omitempty"`
	StartTime          *time.Time            `json:"start_time,omitempty"`
	CompleteTime       *time.Time            `json:"complete_time,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// RequireBuild 判断是否需要运行 slug-builder：自定义镜像、S-Mart 复用、构建复用时都不需要。
func (d *Deployment) RequireBuild() bool {
	return d.Options.Image == "" && d.Options.SmartTag == "" && d.Options.BuildID == ""
}

// InterruptRequested 判断是否收到中断请求。
func (d *Deployment) InterruptRequested() bool {
	return d.IntRequestedAt != nil
}
