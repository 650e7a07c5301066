package domain

import "time"

// CommandType 是一次性命令的类别。
type CommandType string

const (
	CommandPreReleaseHook CommandType = "pre_release_hook"
	CommandAdhoc          CommandType = "adhoc"
)

// CommandStatus 状态流转：Pending → Scheduled → (Successful | Failed | Interrupted)
type CommandStatus string

const (
	CommandPending     CommandStatus = "PENDING"
	CommandScheduled   CommandStatus = "SCHEDULED"
	CommandSuccessful  CommandStatus = "SUCCESSFUL"
	CommandFailed      CommandStatus = "FAILED"
	CommandInterrupted CommandStatus = "INTERRUPTED"
)

func (s CommandStatus) IsTerminal() bool {
	return s == CommandSuccessful || s == CommandFailed || s == CommandInterrupted
}

// Command 是一次性执行记录，进入终态后不可修改，重跑必须新建记录。
type Command struct {
	UUID           string        `json:"uuid"`
	AppID          string        `json:"app_id"`
	Type           CommandType   `json:"type"`
	Command        string        `json:"command"`
	Status         CommandStatus `json:"status"`
	ExitCode       *int          `json:"exit_code,omitempty"`
	ReleaseVersion int           `json:"release_version"`
	DeploymentID   string        `json:"deployment_id,omitempty"`
	StreamID       string        `json:"stream_id"`
	Operator       string        `json:"operator,omitempty"`
	IntRequestedAt *time.Time    `json:"int_requested_at,omitempty"`
	StartTime      *time.Time    `json:"start_time,omitempty"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Transit 更新状态，终态记录拒绝任何变更。
func (c *Command) Transit(to CommandStatus, exitCode *int, now time.Time) error {
	if c.Status.IsTerminal() {
		return ErrCommandRerun
	}
	c.Status = to
	if exitCode != nil {
		c.ExitCode = exitCode
	}
	switch {
	case to == CommandScheduled:
		c.StartTime = &now
	case to.IsTerminal():
		c.EndTime = &now
	}
	c.UpdatedAt = now
	return nil
}

// RuntimeCommand 是命令 Pod 的运行描述。
type RuntimeCommand struct {
	App                 *WlApp               `json:"-"`
	Name                string               `json:"name"` // Pod 名称
	Type                CommandType          `json:"type"`
	Version             int                  `json:"version"`
	Image               string               `json:"image"`
	Command             []string             `json:"command,omitempty"`
	Args                []string             `json:"args,omitempty"`
	Envs                map[string]string    `json:"envs,omitempty"`
	Resources           ResourceRequirements `json:"resources"`
	NodeSelector        map[string]string    `json:"node_selector,omitempty"`
	Tolerations         []Toleration         `json:"tolerations,omitempty"`
	ImagePullSecretName string               `json:"image_pull_secret_name,omitempty"`
}
