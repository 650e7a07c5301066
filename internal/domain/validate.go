package domain

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// k8sNameRegex 匹配合法的 K8s 资源名称：小写字母开头，只含小写字母、数字和连字符，长度 2-63。
var k8sNameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{0,61}[a-z0-9]$`)

// ValidateK8sName 校验名称是否可安全用作 K8s 资源名。
func ValidateK8sName(name string) error {
	if !k8sNameRegex.MatchString(name) {
		return fmt.Errorf("%w: name %q is not a valid k8s resource name", ErrInvalidInput, name)
	}
	return nil
}

// processNameRegex 进程名：小写字母/数字开头，只含小写字母、数字和连字符。
var processNameRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9])*$`)

const maxProcessNameLength = 12

// ValidateProcessName 校验进程名，长度不超过 12。
func ValidateProcessName(name string) error {
	if len(name) > maxProcessNameLength || !processNameRegex.MatchString(name) {
		return &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("process name %q must match %s and be at most %d characters",
				name, processNameRegex.String(), maxProcessNameLength),
		}
	}
	return nil
}

// ValidateProcfile 校验 Procfile，进程名统一转为小写后返回新的 Procfile。
func ValidateProcfile(procfile map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(procfile))
	for name, command := range procfile {
		normalized := strings.ToLower(name)
		if err := ValidateProcessName(normalized); err != nil {
			return nil, err
		}
		if strings.TrimSpace(command) == "" {
			return nil, &ValidationError{Field: "procfile", Message: fmt.Sprintf("command of process %q is empty", normalized)}
		}
		if _, dup := out[normalized]; dup {
			return nil, &ValidationError{Field: "procfile", Message: fmt.Sprintf("duplicated process %q", normalized)}
		}
		out[normalized] = command
	}
	return out, nil
}

// revisionRegex 白名单：字母、数字、-、_、.、/
var revisionRegex = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// ValidateRevision 校验源码版本（branch/tag/commit），使用字符白名单。
func ValidateRevision(rev string) error {
	if rev == "" {
		return &ValidationError{Field: "source_revision", Message: "revision is required"}
	}
	if !revisionRegex.MatchString(rev) {
		return &ValidationError{Field: "source_revision", Message: fmt.Sprintf("%q contains invalid characters", rev)}
	}
	return nil
}

// ValidateObjectKey 校验对象存储中的源码包路径，防止路径穿越。
func ValidateObjectKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "source_tar_path", Message: "path is required"}
	}
	if strings.Contains(key, "..") {
		return &ValidationError{Field: "source_tar_path", Message: "must not contain '..'"}
	}
	if path.IsAbs(path.Clean(key)) {
		return &ValidationError{Field: "source_tar_path", Message: "must be a relative key"}
	}
	return nil
}

// envKeyRegex 环境变量名：大写字母开头，只含大写字母、数字和下划线。
var envKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// reservedEnvPrefixes 是平台保留的变量名前缀，用户不能覆盖。
var reservedEnvPrefixes = []string{"BKPAAS_", "KUBERNETES_"}

// ValidateEnvKey 校验用户环境变量名。
func ValidateEnvKey(key string) error {
	if !envKeyRegex.MatchString(key) {
		return &ValidationError{Field: "key", Message: fmt.Sprintf("%q must match %s", key, envKeyRegex.String())}
	}
	for _, p := range reservedEnvPrefixes {
		if strings.HasPrefix(key, p) {
			return &ValidationError{Field: "key", Message: fmt.Sprintf("prefix %s is reserved", p)}
		}
	}
	return nil
}
