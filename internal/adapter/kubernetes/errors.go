package kubernetes

import (
	"errors"
	"fmt"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// translateError 把 client-go 错误转换为领域错误。传输错误原样返回。
func translateError(err error, kind, namespace, name string) error {
	if err == nil {
		return nil
	}
	var transport *domain.TransportError
	if errors.As(err, &transport) {
		return err
	}
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s %s/%s: %w", kind, namespace, name, domain.ErrResourceMissing)
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%s %s/%s: %w", kind, namespace, name, domain.ErrResourceDuplicate)
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		s := status.Status()
		return &domain.ApiError{Status: int(s.Code), Reason: string(s.Reason), Body: s.Message}
	}
	return err
}
