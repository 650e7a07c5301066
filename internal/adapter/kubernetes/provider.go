package kubernetes

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// ClientProvider 为控制器提供集群客户端，ClusterRegistry 是生产实现。
type ClientProvider interface {
	Get(ctx context.Context, clusterName string) (*Clients, error)
	ForApp(ctx context.Context, app *domain.WlApp) (*Clients, error)
}

var _ ClientProvider = (*ClusterRegistry)(nil)
