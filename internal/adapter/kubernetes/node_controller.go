package kubernetes

import (
	"context"
	"fmt"
	"sort"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

var _ port.NodeController = (*NodeController)(nil)

type NodeController struct {
	provider ClientProvider
}

func NewNodeController(provider ClientProvider) *NodeController {
	return &NodeController{provider: provider}
}

// ListNodes 返回集群全部节点的裁剪视图，按名称排序。
func (nc *NodeController) ListNodes(ctx context.Context, clusterName string) ([]domain.Node, error) {
	c, err := nc.provider.Get(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	list, err := c.Gateway.List(ctx, mapper.KindNode, "", nil)
	if err != nil {
		return nil, err
	}
	nodes := make([]domain.Node, 0, len(list.Items))
	for i := range list.Items {
		var n corev1.Node
		if err := fromUnstructuredObj(&list.Items[i], &n); err != nil {
			return nil, err
		}
		node := domain.Node{Name: n.Name, Labels: n.Labels}
		if len(n.Status.Addresses) > 0 {
			node.Addresses = make(map[string]string, len(n.Status.Addresses))
			for _, a := range n.Status.Addresses {
				node.Addresses[string(a.Type)] = a.Address
			}
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// LabelNodes 给节点追加标签，已有的其他标签保持不变。
func (nc *NodeController) LabelNodes(ctx context.Context, clusterName string, nodeNames []string, labels map[string]string) error {
	c, err := nc.provider.Get(ctx, clusterName)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(labels))
	for k, v := range labels {
		values[k] = v
	}
	patch := map[string]any{"metadata": map[string]any{"labels": values}}

	var errs []error
	for _, name := range nodeNames {
		if _, err := c.Gateway.MergePatch(ctx, mapper.KindNode, "", name, patch); err != nil {
			errs = append(errs, fmt.Errorf("label node %s: %w", name, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}
