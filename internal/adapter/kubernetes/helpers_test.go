package kubernetes

import (
	"context"
	"testing"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"
)

// staticProvider 总是返回同一组客户端。
type staticProvider struct {
	clients *Clients
}

func (p *staticProvider) Get(context.Context, string) (*Clients, error) { return p.clients, nil }

func (p *staticProvider) ForApp(context.Context, *domain.WlApp) (*Clients, error) {
	return p.clients, nil
}

func testCluster(flags ...domain.ClusterFeatureFlag) *domain.Cluster {
	c := &domain.Cluster{
		Name:         "main",
		Region:       "default",
		APIServers:   []domain.APIServer{{URL: "https://10.0.0.1:6443"}},
		Auth:         domain.ClusterAuth{Token: "t"},
		FeatureFlags: map[domain.ClusterFeatureFlag]bool{},
	}
	for _, f := range flags {
		c.FeatureFlags[f] = true
	}
	return c
}

func testApp() *domain.WlApp {
	return &domain.WlApp{
		Name:            "bkapp-foo_bar-stag",
		Region:          "default",
		Type:            domain.WlAppTypeDefault,
		AppCode:         "foo_bar",
		ModuleName:      "default",
		Environment:     domain.EnvStag,
		ClusterName:     "main",
		IsDefaultModule: true,
		MapperVersion:   domain.MapperV2,
	}
}

func listKinds() map[schema.GroupVersionResource]string {
	out := make(map[schema.GroupVersionResource]string, len(mapper.AllKinds))
	for _, k := range mapper.AllKinds {
		out[k.GVR()] = k.ListKind()
	}
	return out
}

// newFakeClients 组装 dynamic 与 typed 两套 fake，objs 预置到 dynamic client。
func newFakeClients(t *testing.T, cluster *domain.Cluster, objs ...runtime.Object) (*Clients, *dynamicfake.FakeDynamicClient) {
	t.Helper()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds(), objs...)
	return NewClientsFromInterfaces(cluster, kubefake.NewSimpleClientset(), dyn, mapper.Options{}), dyn
}

// toObj 把 typed 对象转换为带 apiVersion/kind 的 unstructured。
func toObj(t *testing.T, kind mapper.ResourceKind, obj any) *unstructured.Unstructured {
	t.Helper()
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		t.Fatalf("to unstructured: %v", err)
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetAPIVersion(kind.APIVersion())
	u.SetKind(kind.Kind)
	return u
}
