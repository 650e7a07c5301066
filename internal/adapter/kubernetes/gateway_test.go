package kubernetes

import (
	"context"
	"errors"
	"testing"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8stesting "k8s.io/client-go/testing"
)

func testService(t *testing.T, name, clusterIP string, labels map[string]string) *unstructured.Unstructured {
	return toObj(t, mapper.KindService, &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ns", Labels: labels},
		Spec: corev1.ServiceSpec{
			ClusterIP: clusterIP,
			Ports:     []corev1.ServicePort{{Name: "http", Port: 80}},
		},
	})
}

func TestGatewayCreateOrUpdate(t *testing.T) {
	ctx := context.Background()
	c, _ := newFakeClients(t, testCluster())

	_, created, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindService, testService(t, "web", "10.96.0.10", nil), MethodReplace)
	require.NoError(t, err)
	assert.True(t, created)

	// 更新时不带 clusterIP，应保留已分配的值
	_, created, err = c.Gateway.CreateOrUpdate(ctx, mapper.KindService, testService(t, "web", "", map[string]string{"v": "2"}), MethodReplace)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := c.Gateway.Get(ctx, mapper.KindService, "ns", "web")
	require.NoError(t, err)
	ip, _, _ := unstructured.NestedString(got.Object, "spec", "clusterIP")
	assert.Equal(t, "10.96.0.10", ip)
	assert.Equal(t, "2", got.GetLabels()["v"])
}

func TestGatewayCreateOrUpdate_RetriesConflictOnce(t *testing.T) {
	ctx := context.Background()
	c, dyn := newFakeClients(t, testCluster(), testService(t, "web", "10.96.0.10", nil))
	updates := 0
	dyn.PrependReactor("update", "services", func(k8stesting.Action) (bool, runtime.Object, error) {
		updates++
		return true, nil, apierrors.NewConflict(schema.GroupResource{Resource: "services"}, "web", errors.New("object has been modified"))
	})

	_, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindService, testService(t, "web", "", map[string]string{"v": "2"}), MethodReplace)
	assert.Error(t, err)
	assert.Equal(t, 2, updates, "conflict is retried once after a fresh fetch")
}

func TestGatewayMergePatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newFakeClients(t, testCluster(), testService(t, "web", "", map[string]string{"a": "1"}))

	_, err := c.Gateway.MergePatch(ctx, mapper.KindService, "ns", "web", map[string]any{
		"metadata": map[string]any{"labels": map[string]any{"b": "2"}},
	})
	require.NoError(t, err)

	got, err := c.Gateway.Get(ctx, mapper.KindService, "ns", "web")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got.GetLabels())

	_, err = c.Gateway.MergePatch(ctx, mapper.KindService, "ns", "missing", map[string]any{})
	assert.True(t, errors.Is(err, domain.ErrResourceMissing))
}

func TestGatewayCreateOrUpdate_MergePatchSkipsNoop(t *testing.T) {
	ctx := context.Background()
	c, dyn := newFakeClients(t, testCluster(), testService(t, "web", "", map[string]string{"a": "1"}))

	countPatches := func() int {
		n := 0
		for _, a := range dyn.Actions() {
			if a.GetVerb() == "patch" {
				n++
			}
		}
		return n
	}

	_, created, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindService, testService(t, "web", "", map[string]string{"a": "1"}), MethodMergePatch)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 0, countPatches(), "内容未变化不应发出 patch")

	_, _, err = c.Gateway.CreateOrUpdate(ctx, mapper.KindService, testService(t, "web", "", map[string]string{"a": "2"}), MethodMergePatch)
	require.NoError(t, err)
	assert.Equal(t, 1, countPatches())

	got, err := c.Gateway.Get(ctx, mapper.KindService, "ns", "web")
	require.NoError(t, err)
	assert.Equal(t, "2", got.GetLabels()["a"])
}

func TestGatewayDelete(t *testing.T) {
	tests := []struct {
		name           string
		existing       bool
		raiseIfMissing bool
		wantMissing    bool
	}{
		{name: "存在的资源", existing: true},
		{name: "不存在且忽略", existing: false},
		{name: "不存在且报错", existing: false, raiseIfMissing: true, wantMissing: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c *Clients
			if tt.existing {
				c, _ = newFakeClients(t, testCluster(), testService(t, "web", "", nil))
			} else {
				c, _ = newFakeClients(t, testCluster())
			}
			err := c.Gateway.Delete(context.Background(), mapper.KindService, "ns", "web", tt.raiseIfMissing)
			if tt.wantMissing {
				assert.True(t, errors.Is(err, domain.ErrResourceMissing), "err = %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGatewayListAndDeleteBySelector(t *testing.T) {
	ctx := context.Background()
	c, _ := newFakeClients(t, testCluster(),
		testService(t, "a", "", map[string]string{"env": "stag"}),
		testService(t, "b", "", map[string]string{"env": "stag"}),
		testService(t, "c", "", map[string]string{"env": "prod"}),
	)

	list, err := c.Gateway.List(ctx, mapper.KindService, "ns", map[string]string{"env": "stag"})
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)

	require.NoError(t, c.Gateway.DeleteBySelector(ctx, mapper.KindService, "ns", map[string]string{"env": "stag"}))

	list, err = c.Gateway.List(ctx, mapper.KindService, "ns", nil)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "c", list.Items[0].GetName())
}
