package kubernetes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

func defaultSA(t *testing.T, ns string, secrets ...string) runtime.Object {
	sa := &corev1.ServiceAccount{ObjectMeta: metav1.ObjectMeta{Name: "default", Namespace: ns}}
	for _, s := range secrets {
		sa.Secrets = append(sa.Secrets, corev1.ObjectReference{Name: s})
	}
	return toObj(t, mapper.KindServiceAccount, sa)
}

func TestEnsureNamespace(t *testing.T) {
	app := testApp()
	tests := []struct {
		name    string
		cluster *domain.Cluster
		objs    []runtime.Object
		wantErr error
	}{
		{
			name:    "创建命名空间且 SA 已就绪",
			cluster: testCluster(),
			objs:    []runtime.Object{defaultSA(t, app.Namespace())},
		},
		{
			name:    "SA 一直不存在",
			cluster: testCluster(),
			wantErr: domain.ErrCreateServiceAccountTimeout,
		},
		{
			name:    "旧集群需要等待 token secret",
			cluster: testCluster(domain.FeatureLegacyTokenSecrets),
			objs:    []runtime.Object{defaultSA(t, app.Namespace())},
			wantErr: domain.ErrCreateServiceAccountTimeout,
		},
		{
			name:    "旧集群 token secret 已就绪",
			cluster: testCluster(domain.FeatureLegacyTokenSecrets),
			objs:    []runtime.Object{defaultSA(t, app.Namespace(), "default-token-abc")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := newFakeClients(t, tt.cluster, tt.objs...)
			m := NewNamespaceManager(&staticProvider{clients: c}, 20*time.Millisecond)

			err := m.EnsureNamespace(ctx, app)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "err = %v", err)
			} else {
				assert.NoError(t, err)
			}
			ns, err := c.Gateway.Get(ctx, mapper.KindNamespace, "", app.Namespace())
			require.NoError(t, err)
			assert.Equal(t, app.AppCode, ns.GetLabels()[domain.LabelAppCode])
		})
	}
}

func TestUpsertImagePullSecretAndEnvs(t *testing.T) {
	ctx := context.Background()
	app := testApp()
	c, _ := newFakeClients(t, testCluster())
	m := NewNamespaceManager(&staticProvider{clients: c}, 0)

	cred := port.RegistryCredential{Registry: "hub.example.com", Username: "u", Password: "p"}
	require.NoError(t, m.UpsertImagePullSecret(ctx, app, cred))
	require.NoError(t, m.UpsertImagePullSecret(ctx, app, cred))
	_, err := c.Gateway.Get(ctx, mapper.KindSecret, app.Namespace(), app.ImagePullSecretName())
	require.NoError(t, err)

	require.NoError(t, m.UpsertEnvConfigMap(ctx, app, map[string]string{"A": "1"}))
	cm, err := c.Gateway.Get(ctx, mapper.KindConfigMap, app.Namespace(), app.EnvConfigMapName())
	require.NoError(t, err)
	data, err := fromUnstructuredConfigMap(cm.Object)
	require.NoError(t, err)
	assert.Equal(t, "1", data["A"])
}

func fromUnstructuredConfigMap(obj map[string]any) (map[string]string, error) {
	var cm corev1.ConfigMap
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj, &cm); err != nil {
		return nil, err
	}
	return cm.Data, nil
}

func TestDeleteAllUnderNamespace(t *testing.T) {
	ctx := context.Background()
	app := testApp()
	sibling := testApp()
	sibling.ModuleName = "api"
	sibling.Name = domain.EngineAppName(sibling.AppCode, sibling.ModuleName, sibling.Environment)

	c, _ := newFakeClients(t, testCluster(),
		testDeployment(t, app, "web", 1, 1),
		testDeployment(t, sibling, "web", 1, 1),
		testProcessPod(t, app, "web", "web-a", ""),
		testService(t, "unrelated", "", nil),
	)
	m := NewNamespaceManager(&staticProvider{clients: c}, 0)

	require.NoError(t, m.DeleteAllUnderNamespace(ctx, app))
	// 可重复执行
	require.NoError(t, m.DeleteAllUnderNamespace(ctx, app))

	list, err := c.Gateway.List(ctx, mapper.KindDeployment, app.Namespace(), nil)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "api", list.Items[0].GetLabels()[domain.LabelModuleName])

	pods, err := c.Gateway.List(ctx, mapper.KindPod, app.Namespace(), nil)
	require.NoError(t, err)
	assert.Empty(t, pods.Items)

	svcs, err := c.Gateway.List(ctx, mapper.KindService, "ns", nil)
	require.NoError(t, err)
	assert.Len(t, svcs.Items, 1)
}
