package kubernetes

import (
	"context"
	"testing"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubefake "k8s.io/client-go/kubernetes/fake"
)

func typedPod(app *domain.WlApp, name, procType string) *corev1.Pod {
	labels := app.BaseLabels()
	if procType != "" {
		labels = mapper.NamingFor(app.MapperVersion).ProcessLabels(app, procType)
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: app.Namespace(), Labels: labels},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func TestInstanceWatcherList(t *testing.T) {
	app := testApp()
	other := testApp()
	other.Environment = domain.EnvProd

	c, _ := newFakeClients(t, testCluster())
	c.Kube = kubefake.NewSimpleClientset(
		typedPod(app, "web-b", "web"),
		typedPod(app, "web-a", "web"),
		typedPod(app, "pre-release-hook", ""),
		typedPod(other, "web-prod", "web"),
	)

	w, err := NewInstanceWatcher(&staticProvider{clients: c}, 2)
	require.NoError(t, err)
	defer w.Close()

	instances, err := w.ListInstances(context.Background(), app)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "web-a", instances[0].Name)
	assert.Equal(t, "web", instances[0].ProcessType)
	assert.Equal(t, "web-b", instances[1].Name)
}

func TestInstanceWatcherEviction(t *testing.T) {
	c, _ := newFakeClients(t, testCluster())
	w, err := NewInstanceWatcher(&staticProvider{clients: c}, 1)
	require.NoError(t, err)
	defer w.Close()

	first := w.informerFor(c, "ns-a")
	w.informerFor(c, "ns-b")

	// 容量为 1，第一个 informer 被淘汰并停止
	select {
	case <-first.stop:
	default:
		t.Fatal("evicted informer should be stopped")
	}
	assert.Equal(t, 1, w.informers.Len())
}

func TestListInstancesLive(t *testing.T) {
	app := testApp()
	c, _ := newFakeClients(t, testCluster(), testProcessPod(t, app, "web", "web-a", ""))

	instances, err := listInstancesLive(context.Background(), c, app)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Ready)
}
