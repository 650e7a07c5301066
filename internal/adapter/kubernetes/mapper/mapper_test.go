package mapper

import (
	"strings"
	"testing"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/utils/ptr"
)

func testApp() *domain.WlApp {
	return &domain.WlApp{
		Name:          "bkapp-foo_bar-stag",
		Region:        "default",
		AppCode:       "foo_bar",
		ModuleName:    "default",
		Environment:   domain.EnvStag,
		MapperVersion: domain.MapperV2,
	}
}

func TestNaming(t *testing.T) {
	app := testApp()
	tests := []struct {
		name       string
		version    domain.MapperVersion
		deployment string
		service    string
		selector   map[string]string
	}{
		{
			name:       "v1 带 region 前缀",
			version:    domain.MapperV1,
			deployment: "default-bkapp-foo0us0bar-stag-web-deployment",
			service:    "default-bkapp-foo0us0bar-stag-web",
			selector: map[string]string{
				LabelPodSelector:   "default-bkapp-foo0us0bar-stag-web-deployment",
				domain.LabelRegion: "default",
			},
		},
		{
			name:       "v2 简短命名",
			version:    domain.MapperV2,
			deployment: "bkapp-foo0us0bar-stag-web",
			service:    "bkapp-foo0us0bar-stag-web",
			selector:   map[string]string{LabelPodSelector: "bkapp-foo0us0bar-stag-web"},
		},
		{
			name:       "未知版本按 v2",
			version:    "v9",
			deployment: "bkapp-foo0us0bar-stag-web",
			service:    "bkapp-foo0us0bar-stag-web",
			selector:   map[string]string{LabelPodSelector: "bkapp-foo0us0bar-stag-web"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NamingFor(tt.version)
			assert.Equal(t, tt.deployment, n.DeploymentName(app, "web"))
			assert.Equal(t, tt.service, n.ServiceName(app, "web"))
			assert.Equal(t, tt.selector, n.Selector(app, "web"))

			labels := n.ProcessLabels(app, "web")
			for k, v := range tt.selector {
				assert.Equal(t, v, labels[k], "process labels must contain selector %s", k)
			}
			assert.Equal(t, "foo_bar", labels[domain.LabelAppCode])
			assert.Equal(t, "web", labels[domain.LabelProcessID])
		})
	}
}

func TestDeploymentRoundTrip(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	proc := &domain.Process{
		App:             testApp(),
		Type:            "web",
		Version:         7,
		Replicas:        2,
		Image:           "registry.example.com/foo:v7",
		ImagePullPolicy: "IfNotPresent",
		Command:         []string{"bash", "-c"},
		Args:            []string{"gunicorn app:wsgi"},
		Envs:            map[string]string{"PORT": "5000", "BKPAAS_APP_ID": "foo_bar"},
		TargetPort:      5000,
		Resources: domain.ResourceRequirements{
			Limits:   map[string]string{"cpu": "2", "memory": "2Gi"},
			Requests: map[string]string{"cpu": "200m", "memory": "256Mi"},
		},
		Probes: domain.ProbeSet{
			Readiness: &domain.Probe{
				HTTPGet:       &domain.HTTPGetAction{Path: "/healthz", Port: "5000"},
				PeriodSeconds: 10,
			},
		},
		NodeSelector:        map[string]string{"eng-cstate-abcd1234-1": "1"},
		Tolerations:         []domain.Toleration{{Key: "dedicated", Operator: "Equal", Value: "paas", Effect: "NoSchedule"}},
		ImagePullSecretName: "image-pull-secret-bkapp-foo0us0bar-stag",
	}

	obj, err := Serialize(reg, proc)
	require.NoError(t, err)
	assert.Equal(t, "apps/v1", obj.GetAPIVersion())
	assert.Equal(t, "Deployment", obj.GetKind())
	assert.Equal(t, "bkapp-foo0us0bar-stag-web", obj.GetName())
	assert.Equal(t, "bkapp-foo0us0bar-stag", obj.GetNamespace())

	var deploy appsv1.Deployment
	require.NoError(t, fromUnstructured(obj, &deploy))
	assert.Equal(t, int32(defaultRevisionHistoryLimit), ptr.Deref(deploy.Spec.RevisionHistoryLimit, 0))
	assert.Equal(t, "7", deploy.Spec.Template.Labels[domain.LabelReleaseVersion])
	assert.Equal(t, "web", deploy.Spec.Template.Spec.Containers[0].Name)

	got, err := Deserialize[*domain.Process](reg, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(proc, got, cmpopts.IgnoreFields(domain.Process{}, "App", "Autoscaling")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeploymentProbePlaceholder(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{RevisionHistoryLimit: 3})
	proc := &domain.Process{
		App:    testApp(), Type: "web", Replicas: 1, Image: "foo", TargetPort: 8000,
		Probes: domain.ProbeSet{Liveness: &domain.Probe{TCPSocket: &domain.TCPSocketAction{Port: domain.ProbePortPlaceholder}}},
	}
	obj, err := Serialize(reg, proc)
	require.NoError(t, err)

	var deploy appsv1.Deployment
	require.NoError(t, fromUnstructured(obj, &deploy))
	c := deploy.Spec.Template.Spec.Containers[0]
	assert.Equal(t, int32(8000), c.LivenessProbe.TCPSocket.Port.IntVal)
	assert.Nil(t, c.ReadinessProbe)
	assert.Nil(t, c.StartupProbe)
	assert.Equal(t, int32(3), *deploy.Spec.RevisionHistoryLimit)
}

func TestDeploymentInvalidQuantity(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	proc := &domain.Process{
		App:       testApp(), Type: "web", Image: "foo",
		Resources: domain.ResourceRequirements{Limits: map[string]string{"cpu": "lots"}},
	}
	_, err := Serialize(reg, proc)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestServiceMapper(t *testing.T) {
	reg := NewRegistry(domain.MapperV1, Options{})
	svc := &domain.ProcessService{App: testApp(), ProcType: "web", Ports: DefaultServicePorts(0)}
	obj, err := Serialize(reg, svc)
	require.NoError(t, err)
	assert.Equal(t, "default-bkapp-foo0us0bar-stag-web", obj.GetName())

	var k8sSvc corev1.Service
	require.NoError(t, fromUnstructured(obj, &k8sSvc))
	assert.Equal(t, corev1.ServiceTypeClusterIP, k8sSvc.Spec.Type)
	assert.Equal(t, reg.Naming().Selector(svc.App, "web"), k8sSvc.Spec.Selector)
	require.Len(t, k8sSvc.Spec.Ports, 1)
	assert.Equal(t, int32(80), k8sSvc.Spec.Ports[0].Port)
	assert.Equal(t, int32(domain.DefaultTargetPort), k8sSvc.Spec.Ports[0].TargetPort.IntVal)

	svc.Ports[0].NodePort = 30080
	obj, err = Serialize(reg, svc)
	require.NoError(t, err)
	require.NoError(t, fromUnstructured(obj, &k8sSvc))
	assert.Equal(t, corev1.ServiceTypeNodePort, k8sSvc.Spec.Type)
}

func TestIngressRoundTrip(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	ing := &domain.ProcessIngress{
		App:             testApp(),
		Name:            "bkapp-foo0us0bar-stag",
		ServiceName:     "bkapp-foo0us0bar-stag-web",
		ServicePortName: "http",
		Domains: []domain.IngressDomain{
			{Host: "stag-dot-foo-bar.example.com", PathPrefixList: []string{"/"}, TLSEnabled: true, TLSSecretName: "wildcard-example"},
			{Host: "foo.internal", PathPrefixList: []string{"/", "/api/"}},
		},
		ServerSnippet: "client_max_body_size 20m;",
	}
	obj, err := Serialize(reg, ing)
	require.NoError(t, err)

	var k8sIng networkingv1.Ingress
	require.NoError(t, fromUnstructured(obj, &k8sIng))
	assert.Equal(t, "nginx", k8sIng.Annotations[AnnotationIngressClass])
	require.Len(t, k8sIng.Spec.TLS, 1)
	assert.Equal(t, []string{"stag-dot-foo-bar.example.com"}, k8sIng.Spec.TLS[0].Hosts)
	assert.Equal(t, networkingv1.PathTypePrefix, *k8sIng.Spec.Rules[1].HTTP.Paths[1].PathType)

	got, err := Deserialize[*domain.ProcessIngress](reg, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(ing, got, cmpopts.IgnoreFields(domain.ProcessIngress{}, "App")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestIngressSubpath(t *testing.T) {
	app := testApp()
	app.Environment = domain.EnvProd
	plugin := &AccessControlPlugin{Configs: map[string]AccessControlConfig{
		"default": {Enabled: true, LuaModule: "paas.access_control"},
	}}
	analysis := &PaaSAnalysisPlugin{Configs: map[string]AnalysisConfig{
		"default": {Enabled: true, LuaModule: "paas.analysis"},
	}}
	reg := NewRegistry(domain.MapperV2, Options{IngressPlugins: []IngressPlugin{plugin, analysis}})
	ing := &domain.ProcessIngress{
		App:                  app,
		Name:                 "bkapp-foo0us0bar-prod-subpaths",
		ServiceName:          "bkapp-foo0us0bar-prod-web",
		ServicePortName:      "http",
		Domains:              []domain.IngressDomain{{Host: "apps.example.com", PathPrefixList: []string{"/foo_bar/"}}},
		SetHeaderXScriptName: true,
		RewriteToRoot:        true,
	}
	obj, err := Serialize(reg, ing)
	require.NoError(t, err)

	var k8sIng networkingv1.Ingress
	require.NoError(t, fromUnstructured(obj, &k8sIng))
	assert.Equal(t, "/$3", k8sIng.Annotations[AnnotationRewriteTarget])
	assert.Equal(t, "true", k8sIng.Annotations[AnnotationUseRegex])
	assert.Equal(t, "false", k8sIng.Annotations[AnnotationSSLRedirect])
	path := k8sIng.Spec.Rules[0].HTTP.Paths[0]
	assert.Equal(t, "(/foo_bar)(/|$)(.*)", path.Path)
	assert.Equal(t, networkingv1.PathTypeImplementationSpecific, *path.PathType)

	snippet := k8sIng.Annotations[AnnotationConfigSnippet]
	assert.True(t, strings.HasPrefix(snippet, scriptNameHeaderSnippet))
	assert.Contains(t, snippet, `access_by_lua_block { require("paas.access_control").access() }`)
	assert.Contains(t, snippet, "set $bkapp_env_name 'prod';")
	// 未配置站点的统计插件不输出任何内容
	assert.NotContains(t, snippet, "header_filter_by_lua")

	got, err := Deserialize[*domain.ProcessIngress](reg, obj)
	require.NoError(t, err)
	assert.True(t, got.RewriteToRoot)
	assert.True(t, got.SetHeaderXScriptName)
	assert.Equal(t, []string{"/foo_bar/"}, got.Domains[0].PathPrefixList)
}

func TestIngressReserializeKeepsPluginSnippetsSingle(t *testing.T) {
	app := testApp()
	reg := NewRegistry(domain.MapperV2, Options{IngressPlugins: []IngressPlugin{
		&AccessControlPlugin{Configs: map[string]AccessControlConfig{
			"default": {Enabled: true, LuaModule: "paas.access_control"},
		}},
		&PaaSAnalysisPlugin{Configs: map[string]AnalysisConfig{
			"default": {Enabled: true, LuaModule: "paas.analysis", Sites: map[string]int{"foo_bar:stag": 42}},
		}},
	}})
	obj, err := Serialize(reg, &domain.ProcessIngress{
		App:                  app,
		Name:                 "bkapp-foo0us0bar-stag",
		ServiceName:          "bkapp-foo0us0bar-stag-web",
		ServicePortName:      "http",
		Domains:              []domain.IngressDomain{{Host: "stag-dot-foo-bar.example.com", PathPrefixList: []string{"/"}}},
		ConfigurationSnippet: "proxy_read_timeout 120s;",
	})
	require.NoError(t, err)

	// 列出后改写目标再次下发
	got, err := Deserialize[*domain.ProcessIngress](reg, obj)
	require.NoError(t, err)
	assert.Equal(t, "proxy_read_timeout 120s;", got.ConfigurationSnippet)
	got.App = app
	got.ServiceName = "bkapp-foo0us0bar-stag-worker"
	obj, err = Serialize(reg, got)
	require.NoError(t, err)

	var k8sIng networkingv1.Ingress
	require.NoError(t, fromUnstructured(obj, &k8sIng))
	snippet := k8sIng.Annotations[AnnotationConfigSnippet]
	assert.Equal(t, 1, strings.Count(snippet, "access_by_lua_block"))
	assert.Equal(t, 1, strings.Count(snippet, "header_filter_by_lua_block"))
	assert.Equal(t, 1, strings.Count(snippet, "proxy_read_timeout 120s;"))
	assert.Equal(t, "bkapp-foo0us0bar-stag-worker", k8sIng.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Name)
}

func TestIngressUseRegexFlag(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{IngressUseRegex: true})
	obj, err := Serialize(reg, &domain.ProcessIngress{
		App:     testApp(), Name: "x", ServiceName: "svc", ServicePortName: "http",
		Domains: []domain.IngressDomain{{Host: "a.example.com"}},
	})
	require.NoError(t, err)

	var k8sIng networkingv1.Ingress
	require.NoError(t, fromUnstructured(obj, &k8sIng))
	assert.Equal(t, "true", k8sIng.Annotations[AnnotationUseRegex])
	assert.Empty(t, k8sIng.Annotations[AnnotationRewriteTarget])
	assert.Equal(t, "/", k8sIng.Spec.Rules[0].HTTP.Paths[0].Path)
}

func TestPaaSAnalysisPlugin(t *testing.T) {
	app := testApp()
	p := &PaaSAnalysisPlugin{Configs: map[string]AnalysisConfig{
		"default": {Enabled: true, LuaModule: "paas.analysis", Sites: map[string]int{"foo_bar:stag": 42}},
	}}
	assert.Equal(t, "set $bkpa_site_id 42;\nheader_filter_by_lua_block { require(\"paas.analysis\").inject() }",
		p.ConfigurationSnippet(app, nil))

	app.Region = "other"
	assert.Empty(t, p.ConfigurationSnippet(app, nil))
}

func TestAutoscalingMapper(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	a := &domain.ProcAutoscaling{
		App:      testApp(),
		Name:     "bkapp-foo0us0bar-stag-web",
		ProcType: "web",
		Target:   "bkapp-foo0us0bar-stag-web",
		Config:   domain.AutoscalingConfig{MinReplicas: 1, MaxReplicas: 5, Policy: domain.ScalingPolicyDefault},
	}
	obj, err := Serialize(reg, a)
	require.NoError(t, err)

	var hpa autoscalingv2.HorizontalPodAutoscaler
	require.NoError(t, fromUnstructured(obj, &hpa))
	assert.Equal(t, "Deployment", hpa.Spec.ScaleTargetRef.Kind)
	require.Len(t, hpa.Spec.Metrics, 1)
	assert.Equal(t, corev1.ResourceCPU, hpa.Spec.Metrics[0].Resource.Name)
	assert.Equal(t, int32(85), *hpa.Spec.Metrics[0].Resource.Target.AverageUtilization)

	got, err := Deserialize[*domain.ProcAutoscaling](reg, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(a, got, cmpopts.IgnoreFields(domain.ProcAutoscaling{}, "App")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	a.Config.Policy = "qps"
	_, err = Serialize(reg, a)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestServiceMonitorMapper(t *testing.T) {
	app := testApp()
	sm := &domain.ServiceMonitor{
		App:         app,
		Name:        ServiceMonitorName(app),
		Path:        "/metrics",
		Interval:    "30s",
		MatchLabels: map[string]string{LabelPodSelector: "bkapp-foo0us0bar-stag-web"},
	}
	for _, beta := range []bool{false, true} {
		reg := NewRegistry(domain.MapperV2, Options{ServiceMonitorV1Beta1: beta})
		obj, err := Serialize(reg, sm)
		require.NoError(t, err)
		if beta {
			assert.Equal(t, "monitoring.coreos.com/v1beta1", obj.GetAPIVersion())
		} else {
			assert.Equal(t, "monitoring.coreos.com/v1", obj.GetAPIVersion())
		}
		assert.Equal(t, "bkapp-foo0us0bar-stag-svcmon", obj.GetName())

		var spec serviceMonitor
		require.NoError(t, crdSpec(obj, &spec))
		require.Len(t, spec.Endpoints, 1)
		ep := spec.Endpoints[0]
		assert.Equal(t, ServiceMonitorPortName, ep.Port)
		assert.Equal(t, []relabeling{
			{Action: "replace", TargetLabel: "bk_app_code", Replacement: "foo_bar"},
			{Action: "replace", TargetLabel: "bk_module", Replacement: "default"},
			{Action: "replace", TargetLabel: "bk_env", Replacement: "stag"},
		}, ep.Relabelings)

		got, err := Deserialize[*domain.ServiceMonitor](reg, obj)
		require.NoError(t, err)
		assert.Equal(t, ServiceMonitorPortName, got.Port)
		assert.Equal(t, sm.MatchLabels, got.MatchLabels)
	}
}

func TestCommandPodMapper(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	cmd := &domain.RuntimeCommand{
		App:     testApp(),
		Name:    HookPodName(testApp()),
		Type:    domain.CommandPreReleaseHook,
		Version: 3,
		Image:   "foo:v3",
		Command: []string{"bash", "-c"},
		Args:    []string{"python manage.py migrate"},
		Envs:    map[string]string{"A": "1"},
	}
	obj, err := Serialize(reg, cmd)
	require.NoError(t, err)

	var pod corev1.Pod
	require.NoError(t, fromUnstructured(obj, &pod))
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
	assert.Equal(t, "pre-release-hook-bkapp-foo0us0bar-stag", pod.Name)
	assert.Equal(t, "pre_release_hook", pod.Labels[domain.LabelCategory])

	got, err := Deserialize[*domain.RuntimeCommand](reg, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(cmd, got, cmpopts.IgnoreFields(domain.RuntimeCommand{}, "App")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSandboxMapper(t *testing.T) {
	sbx := &domain.Sandbox{
		UUID:        "0123456789abcdef",
		Kind:        domain.SandboxAgent,
		AppCode:     "foo_bar",
		ModuleName:  "default",
		Environment: domain.EnvStag,
		Image:       "sandbox:latest",
		DaemonPort:  8000,
		Workdir:     "/workspace",
	}
	reg := NewRegistry(domain.MapperV2, Options{})
	obj, err := Serialize(reg, sbx)
	require.NoError(t, err)
	assert.Equal(t, "bk-agent-sbx-foo0us0bar", obj.GetNamespace())
	assert.Equal(t, "sbx-foo0us0bar-01234567", obj.GetName())

	svcObj, err := SandboxService(sbx, true)
	require.NoError(t, err)
	var svc corev1.Service
	require.NoError(t, fromUnstructured(svcObj, &svc))
	assert.Equal(t, corev1.ServiceTypeNodePort, svc.Spec.Type)
	assert.Equal(t, map[string]string{"sandbox_id": sbx.UUID}, svc.Spec.Selector)

	svc.Spec.Ports[0].NodePort = 31000
	pod := &corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.0.0.8", HostIP: "192.168.1.2"}}
	rt := SandboxRuntimeFromPod(sbx, pod, &svc)
	assert.Equal(t, domain.SandboxRunning, rt.Status)
	assert.Equal(t, int32(31000), rt.NodePort)
	assert.Equal(t, "sbx-foo0us0bar-01234567.bk-agent-sbx-foo0us0bar:8000", rt.ServiceAddr)
}

func TestBkAppRoundTrip(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	b := &domain.BkApp{
		App:     testApp(),
		Name:    "bkapp-foo0us0bar-stag",
		Image:   "foo:v9",
		Version: 9,
		Envs:    map[string]string{"BKPAAS_ENVIRONMENT": "stag"},
		Processes: []domain.BkAppProcess{{
			Name:       "web",
			Replicas:   2,
			Command:    []string{"bash", "-c"},
			Args:       []string{"gunicorn app:wsgi"},
			TargetPort: 5000,
			Resources:  domain.ResourceRequirements{Limits: map[string]string{"cpu": "1", "memory": "1Gi"}},
			Probes: domain.ProbeSet{Liveness: &domain.Probe{
				HTTPGet: &domain.HTTPGetAction{Path: "/ping", Port: "5000"},
			}},
			Autoscaling: &domain.AutoscalingConfig{MinReplicas: 1, MaxReplicas: 4, Policy: domain.ScalingPolicyDefault},
		}},
		Hook: &domain.Hook{Enabled: true, Command: "python manage.py migrate"},
	}
	obj, err := Serialize(reg, b)
	require.NoError(t, err)
	assert.Equal(t, "paas.bk.tencent.com/v1alpha1", obj.GetAPIVersion())

	got, err := Deserialize[*domain.BkApp](reg, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(b, got, cmpopts.IgnoreFields(domain.BkApp{}, "App")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDomainGroupMappingRoundTrip(t *testing.T) {
	reg := NewRegistry(domain.MapperV2, Options{})
	dgm := &domain.DomainGroupMapping{
		App:       testApp(),
		Name:      "bkapp-foo0us0bar-stag",
		BkAppName: "bkapp-foo0us0bar-stag",
		Groups: []domain.DomainGroup{
			{SourceType: domain.SourceAutoGen, Domains: []domain.IngressDomain{{Host: "a.example.com", PathPrefixList: []string{"/"}}}},
			{SourceType: domain.SourceCustom, Domains: []domain.IngressDomain{{Host: "www.foo.com", PathPrefixList: []string{"/x/"}, TLSEnabled: true, TLSSecretName: "foo-tls"}}},
		},
	}
	obj, err := Serialize(reg, dgm)
	require.NoError(t, err)
	got, err := Deserialize[*domain.DomainGroupMapping](reg, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(dgm, got, cmpopts.IgnoreFields(domain.DomainGroupMapping{}, "App")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkloadSummary(t *testing.T) {
	deploy := &appsv1.Deployment{
		Spec:   appsv1.DeploymentSpec{Replicas: ptr.To(int32(3))},
		Status: appsv1.DeploymentStatus{ReadyReplicas: 3, UpdatedReplicas: 3, AvailableReplicas: 2},
	}
	assert.Equal(t, "Ready: 3/3, Up-to-date: 3, Available: 2", DeploymentSummary(deploy))

	obj, err := toUnstructured(deploy, KindDeployment)
	require.NoError(t, err)
	s, err := WorkloadSummary(obj)
	require.NoError(t, err)
	assert.Equal(t, "Ready: 3/3, Up-to-date: 3, Available: 2", s)

	sts := &appsv1.StatefulSet{
		Spec:   appsv1.StatefulSetSpec{Replicas: ptr.To(int32(2))},
		Status: appsv1.StatefulSetStatus{ReadyReplicas: 1, UpdatedReplicas: 2},
	}
	assert.Equal(t, "Ready: 1/2, Up-to-date: 2", StatefulSetSummary(sts))

	ds := &appsv1.DaemonSet{Status: appsv1.DaemonSetStatus{
		DesiredNumberScheduled: 5, CurrentNumberScheduled: 4, NumberReady: 3, UpdatedNumberScheduled: 2, NumberAvailable: 1,
	}}
	assert.Equal(t, "Desired: 5, Current: 4, Ready: 3, Up-to-date: 2, Available: 1", DaemonSetSummary(ds))
}

func TestImagePullSecret(t *testing.T) {
	obj, err := ImagePullSecret(testApp(), []RegistryCredential{{Host: "mirrors.example.com", Username: "u", Password: "p"}})
	require.NoError(t, err)

	var secret corev1.Secret
	require.NoError(t, fromUnstructured(obj, &secret))
	assert.Equal(t, corev1.SecretTypeDockerConfigJson, secret.Type)
	assert.Equal(t, "image-pull-secret-bkapp-foo0us0bar-stag", secret.Name)
	assert.JSONEq(t,
		`{"auths":{"mirrors.example.com":{"username":"u","password":"p","auth":"dTpw"}}}`,
		string(secret.Data[corev1.DockerConfigJsonKey]))
}
