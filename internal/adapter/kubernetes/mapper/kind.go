package mapper

import "k8s.io/apimachinery/pkg/runtime/schema"

// ResourceKind 描述平台会读写的一种 K8s 资源。
type ResourceKind struct {
	Group      string
	Version    string
	Resource   string
	Kind       string
	Namespaced bool
}

func (k ResourceKind) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: k.Group, Version: k.Version, Resource: k.Resource}
}

func (k ResourceKind) APIVersion() string {
	if k.Group == "" {
		return k.Version
	}
	return k.Group + "/" + k.Version
}

func (k ResourceKind) ListKind() string {
	return k.Kind + "List"
}

var (
	KindNamespace      = ResourceKind{Version: "v1", Resource: "namespaces", Kind: "Namespace"}
	KindNode           = ResourceKind{Version: "v1", Resource: "nodes", Kind: "Node"}
	KindPod            = ResourceKind{Version: "v1", Resource: "pods", Kind: "Pod", Namespaced: true}
	KindService        = ResourceKind{Version: "v1", Resource: "services", Kind: "Service", Namespaced: true}
	KindConfigMap      = ResourceKind{Version: "v1", Resource: "configmaps", Kind: "ConfigMap", Namespaced: true}
	KindSecret         = ResourceKind{Version: "v1", Resource: "secrets", Kind: "Secret", Namespaced: true}
	KindEvent          = ResourceKind{Version: "v1", Resource: "events", Kind: "Event", Namespaced: true}
	KindServiceAccount = ResourceKind{Version: "v1", Resource: "serviceaccounts", Kind: "ServiceAccount", Namespaced: true}
	KindPVC            = ResourceKind{Version: "v1", Resource: "persistentvolumeclaims", Kind: "PersistentVolumeClaim", Namespaced: true}

	KindDeployment  = ResourceKind{Group: "apps", Version: "v1", Resource: "deployments", Kind: "Deployment", Namespaced: true}
	KindStatefulSet = ResourceKind{Group: "apps", Version: "v1", Resource: "statefulsets", Kind: "StatefulSet", Namespaced: true}
	KindDaemonSet   = ResourceKind{Group: "apps", Version: "v1", Resource: "daemonsets", Kind: "DaemonSet", Namespaced: true}

	KindIngress = ResourceKind{Group: "networking.k8s.io", Version: "v1", Resource: "ingresses", Kind: "Ingress", Namespaced: true}
	KindHPA     = ResourceKind{Group: "autoscaling", Version: "v2", Resource: "horizontalpodautoscalers", Kind: "HorizontalPodAutoscaler", Namespaced: true}

	// K8s <= 1.16 的集群只有 v1beta1 版本的 ServiceMonitor
	KindServiceMonitor        = ResourceKind{Group: "monitoring.coreos.com", Version: "v1", Resource: "servicemonitors", Kind: "ServiceMonitor", Namespaced: true}
	KindServiceMonitorV1Beta1 = ResourceKind{Group: "monitoring.coreos.com", Version: "v1beta1", Resource: "servicemonitors", Kind: "ServiceMonitor", Namespaced: true}

	KindBkApp              = ResourceKind{Group: "paas.bk.tencent.com", Version: "v1alpha1", Resource: "bkapps", Kind: "BkApp", Namespaced: true}
	KindDomainGroupMapping = ResourceKind{Group: "paas.bk.tencent.com", Version: "v1alpha1", Resource: "domaingroupmappings", Kind: "DomainGroupMapping", Namespaced: true}
)

// AllKinds 列出全部资源类型，测试中用于注册 fake dynamic client 的 list kind。
var AllKinds = []ResourceKind{
	KindNamespace, KindNode, KindPod, KindService, KindConfigMap, KindSecret, KindEvent, KindServiceAccount, KindPVC,
	KindDeployment, KindStatefulSet, KindDaemonSet, KindIngress, KindHPA,
	KindServiceMonitor, KindServiceMonitorV1Beta1, KindBkApp, KindDomainGroupMapping,
}
