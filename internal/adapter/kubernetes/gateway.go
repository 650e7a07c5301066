package kubernetes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	jsonpatch "github.com/evanphx/json-patch"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/util/retry"
)

// UpdateMethod 是资源已存在时的更新方式。
type UpdateMethod string

const (
	MethodReplace    UpdateMethod = "replace"
	MethodPatch      UpdateMethod = "patch"
	MethodMergePatch UpdateMethod = "merge-patch"
)

const (
	listPageSize        = 500
	defaultWatchTimeout = 60 * time.Second
)

// ListResult 是一次 LIST 的结果，ResourceVersion 用于后续 watch。
type ListResult struct {
	Items           []unstructured.Unstructured
	ResourceVersion string
}

// Gateway 通过 dynamic client 读写任意已登记的资源类型。
type Gateway struct {
	cluster string
	client  dynamic.Interface
}

func NewGateway(cluster string, client dynamic.Interface) *Gateway {
	return &Gateway{cluster: cluster, client: client}
}

func (g *Gateway) resource(kind mapper.ResourceKind, namespace string) dynamic.ResourceInterface {
	r := g.client.Resource(kind.GVR())
	if kind.Namespaced {
		return r.Namespace(namespace)
	}
	return r
}

func (g *Gateway) Get(ctx context.Context, kind mapper.ResourceKind, namespace, name string) (*unstructured.Unstructured, error) {
	obj, err := g.resource(kind, namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translateError(err, kind.Kind, namespace, name)
	}
	return obj, nil
}

// List 分页读取全部结果，selector 为空时不过滤。
func (g *Gateway) List(ctx context.Context, kind mapper.ResourceKind, namespace string, selector map[string]string) (*ListResult, error) {
	opts := metav1.ListOptions{Limit: listPageSize}
	if len(selector) > 0 {
		opts.LabelSelector = labels.SelectorFromSet(selector).String()
	}
	result := &ListResult{}
	for {
		list, err := g.resource(kind, namespace).List(ctx, opts)
		if err != nil {
			return nil, translateError(err, kind.Kind, namespace, "")
		}
		result.Items = append(result.Items, list.Items...)
		result.ResourceVersion = list.GetResourceVersion()
		if list.GetContinue() == "" {
			return result, nil
		}
		opts.Continue = list.GetContinue()
	}
}

// CreateOrUpdate 不存在时创建，存在时按 method 更新。返回值 created 表示是否为新建。
func (g *Gateway) CreateOrUpdate(ctx context.Context, kind mapper.ResourceKind, obj *unstructured.Unstructured, method UpdateMethod) (result *unstructured.Unstructured, created bool, err error) {
	ns, name := obj.GetNamespace(), obj.GetName()
	client := g.resource(kind, ns)

	existing, err := client.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		result, err = client.Create(ctx, obj, metav1.CreateOptions{})
		if err == nil {
			return result, true, nil
		}
		if !apierrors.IsAlreadyExists(err) {
			return nil, false, translateError(err, kind.Kind, ns, name)
		}
		// 并发创建，转为更新
		existing, err = client.Get(ctx, name, metav1.GetOptions{})
	}
	if err != nil {
		return nil, false, translateError(err, kind.Kind, ns, name)
	}

	switch method {
	case MethodPatch, MethodMergePatch:
		result, err = g.patch(ctx, kind, existing, obj, method)
	default:
		result, err = g.replace(ctx, kind, existing, obj)
	}
	if err != nil {
		return nil, false, translateError(err, kind.Kind, ns, name)
	}
	return result, false, nil
}

// conflictRetry 在版本冲突时重新获取一次后重试。
var conflictRetry = wait.Backoff{Steps: 2, Duration: 10 * time.Millisecond, Factor: 1.0}

func (g *Gateway) replace(ctx context.Context, kind mapper.ResourceKind, existing, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	client := g.resource(kind, obj.GetNamespace())
	var result *unstructured.Unstructured
	err := retry.RetryOnConflict(conflictRetry, func() error {
		desired := obj.DeepCopy()
		desired.SetResourceVersion(existing.GetResourceVersion())
		preserveImmutableFields(kind, existing, desired)
		var err error
		result, err = client.Update(ctx, desired, metav1.UpdateOptions{})
		if apierrors.IsConflict(err) {
			if latest, getErr := client.Get(ctx, obj.GetName(), metav1.GetOptions{}); getErr == nil {
				existing = latest
			}
		}
		return err
	})
	return result, err
}

// patch 内置资源使用 strategic merge patch，自定义资源不支持时退化为 merge patch。
func (g *Gateway) patch(ctx context.Context, kind mapper.ResourceKind, existing, obj *unstructured.Unstructured, method UpdateMethod) (*unstructured.Unstructured, error) {
	desired := obj.DeepCopy()
	unstructured.RemoveNestedField(desired.Object, "metadata", "creationTimestamp")
	unstructured.RemoveNestedField(desired.Object, "status")
	body, err := json.Marshal(desired.Object)
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", kind.Kind, obj.GetName(), err)
	}
	if method == MethodMergePatch {
		// 合并后与现有对象一致时不发请求
		current, err := json.Marshal(existing.Object)
		if err != nil {
			return nil, fmt.Errorf("marshal existing %s %s: %w", kind.Kind, obj.GetName(), err)
		}
		if merged, err := jsonpatch.MergePatch(current, body); err == nil && jsonpatch.Equal(merged, current) {
			return existing, nil
		}
	}
	patchType := types.MergePatchType
	if method == MethodPatch && isBuiltinGroup(kind.Group) {
		patchType = types.StrategicMergePatchType
	}
	return g.resource(kind, obj.GetNamespace()).Patch(ctx, obj.GetName(), patchType, body, metav1.PatchOptions{})
}

// MergePatch 对已有资源做 JSON merge patch。
func (g *Gateway) MergePatch(ctx context.Context, kind mapper.ResourceKind, namespace, name string, patch map[string]any) (*unstructured.Unstructured, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch for %s %s: %w", kind.Kind, name, err)
	}
	obj, err := g.resource(kind, namespace).Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return nil, translateError(err, kind.Kind, namespace, name)
	}
	return obj, nil
}

func isBuiltinGroup(group string) bool {
	switch group {
	case "", "apps", "autoscaling", "networking.k8s.io", "batch":
		return true
	}
	return false
}

// preserveImmutableFields 保留 apiserver 分配、更新时不可变更的字段。
func preserveImmutableFields(kind mapper.ResourceKind, existing, desired *unstructured.Unstructured) {
	if kind.Kind != mapper.KindService.Kind {
		return
	}
	for _, field := range []string{"clusterIP", "clusterIPs"} {
		if v, found, _ := unstructured.NestedFieldCopy(existing.Object, "spec", field); found {
			_ = unstructured.SetNestedField(desired.Object, v, "spec", field)
		}
	}
}

// Delete 使用前台级联删除。raiseIfMissing 为 false 时资源不存在视为成功。
func (g *Gateway) Delete(ctx context.Context, kind mapper.ResourceKind, namespace, name string, raiseIfMissing bool) error {
	propagation := metav1.DeletePropagationForeground
	err := g.resource(kind, namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) && !raiseIfMissing {
		return nil
	}
	return translateError(err, kind.Kind, namespace, name)
}

// DeleteBySelector 删除命名空间下匹配标签的全部资源，错误会聚合返回。
func (g *Gateway) DeleteBySelector(ctx context.Context, kind mapper.ResourceKind, namespace string, selector map[string]string) error {
	list, err := g.List(ctx, kind, namespace, selector)
	if err != nil {
		if errors.Is(err, domain.ErrResourceMissing) {
			return nil
		}
		return err
	}
	var errs []error
	for _, item := range list.Items {
		if err := g.Delete(ctx, kind, item.GetNamespace(), item.GetName(), false); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Watch 从 resourceVersion 开始监听变化。resourceVersion 为空时从 "0" 开始，timeout 为 0 时使用默认值。
func (g *Gateway) Watch(ctx context.Context, kind mapper.ResourceKind, namespace, resourceVersion string, selector map[string]string, timeout time.Duration) (watch.Interface, error) {
	if resourceVersion == "" {
		resourceVersion = "0"
	}
	if timeout <= 0 {
		timeout = defaultWatchTimeout
	}
	seconds := int64(timeout.Seconds())
	opts := metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		TimeoutSeconds:      &seconds,
		AllowWatchBookmarks: true,
	}
	if len(selector) > 0 {
		opts.LabelSelector = labels.SelectorFromSet(selector).String()
	}
	w, err := g.resource(kind, namespace).Watch(ctx, opts)
	if err != nil {
		return nil, translateError(err, kind.Kind, namespace, "")
	}
	return w, nil
}

func fromUnstructuredObj(u *unstructured.Unstructured, out any) error {
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), out); err != nil {
		return fmt.Errorf("convert %s %s: %w", u.GetKind(), u.GetName(), err)
	}
	return nil
}
