package mapper

import (
	"fmt"
	"reflect"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Serializer 把平台实体转换为 K8s 资源。
type Serializer[T any] interface {
	Kind() ResourceKind
	Serialize(entity T) (*unstructured.Unstructured, error)
}

// Deserializer 把 K8s 资源还原为平台实体，运行时字段（resourceVersion、status 等）不参与还原。
type Deserializer[T any] interface {
	Kind() ResourceKind
	Deserialize(obj *unstructured.Unstructured) (T, error)
}

type Mapper[T any] interface {
	Serializer[T]
	Deserializer[T]
}

// Options 是与集群相关的映射参数。
type Options struct {
	RevisionHistoryLimit  int32
	IngressPlugins        []IngressPlugin
	IngressUseRegex       bool
	ServiceMonitorV1Beta1 bool
}

// Registry 按实体类型索引映射器，每个应用按其 MapperVersion 取得一份。
type Registry struct {
	naming  Naming
	entries map[reflect.Type]any
}

// NewRegistry 创建某个命名方案下的映射器集合。
func NewRegistry(version domain.MapperVersion, opts Options) *Registry {
	naming := NamingFor(version)
	r := &Registry{naming: naming, entries: make(map[reflect.Type]any)}
	register[*domain.Process](r, &DeploymentMapper{naming: naming, revisionHistoryLimit: opts.RevisionHistoryLimit})
	register[*domain.ProcessService](r, &ServiceMapper{naming: naming})
	register[domain.Instance](r, &InstanceMapper{})
	register[*domain.ProcessIngress](r, &IngressMapper{plugins: opts.IngressPlugins, useRegex: opts.IngressUseRegex})
	register[*domain.ServiceMonitor](r, &ServiceMonitorMapper{v1beta1: opts.ServiceMonitorV1Beta1})
	register[*domain.ProcAutoscaling](r, &AutoscalingMapper{})
	register[*domain.RuntimeCommand](r, &CommandPodMapper{})
	register[*domain.SlugBuilderPod](r, &SlugBuilderMapper{})
	register[*domain.Sandbox](r, &SandboxPodMapper{})
	register[*domain.BkApp](r, &BkAppMapper{})
	register[*domain.DomainGroupMapping](r, &DomainGroupMappingMapper{})
	return r
}

func (r *Registry) Naming() Naming { return r.naming }

func register[T any](r *Registry, m any) {
	r.entries[typeOf[T]()] = m
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// SerializerFor 取出实体类型 T 的序列化器。
func SerializerFor[T any](r *Registry) (Serializer[T], error) {
	s, ok := r.entries[typeOf[T]()].(Serializer[T])
	if !ok {
		return nil, fmt.Errorf("no serializer registered for %s", typeOf[T]())
	}
	return s, nil
}

// DeserializerFor 取出实体类型 T 的反序列化器。
func DeserializerFor[T any](r *Registry) (Deserializer[T], error) {
	d, ok := r.entries[typeOf[T]()].(Deserializer[T])
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for %s", typeOf[T]())
	}
	return d, nil
}

// Serialize 是 SerializerFor + Serialize 的便捷写法。
func Serialize[T any](r *Registry, entity T) (*unstructured.Unstructured, error) {
	s, err := SerializerFor[T](r)
	if err != nil {
		return nil, err
	}
	return s.Serialize(entity)
}

func Deserialize[T any](r *Registry, obj *unstructured.Unstructured) (T, error) {
	d, err := DeserializerFor[T](r)
	if err != nil {
		var zero T
		return zero, err
	}
	return d.Deserialize(obj)
}

// KindOf 返回实体类型 T 对应的资源类型。
func KindOf[T any](r *Registry) ResourceKind {
	if s, err := SerializerFor[T](r); err == nil {
		return s.Kind()
	}
	if d, err := DeserializerFor[T](r); err == nil {
		return d.Kind()
	}
	return ResourceKind{}
}
