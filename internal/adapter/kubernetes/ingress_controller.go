package kubernetes

import (
	"context"
	"fmt"
	"sort"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.IngressController = (*IngressController)(nil)

// IngressController 读写环境的 Ingress，云原生应用改写 DomainGroupMapping 由 operator 渲染。
type IngressController struct {
	provider ClientProvider
}

func NewIngressController(provider ClientProvider) *IngressController {
	return &IngressController{provider: provider}
}

func (ic *IngressController) List(ctx context.Context, app *domain.WlApp) ([]*domain.ProcessIngress, error) {
	c, err := ic.provider.ForApp(ctx, app)
	if err != nil {
		return nil, err
	}
	reg := c.Mappers(app.MapperVersion)
	list, err := c.Gateway.List(ctx, mapper.KindIngress, app.Namespace(), app.BaseLabels())
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ProcessIngress, 0, len(list.Items))
	for i := range list.Items {
		ing, err := mapper.Deserialize[*domain.ProcessIngress](reg, &list.Items[i])
		if err != nil {
			return nil, err
		}
		ing.App = app
		out = append(out, ing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (ic *IngressController) Upsert(ctx context.Context, ing *domain.ProcessIngress) error {
	c, err := ic.provider.ForApp(ctx, ing.App)
	if err != nil {
		return err
	}
	obj, err := mapper.Serialize(c.Mappers(ing.App.MapperVersion), ing)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindIngress, obj, MethodReplace); err != nil {
		return fmt.Errorf("apply ingress %s: %w", ing.Name, err)
	}
	return nil
}

func (ic *IngressController) Delete(ctx context.Context, app *domain.WlApp, name string) error {
	c, err := ic.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	return c.Gateway.Delete(ctx, mapper.KindIngress, app.Namespace(), name, false)
}

func (ic *IngressController) UpsertDomainGroupMapping(ctx context.Context, dgm *domain.DomainGroupMapping) error {
	c, err := ic.provider.ForApp(ctx, dgm.App)
	if err != nil {
		return err
	}
	obj, err := mapper.Serialize(c.Mappers(dgm.App.MapperVersion), dgm)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindDomainGroupMapping, obj, MethodMergePatch); err != nil {
		return fmt.Errorf("apply domain group mapping %s: %w", dgm.Name, err)
	}
	return nil
}

func (ic *IngressController) DeleteDomainGroupMapping(ctx context.Context, app *domain.WlApp, name string) error {
	c, err := ic.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	return c.Gateway.Delete(ctx, mapper.KindDomainGroupMapping, app.Namespace(), name, false)
}

func (ic *IngressController) ServiceName(app *domain.WlApp, procType string) string {
	return mapper.NamingFor(app.MapperVersion).ServiceName(app, procType)
}
