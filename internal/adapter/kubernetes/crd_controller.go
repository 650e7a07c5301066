package kubernetes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var (
	_ port.BkAppController   = (*BkAppController)(nil)
	_ port.MonitorController = (*MonitorController)(nil)
)

type BkAppController struct {
	provider ClientProvider
}

func NewBkAppController(provider ClientProvider) *BkAppController {
	return &BkAppController{provider: provider}
}

func (bc *BkAppController) Upsert(ctx context.Context, bkapp *domain.BkApp) error {
	c, err := bc.provider.ForApp(ctx, bkapp.App)
	if err != nil {
		return err
	}
	obj, err := mapper.Serialize(c.Mappers(bkapp.App.MapperVersion), bkapp)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindBkApp, obj, MethodReplace); err != nil {
		return fmt.Errorf("apply bkapp %s: %w", bkapp.Name, err)
	}
	return nil
}

func (bc *BkAppController) Delete(ctx context.Context, app *domain.WlApp, name string) error {
	c, err := bc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	return c.Gateway.Delete(ctx, mapper.KindBkApp, app.Namespace(), name, false)
}

// MonitorController 管理 ServiceMonitor，集群未开启监控功能时所有操作为空操作。
type MonitorController struct {
	provider ClientProvider
}

func NewMonitorController(provider ClientProvider) *MonitorController {
	return &MonitorController{provider: provider}
}

func (mc *MonitorController) UpsertServiceMonitor(ctx context.Context, sm *domain.ServiceMonitor) error {
	c, err := mc.provider.ForApp(ctx, sm.App)
	if err != nil {
		return err
	}
	if !c.Cluster.HasFeature(domain.FeatureBkMonitor) {
		slog.Debug("bk monitor disabled, skip service monitor", "cluster", c.Cluster.Name, "name", sm.Name)
		return nil
	}
	if sm.Name == "" {
		sm.Name = mapper.ServiceMonitorName(sm.App)
	}
	if sm.MatchLabels == nil {
		sm.MatchLabels = sm.App.BaseLabels()
	}
	reg := c.Mappers(sm.App.MapperVersion)
	obj, err := mapper.Serialize(reg, sm)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindOf[*domain.ServiceMonitor](reg), obj, MethodMergePatch); err != nil {
		return fmt.Errorf("apply service monitor %s: %w", sm.Name, err)
	}
	return nil
}

func (mc *MonitorController) DeleteServiceMonitor(ctx context.Context, app *domain.WlApp, name string) error {
	c, err := mc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	if !c.Cluster.HasFeature(domain.FeatureBkMonitor) {
		return nil
	}
	if name == "" {
		name = mapper.ServiceMonitorName(app)
	}
	kind := mapper.KindOf[*domain.ServiceMonitor](c.Mappers(app.MapperVersion))
	return c.Gateway.Delete(ctx, kind, app.Namespace(), name, false)
}
