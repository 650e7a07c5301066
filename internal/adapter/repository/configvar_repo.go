package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	_ port.ConfigVarRepository = (*ConfigVarRepo)(nil)
	_ port.AddonRepository     = (*AddonRepo)(nil)
)

type ConfigVarRepo struct {
	db *gorm.DB
}

func NewConfigVarRepo(db *gorm.DB) *ConfigVarRepo {
	return &ConfigVarRepo{db: db}
}

// Save 以 (app_code, module_name, scope, key, preset) 为唯一键覆盖写入。
func (r *ConfigVarRepo) Save(ctx context.Context, v *domain.ConfigVar) error {
	m := &ConfigVarModel{
		ID:         v.ID,
		AppCode:    v.AppCode,
		ModuleName: v.ModuleName,
		Scope:      string(v.Scope),
		Key:        v.Key,
		Value:      v.Value,
		Preset:     v.Preset,
		UpdatedAt:  v.UpdatedAt,
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "app_code"}, {Name: "module_name"}, {Name: "scope"}, {Name: "key"}, {Name: "preset"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(m).Error
}

func (r *ConfigVarRepo) FindByModule(ctx context.Context, appCode, moduleName string) ([]*domain.ConfigVar, error) {
	var models []ConfigVarModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ?", appCode, moduleName).
		Order("key").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ConfigVar, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.ConfigVar{
			ID:         m.ID,
			AppCode:    m.AppCode,
			ModuleName: m.ModuleName,
			Scope:      domain.ConfigVarScope(m.Scope),
			Key:        m.Key,
			Value:      m.Value,
			Preset:     m.Preset,
			UpdatedAt:  m.UpdatedAt,
		})
	}
	return out, nil
}

func (r *ConfigVarRepo) Delete(ctx context.Context, id string) error {
	return conn(ctx, r.db).Delete(&ConfigVarModel{}, "id = ?", id).Error
}

// AddonRepo 保存增强服务绑定、共享关系与服务发现配置。
type AddonRepo struct {
	db *gorm.DB
}

func NewAddonRepo(db *gorm.DB) *AddonRepo {
	return &AddonRepo{db: db}
}

func (r *AddonRepo) SaveBinding(ctx context.Context, b *domain.AddonBinding) error {
	creds, err := toJSON(b.Credentials)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&AddonBindingModel{
		AppCode:     b.AppCode,
		ModuleName:  b.ModuleName,
		Environment: string(b.Environment),
		Service:     b.Service,
		Credentials: creds,
	}).Error
}

func (r *AddonRepo) FindBindings(ctx context.Context, appCode, moduleName string, env domain.Environment) ([]*domain.AddonBinding, error) {
	var models []AddonBindingModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ? AND environment = ?", appCode, moduleName, string(env)).
		Order("service").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.AddonBinding, 0, len(models))
	for i := range models {
		b, err := modelToAddonBinding(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *AddonRepo) FindBinding(ctx context.Context, appCode, moduleName string, env domain.Environment, service string) (*domain.AddonBinding, error) {
	var m AddonBindingModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ? AND environment = ? AND service = ?", appCode, moduleName, string(env), service).
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}
	return modelToAddonBinding(&m)
}

func (r *AddonRepo) SaveShare(ctx context.Context, s *domain.SharedAddon) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&SharedAddonModel{
		AppCode:    s.AppCode,
		ModuleName: s.ModuleName,
		Service:    s.Service,
		RefModule:  s.RefModule,
	}).Error
}

func (r *AddonRepo) FindShares(ctx context.Context, appCode, moduleName string) ([]*domain.SharedAddon, error) {
	var models []SharedAddonModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ?", appCode, moduleName).
		Order("service").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.SharedAddon, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.SharedAddon{AppCode: m.AppCode, ModuleName: m.ModuleName, RefModule: m.RefModule, Service: m.Service})
	}
	return out, nil
}

func (r *AddonRepo) FindShare(ctx context.Context, appCode, moduleName, service string) (*domain.SharedAddon, error) {
	var m SharedAddonModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ? AND service = ?", appCode, moduleName, service).
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}
	return &domain.SharedAddon{AppCode: m.AppCode, ModuleName: m.ModuleName, RefModule: m.RefModule, Service: m.Service}, nil
}

func (r *AddonRepo) SaveServiceDiscovery(ctx context.Context, sd *domain.ServiceDiscovery) error {
	saas, err := toJSON(sd.BkSaaS)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&ServiceDiscoveryModel{
		AppCode:    sd.AppCode,
		ModuleName: sd.ModuleName,
		BkSaaS:     saas,
	}).Error
}

// FindServiceDiscovery 在未配置时返回 nil, nil。
func (r *AddonRepo) FindServiceDiscovery(ctx context.Context, appCode, moduleName string) (*domain.ServiceDiscovery, error) {
	var models []ServiceDiscoveryModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ?", appCode, moduleName).
		Limit(1).
		Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	sd := &domain.ServiceDiscovery{AppCode: models[0].AppCode, ModuleName: models[0].ModuleName}
	if err := fromJSON(models[0].BkSaaS, &sd.BkSaaS); err != nil {
		return nil, err
	}
	return sd, nil
}

func modelToAddonBinding(m *AddonBindingModel) (*domain.AddonBinding, error) {
	b := &domain.AddonBinding{
		AppCode:     m.AppCode,
		ModuleName:  m.ModuleName,
		Environment: domain.Environment(m.Environment),
		Service:     m.Service,
	}
	if err := fromJSON(m.Credentials, &b.Credentials); err != nil {
		return nil, err
	}
	return b, nil
}
