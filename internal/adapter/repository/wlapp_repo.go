package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	_ port.WlAppRepository     = (*WlAppRepo)(nil)
	_ port.AppSecretRepository = (*WlAppRepo)(nil)
)

type WlAppRepo struct {
	db *gorm.DB
}

func NewWlAppRepo(db *gorm.DB) *WlAppRepo {
	return &WlAppRepo{db: db}
}

func (r *WlAppRepo) Save(ctx context.Context, app *domain.WlApp) error {
	result := conn(ctx, r.db).Create(wlAppToModel(app))
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *WlAppRepo) Update(ctx context.Context, app *domain.WlApp) error {
	return conn(ctx, r.db).Save(wlAppToModel(app)).Error
}

func (r *WlAppRepo) FindByUUID(ctx context.Context, uuid string) (*domain.WlApp, error) {
	return r.findOne(ctx, "uuid = ?", uuid)
}

func (r *WlAppRepo) FindByName(ctx context.Context, name string) (*domain.WlApp, error) {
	return r.findOne(ctx, "name = ?", name)
}

func (r *WlAppRepo) FindByModuleEnv(ctx context.Context, appCode, moduleName string, env domain.Environment) (*domain.WlApp, error) {
	return r.findOne(ctx, "app_code = ? AND module_name = ? AND environment = ?", appCode, moduleName, string(env))
}

func (r *WlAppRepo) FindByModule(ctx context.Context, appCode, moduleName string) ([]*domain.WlApp, error) {
	return r.findMany(ctx, "app_code = ? AND module_name = ?", appCode, moduleName)
}

func (r *WlAppRepo) FindByCluster(ctx context.Context, clusterName string) ([]*domain.WlApp, error) {
	return r.findMany(ctx, "cluster_name = ?", clusterName)
}

func (r *WlAppRepo) findOne(ctx context.Context, query string, args ...any) (*domain.WlApp, error) {
	var m WlAppModel
	if err := conn(ctx, r.db).Where(query, args...).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrAppNotFound)
	}
	return modelToWlApp(&m), nil
}

func (r *WlAppRepo) findMany(ctx context.Context, query string, args ...any) ([]*domain.WlApp, error) {
	var models []WlAppModel
	if err := conn(ctx, r.db).Where(query, args...).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	apps := make([]*domain.WlApp, 0, len(models))
	for i := range models {
		apps = append(apps, modelToWlApp(&models[i]))
	}
	return apps, nil
}

func (r *WlAppRepo) FindSecret(ctx context.Context, appCode string) (string, error) {
	var m AppSecretModel
	if err := conn(ctx, r.db).First(&m, "app_code = ?", appCode).Error; err != nil {
		return "", notFound(err, domain.ErrNotFound)
	}
	return m.Secret, nil
}

func (r *WlAppRepo) SaveSecret(ctx context.Context, appCode, secret string) error {
	m := &AppSecretModel{AppCode: appCode, Secret: secret}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"secret", "updated_at"}),
	}).Create(m).Error
}

func wlAppToModel(a *domain.WlApp) *WlAppModel {
	return &WlAppModel{
		UUID:              a.UUID,
		Name:              a.Name,
		Region:            a.Region,
		TenantID:          a.TenantID,
		Type:              string(a.Type),
		AppCode:           a.AppCode,
		ModuleName:        a.ModuleName,
		Environment:       string(a.Environment),
		ClusterName:       a.ClusterName,
		IsDefaultModule:   a.IsDefaultModule,
		ExposedURLType:    string(a.ExposedURLType),
		MapperVersion:     string(a.MapperVersion),
		PrevMapperVersion: string(a.PrevMapperVersion),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func modelToWlApp(m *WlAppModel) *domain.WlApp {
	return &domain.WlApp{
		UUID:              m.UUID,
		Name:              m.Name,
		Region:            m.Region,
		TenantID:          m.TenantID,
		Type:              domain.WlAppType(m.Type),
		AppCode:           m.AppCode,
		ModuleName:        m.ModuleName,
		Environment:       domain.Environment(m.Environment),
		ClusterName:       m.ClusterName,
		IsDefaultModule:   m.IsDefaultModule,
		ExposedURLType:    domain.ExposedURLType(m.ExposedURLType),
		MapperVersion:     domain.MapperVersion(m.MapperVersion),
		PrevMapperVersion: domain.MapperVersion(m.PrevMapperVersion),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
