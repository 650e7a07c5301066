package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var (
	_ port.DomainRepository  = (*DomainRepo)(nil)
	_ port.AddressRepository = (*AddressRepo)(nil)
)

type DomainRepo struct {
	db *gorm.DB
}

func NewDomainRepo(db *gorm.DB) *DomainRepo {
	return &DomainRepo{db: db}
}

// Upsert 以 (name, path_prefix) 定位记录，已存在时覆盖归属与 TLS 配置并回填 ID。
func (r *DomainRepo) Upsert(ctx context.Context, d *domain.Domain) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var existing []DomainModel
		if err := tx.Clauses(forUpdate).
			Where("name = ? AND path_prefix = ?", d.Name, d.PathPrefix).
			Limit(1).
			Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) == 0 {
			return tx.Create(domainToModel(d)).Error
		}
		d.ID = existing[0].ID
		d.CreatedAt = existing[0].CreatedAt
		return tx.Save(domainToModel(d)).Error
	})
}

func (r *DomainRepo) FindByEnv(ctx context.Context, appCode, moduleName string, env domain.Environment) ([]*domain.Domain, error) {
	var models []DomainModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ? AND environment = ?", appCode, moduleName, string(env)).
		Order("name, path_prefix").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Domain, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.Domain{
			ID:            m.ID,
			AppCode:       m.AppCode,
			ModuleName:    m.ModuleName,
			Environment:   domain.Environment(m.Environment),
			Name:          m.Name,
			PathPrefix:    m.PathPrefix,
			HTTPSEnabled:  m.HTTPSEnabled,
			TLSSecretName: m.TLSSecretName,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
		})
	}
	return out, nil
}

func (r *DomainRepo) Delete(ctx context.Context, id string) error {
	result := conn(ctx, r.db).Delete(&DomainModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrDomainNotFound
	}
	return nil
}

func domainToModel(d *domain.Domain) *DomainModel {
	return &DomainModel{
		ID:            d.ID,
		AppCode:       d.AppCode,
		ModuleName:    d.ModuleName,
		Environment:   string(d.Environment),
		Name:          d.Name,
		PathPrefix:    d.PathPrefix,
		HTTPSEnabled:  d.HTTPSEnabled,
		TLSSecretName: d.TLSSecretName,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// AddressRepo 管理自动分配的独立域名与子路径。
type AddressRepo struct {
	db *gorm.DB
}

func NewAddressRepo(db *gorm.DB) *AddressRepo {
	return &AddressRepo{db: db}
}

func (r *AddressRepo) ReplaceDomains(ctx context.Context, appID string, source domain.AddressSource, domains []*domain.AppDomain) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&AppDomainModel{}, "app_id = ? AND source = ?", appID, string(source)).Error; err != nil {
			return err
		}
		if len(domains) == 0 {
			return nil
		}
		models := make([]AppDomainModel, 0, len(domains))
		for _, d := range domains {
			models = append(models, AppDomainModel{
				ID:           d.ID,
				AppID:        appID,
				Host:         d.Host,
				Source:       string(source),
				HTTPSEnabled: d.HTTPSEnabled,
				Reserved:     d.Reserved,
				CreatedAt:    d.CreatedAt,
			})
		}
		return tx.Create(&models).Error
	})
}

func (r *AddressRepo) ReplaceSubpaths(ctx context.Context, appID string, source domain.AddressSource, subpaths []*domain.AppSubpath) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&AppSubpathModel{}, "app_id = ? AND source = ?", appID, string(source)).Error; err != nil {
			return err
		}
		if len(subpaths) == 0 {
			return nil
		}
		models := make([]AppSubpathModel, 0, len(subpaths))
		for _, s := range subpaths {
			models = append(models, AppSubpathModel{
				ID:           s.ID,
				AppID:        appID,
				Host:         s.Host,
				Subpath:      s.Subpath,
				Source:       string(source),
				HTTPSEnabled: s.HTTPSEnabled,
				Reserved:     s.Reserved,
				CreatedAt:    s.CreatedAt,
			})
		}
		return tx.Create(&models).Error
	})
}

func (r *AddressRepo) FindDomains(ctx context.Context, appID string) ([]*domain.AppDomain, error) {
	var models []AppDomainModel
	if err := conn(ctx, r.db).Where("app_id = ?", appID).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.AppDomain, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.AppDomain{
			ID:           m.ID,
			AppID:        m.AppID,
			Host:         m.Host,
			Source:       domain.AddressSource(m.Source),
			HTTPSEnabled: m.HTTPSEnabled,
			Reserved:     m.Reserved,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

func (r *AddressRepo) FindSubpaths(ctx context.Context, appID string) ([]*domain.AppSubpath, error) {
	var models []AppSubpathModel
	if err := conn(ctx, r.db).Where("app_id = ?", appID).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.AppSubpath, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.AppSubpath{
			ID:           m.ID,
			AppID:        m.AppID,
			Host:         m.Host,
			Subpath:      m.Subpath,
			Source:       domain.AddressSource(m.Source),
			HTTPSEnabled: m.HTTPSEnabled,
			Reserved:     m.Reserved,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

func (r *AddressRepo) DeleteByApp(ctx context.Context, appID string) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&AppDomainModel{}, "app_id = ?", appID).Error; err != nil {
			return err
		}
		return tx.Delete(&AppSubpathModel{}, "app_id = ?", appID).Error
	})
}
