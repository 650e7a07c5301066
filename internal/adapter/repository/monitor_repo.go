package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ port.MonitorRepository = (*MonitorRepo)(nil)

type MonitorRepo struct {
	db *gorm.DB
}

func NewMonitorRepo(db *gorm.DB) *MonitorRepo {
	return &MonitorRepo{db: db}
}

// Save 每个应用至多一条，重复保存覆盖原配置。
func (r *MonitorRepo) Save(ctx context.Context, m *domain.AppMetricsMonitor) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&MetricsMonitorModel{
		AppID:      m.AppID,
		Port:       m.Port,
		TargetPort: m.TargetPort,
		Path:       m.Path,
		Interval:   m.Interval,
		Enabled:    m.Enabled,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}).Error
}

func (r *MonitorRepo) FindByApp(ctx context.Context, appID string) (*domain.AppMetricsMonitor, error) {
	var m MetricsMonitorModel
	if err := conn(ctx, r.db).First(&m, "app_id = ?", appID).Error; err != nil {
		return nil, notFound(err, domain.ErrMonitorNotFound)
	}
	return &domain.AppMetricsMonitor{
		AppID:      m.AppID,
		Port:       m.Port,
		TargetPort: m.TargetPort,
		Path:       m.Path,
		Interval:   m.Interval,
		Enabled:    m.Enabled,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func (r *MonitorRepo) Delete(ctx context.Context, appID string) error {
	return conn(ctx, r.db).Delete(&MetricsMonitorModel{}, "app_id = ?", appID).Error
}
