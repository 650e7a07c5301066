package repository

import (
	"context"
	"errors"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var _ port.ReleaseRepository = (*ReleaseRepo)(nil)

type ReleaseRepo struct {
	db *gorm.DB
}

func NewReleaseRepo(db *gorm.DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

// Create 在事务中校验版本连续性后写入，并发写入同一版本由唯一索引兜底。
func (r *ReleaseRepo) Create(ctx context.Context, release *domain.Release) error {
	m, err := releaseToModel(release)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&ReleaseModel{}).
			Where("app_id = ?", release.AppID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		if release.Version != maxVersion+1 {
			return domain.ErrReleaseVersionConflict
		}
		if err := tx.Create(m).Error; err != nil {
			if isUniqueConstraintError(err) {
				return domain.ErrReleaseVersionConflict
			}
			return err
		}
		return nil
	})
}

// Update 只允许更新状态与摘要，其余字段创建后不可变。
func (r *ReleaseRepo) Update(ctx context.Context, release *domain.Release) error {
	return conn(ctx, r.db).Model(&ReleaseModel{}).
		Where("uuid = ?", release.UUID).
		Updates(map[string]any{
			"status":     string(release.Status),
			"summary":    release.Summary,
			"updated_at": release.UpdatedAt,
		}).Error
}

func (r *ReleaseRepo) FindByID(ctx context.Context, id string) (*domain.Release, error) {
	return r.findOne(ctx, conn(ctx, r.db).Where("uuid = ?", id))
}

func (r *ReleaseRepo) FindByVersion(ctx context.Context, appID string, version int) (*domain.Release, error) {
	return r.findOne(ctx, conn(ctx, r.db).Where("app_id = ? AND version = ?", appID, version))
}

func (r *ReleaseRepo) FindLatest(ctx context.Context, appID string) (*domain.Release, error) {
	return r.findOne(ctx, conn(ctx, r.db).Where("app_id = ?", appID).Order("version DESC"))
}

func (r *ReleaseRepo) FindLatestSuccessful(ctx context.Context, appID string) (*domain.Release, error) {
	return r.findOne(ctx, conn(ctx, r.db).
		Where("app_id = ? AND status = ?", appID, string(domain.ReleaseStatusSuccessful)).
		Order("version DESC"))
}

func (r *ReleaseRepo) MaxVersion(ctx context.Context, appID string) (int, error) {
	var maxVersion int
	err := conn(ctx, r.db).Model(&ReleaseModel{}).
		Where("app_id = ?", appID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error
	return maxVersion, err
}

func (r *ReleaseRepo) findOne(_ context.Context, q *gorm.DB) (*domain.Release, error) {
	var m ReleaseModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReleaseNotFound
		}
		return nil, err
	}
	return modelToRelease(&m)
}

func releaseToModel(r *domain.Release) (*ReleaseModel, error) {
	snapshot, err := toJSON(r.ConfigSnapshot)
	if err != nil {
		return nil, err
	}
	procfile, err := toJSON(r.Procfile)
	if err != nil {
		return nil, err
	}
	return &ReleaseModel{
		UUID:           r.UUID,
		AppID:          r.AppID,
		Version:        r.Version,
		BuildID:        r.BuildID,
		Image:          r.Image,
		ArtifactType:   string(r.ArtifactType),
		SlugPath:       r.SlugPath,
		ConfigSnapshot: snapshot,
		Procfile:       procfile,
		Summary:        r.Summary,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func modelToRelease(m *ReleaseModel) (*domain.Release, error) {
	r := &domain.Release{
		UUID:         m.UUID,
		AppID:        m.AppID,
		Version:      m.Version,
		BuildID:      m.BuildID,
		Image:        m.Image,
		ArtifactType: domain.ArtifactType(m.ArtifactType),
		SlugPath:     m.SlugPath,
		Summary:      m.Summary,
		Status:       domain.ReleaseStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if err := fromJSON(m.ConfigSnapshot, &r.ConfigSnapshot); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Procfile, &r.Procfile); err != nil {
		return nil, err
	}
	return r, nil
}
