package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var (
	_ port.BuildRepository        = (*BuildRepo)(nil)
	_ port.BuildProcessRepository = (*BuildProcessRepo)(nil)
)

type BuildRepo struct {
	db *gorm.DB
}

func NewBuildRepo(db *gorm.DB) *BuildRepo {
	return &BuildRepo{db: db}
}

func (r *BuildRepo) Save(ctx context.Context, build *domain.Build) error {
	m, err := buildToModel(build)
	if err != nil {
		return err
	}
	result := conn(ctx, r.db).Create(m)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *BuildRepo) FindByID(ctx context.Context, id string) (*domain.Build, error) {
	var m BuildModel
	if err := conn(ctx, r.db).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrBuildNotFound)
	}
	return modelToBuild(&m)
}

func buildToModel(b *domain.Build) (*BuildModel, error) {
	procfile, err := toJSON(b.Procfile)
	if err != nil {
		return nil, err
	}
	metadata, err := toJSON(b.BuildpacksMetadata)
	if err != nil {
		return nil, err
	}
	return &BuildModel{
		UUID:               b.UUID,
		AppID:              b.AppID,
		Image:              b.Image,
		Procfile:           procfile,
		BuildpacksMetadata: metadata,
		ArtifactType:       string(b.ArtifactType),
		SlugPath:           b.SlugPath,
		SourceRevision:     b.SourceRevision,
		CreatedAt:          b.CreatedAt,
	}, nil
}

func modelToBuild(m *BuildModel) (*domain.Build, error) {
	b := &domain.Build{
		UUID:           m.UUID,
		AppID:          m.AppID,
		Image:          m.Image,
		ArtifactType:   domain.ArtifactType(m.ArtifactType),
		SlugPath:       m.SlugPath,
		SourceRevision: m.SourceRevision,
		CreatedAt:      m.CreatedAt,
	}
	if err := fromJSON(m.Procfile, &b.Procfile); err != nil {
		return nil, err
	}
	if err := fromJSON(m.BuildpacksMetadata, &b.BuildpacksMetadata); err != nil {
		return nil, err
	}
	return b, nil
}

type BuildProcessRepo struct {
	db *gorm.DB
}

func NewBuildProcessRepo(db *gorm.DB) *BuildProcessRepo {
	return &BuildProcessRepo{db: db}
}

func (r *BuildProcessRepo) Save(ctx context.Context, bp *domain.BuildProcess) error {
	m, err := buildProcessToModel(bp)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *BuildProcessRepo) Update(ctx context.Context, bp *domain.BuildProcess) error {
	m, err := buildProcessToModel(bp)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Save(m).Error
}

func (r *BuildProcessRepo) FindByID(ctx context.Context, id string) (*domain.BuildProcess, error) {
	var m BuildProcessModel
	if err := conn(ctx, r.db).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrBuildNotFound)
	}
	bp := &domain.BuildProcess{
		UUID:           m.UUID,
		AppID:          m.AppID,
		SourceTarPath:  m.SourceTarPath,
		Revision:       m.Revision,
		Status:         domain.BuildProcessStatus(m.Status),
		BuildID:        m.BuildID,
		InvokeMessage:  m.InvokeMessage,
		StreamID:       m.StreamID,
		IntRequestedAt: m.IntRequestedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if err := fromJSON(m.BuildpacksRequired, &bp.BuildpacksRequired); err != nil {
		return nil, err
	}
	return bp, nil
}

func buildProcessToModel(bp *domain.BuildProcess) (*BuildProcessModel, error) {
	buildpacks, err := toJSON(bp.BuildpacksRequired)
	if err != nil {
		return nil, err
	}
	return &BuildProcessModel{
		UUID:               bp.UUID,
		AppID:              bp.AppID,
		SourceTarPath:      bp.SourceTarPath,
		Revision:           bp.Revision,
		BuildpacksRequired: buildpacks,
		Status:             string(bp.Status),
		BuildID:            bp.BuildID,
		InvokeMessage:      bp.InvokeMessage,
		StreamID:           bp.StreamID,
		IntRequestedAt:     bp.IntRequestedAt,
		CreatedAt:          bp.CreatedAt,
		UpdatedAt:          bp.UpdatedAt,
	}, nil
}
