package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// WlAppService 负责模块环境的开通与资源命名方案迁移。
type WlAppService struct {
	appRepo  port.WlAppRepository
	secrets  port.AppSecretRepository
	clusters *ClusterService
}

func NewWlAppService(appRepo port.WlAppRepository, secrets port.AppSecretRepository, clusters *ClusterService) *WlAppService {
	return &WlAppService{appRepo: appRepo, secrets: secrets, clusters: clusters}
}

type ProvisionRequest struct {
	AppCode         string                `json:"app_code"`
	ModuleName      string                `json:"module_name"`
	Environment     domain.Environment    `json:"environment"`
	Region          string                `json:"region"`
	TenantID        string                `json:"tenant_id"`
	ClusterName     string                `json:"cluster_name"`
	Type            domain.WlAppType      `json:"type"`
	ExposedURLType  domain.ExposedURLType `json:"exposed_url_type"`
	IsDefaultModule bool                  `json:"is_default_module"`
}

// Provision 为模块环境创建 WlApp。未指定集群时选择租户在区域内的默认集群。
func (s *WlAppService) Provision(ctx context.Context, req ProvisionRequest) (*domain.WlApp, error) {
	if req.AppCode == "" {
		return nil, &domain.ValidationError{Field: "app_code", Message: "is required"}
	}
	if !req.Environment.Valid() {
		return nil, &domain.ValidationError{Field: "environment", Message: fmt.Sprintf("unknown environment %q", req.Environment)}
	}
	module := req.ModuleName
	if module == "" {
		module = domain.DefaultModuleName
	}
	name := domain.EngineAppName(req.AppCode, module, req.Environment)
	if _, err := s.appRepo.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("wl app %s: %w", name, domain.ErrAlreadyExists)
	} else if !isNotFound(err) {
		return nil, err
	}

	cluster, err := s.resolveCluster(ctx, req)
	if err != nil {
		return nil, err
	}

	appType := req.Type
	if appType == "" {
		appType = domain.WlAppTypeDefault
	}
	urlType := req.ExposedURLType
	if urlType == "" {
		urlType = domain.ExposedSubdomain
	}
	now := time.Now()
	app := &domain.WlApp{
		UUID:            uuid.New().String(),
		Name:            name,
		Region:          cluster.Region,
		TenantID:        req.TenantID,
		Type:            appType,
		AppCode:         req.AppCode,
		ModuleName:      module,
		Environment:     req.Environment,
		ClusterName:     cluster.Name,
		IsDefaultModule: req.IsDefaultModule || module == domain.DefaultModuleName,
		ExposedURLType:  urlType,
		MapperVersion:   domain.MapperV2,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.appRepo.Save(ctx, app); err != nil {
		return nil, err
	}
	if err := s.ensureSecret(ctx, req.AppCode); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *WlAppService) resolveCluster(ctx context.Context, req ProvisionRequest) (*domain.Cluster, error) {
	if req.ClusterName == "" {
		return s.clusters.Select(ctx, req.Region, req.TenantID)
	}
	cluster, err := s.clusters.Get(ctx, req.ClusterName)
	if err != nil {
		return nil, err
	}
	if !cluster.AvailableForTenant(req.TenantID) {
		return nil, &domain.ValidationError{Field: "cluster_name", Message: fmt.Sprintf("cluster %s is not available for tenant %q", cluster.Name, req.TenantID)}
	}
	return cluster, nil
}

// ensureSecret 为应用生成访问密钥，同一应用的各模块环境共用。
func (s *WlAppService) ensureSecret(ctx context.Context, appCode string) error {
	_, err := s.secrets.FindSecret(ctx, appCode)
	if err == nil || !isNotFound(err) {
		return err
	}
	return s.secrets.SaveSecret(ctx, appCode, strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func (s *WlAppService) Get(ctx context.Context, appID string) (*domain.WlApp, error) {
	return s.appRepo.FindByUUID(ctx, appID)
}

func (s *WlAppService) GetByModuleEnv(ctx context.Context, appCode, moduleName string, env domain.Environment) (*domain.WlApp, error) {
	return s.appRepo.FindByModuleEnv(ctx, appCode, moduleName, env)
}

// MigrateMapperVersion 切换资源命名方案并记录旧方案，下一次发布成功后回收旧资源。只允许 v1 → v2。
func (s *WlAppService) MigrateMapperVersion(ctx context.Context, appID string, target domain.MapperVersion) (*domain.WlApp, error) {
	if target != domain.MapperV1 && target != domain.MapperV2 {
		return nil, &domain.ValidationError{Field: "mapper_version", Message: fmt.Sprintf("unknown mapper version %q", target)}
	}
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.MapperVersion == target {
		return app, nil
	}
	if app.MapperVersion == domain.MapperV2 && target == domain.MapperV1 {
		return nil, domain.ErrMapperDowngrade
	}
	app.PrevMapperVersion = app.MapperVersion
	app.MapperVersion = target
	app.UpdatedAt = time.Now()
	if err := s.appRepo.Update(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}
