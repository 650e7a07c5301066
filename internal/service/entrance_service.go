package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const defaultServicePortName = "http"

// EntranceService 分配环境访问地址，并把地址渲染为 Ingress 或 DomainGroupMapping。
type EntranceService struct {
	clusterRepo port.ClusterRepository
	appRepo     port.WlAppRepository
	addressRepo port.AddressRepository
	domainRepo  port.DomainRepository
	specRepo    port.ProcessSpecRepository
	ingresses   port.IngressController
}

func NewEntranceService(
	clusterRepo port.ClusterRepository,
	appRepo port.WlAppRepository,
	addressRepo port.AddressRepository,
	domainRepo port.DomainRepository,
	specRepo port.ProcessSpecRepository,
	ingresses port.IngressController,
) *EntranceService {
	return &EntranceService{
		clusterRepo: clusterRepo,
		appRepo:     appRepo,
		addressRepo: addressRepo,
		domainRepo:  domainRepo,
		specRepo:    specRepo,
		ingresses:   ingresses,
	}
}

// Addresses 返回环境的全部访问地址：自动生成的地址在前，自定义域名在后。
func (s *EntranceService) Addresses(ctx context.Context, app *domain.WlApp) ([]domain.Address, error) {
	cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
	if err != nil {
		return nil, err
	}
	addrs := domain.GenerateAddresses(app, cluster.IngressConfig)
	customs, err := s.domainRepo.FindByEnv(ctx, app.AppCode, app.ModuleName, app.Environment)
	if err != nil {
		return nil, err
	}
	for _, d := range customs {
		addrs = append(addrs, domain.CustomDomainAddress(d, cluster.IngressConfig))
	}
	return addrs, nil
}

// Allocate 把自动生成的地址写入地址表，已有的同来源记录被整体替换。
func (s *EntranceService) Allocate(ctx context.Context, app *domain.WlApp) error {
	cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
	if err != nil {
		return err
	}
	now := time.Now()
	addrs := domain.GenerateAddresses(app, cluster.IngressConfig)

	if app.ExposedURLType == domain.ExposedSubpath {
		bySource := map[domain.AddressSource][]*domain.AppSubpath{domain.SourceAutoGen: nil, domain.SourceLegacy: nil}
		for _, a := range addrs {
			bySource[a.Source] = append(bySource[a.Source], &domain.AppSubpath{
				ID: uuid.New().String(), AppID: app.UUID, Host: a.Host, Subpath: a.Path,
				Source: a.Source, HTTPSEnabled: a.HTTPS, Reserved: a.Reserved, CreatedAt: now,
			})
		}
		for _, source := range []domain.AddressSource{domain.SourceAutoGen, domain.SourceLegacy} {
			if err := s.addressRepo.ReplaceSubpaths(ctx, app.UUID, source, bySource[source]); err != nil {
				return err
			}
		}
		return nil
	}

	seen := make(map[string]bool, len(addrs))
	var domains []*domain.AppDomain
	for _, a := range addrs {
		if seen[a.Host] {
			continue
		}
		seen[a.Host] = true
		domains = append(domains, &domain.AppDomain{
			ID: uuid.New().String(), AppID: app.UUID, Host: a.Host, Source: domain.SourceAutoGen,
			HTTPSEnabled: a.HTTPS, Reserved: a.Reserved, CreatedAt: now,
		})
	}
	return s.addressRepo.ReplaceDomains(ctx, app.UUID, domain.SourceAutoGen, domains)
}

// DefaultURLs 返回模块各环境的首选访问地址，尚未创建的环境不出现在结果中。
func (s *EntranceService) DefaultURLs(ctx context.Context, appCode, moduleName string) (map[domain.Environment]string, error) {
	urls := make(map[domain.Environment]string, len(domain.AllEnvironments))
	for _, env := range domain.AllEnvironments {
		app, err := s.appRepo.FindByModuleEnv(ctx, appCode, moduleName, env)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
		if err != nil {
			return nil, err
		}
		if addrs := domain.GenerateAddresses(app, cluster.IngressConfig); len(addrs) > 0 {
			urls[env] = addrs[0].URL()
		}
	}
	return urls, nil
}

// Sync 按当前地址重建环境的入口资源，defaultProcess 是承接流量的进程。
func (s *EntranceService) Sync(ctx context.Context, app *domain.WlApp, defaultProcess string) error {
	if app.IsCloudNative() {
		return s.syncDomainGroupMapping(ctx, app)
	}
	desired, err := s.desiredIngresses(ctx, app, defaultProcess)
	if err != nil {
		return err
	}
	current, err := s.ingresses.List(ctx, app)
	if err != nil {
		return err
	}
	owners, err := s.declaredServices(ctx, app)
	if err != nil {
		return err
	}

	existing := make(map[string]*domain.ProcessIngress, len(current))
	for _, ing := range current {
		existing[ing.Name] = ing
	}
	var errs []error
	for _, ing := range desired {
		// 运维把流量切到了其他已声明进程时保留其选择
		if cur, ok := existing[ing.Name]; ok && cur.ServiceName != ing.ServiceName && owners[cur.ServiceName] {
			ing.ServiceName = cur.ServiceName
			ing.ServicePortName = cur.ServicePortName
		}
		delete(existing, ing.Name)
		if err := s.ingresses.Upsert(ctx, ing); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range existing {
		slog.Info("deleting stale ingress", "app", app.Name, "ingress", name)
		if err := s.ingresses.Delete(ctx, app, name); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// SafeUpdateTarget 把环境全部入口指向另一个进程 Service。
func (s *EntranceService) SafeUpdateTarget(ctx context.Context, app *domain.WlApp, serviceName, servicePortName string) error {
	current, err := s.ingresses.List(ctx, app)
	if err != nil {
		return err
	}
	var errs []error
	for _, ing := range current {
		if ing.ServiceName == serviceName && ing.ServicePortName == servicePortName {
			continue
		}
		ing.ServiceName = serviceName
		ing.ServicePortName = servicePortName
		if err := s.ingresses.Upsert(ctx, ing); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// SwitchTarget 把入口切到已声明的进程，之后的 Sync 会保留这一选择。
func (s *EntranceService) SwitchTarget(ctx context.Context, app *domain.WlApp, procType string) error {
	types, err := s.declaredProcessTypes(ctx, app)
	if err != nil {
		return err
	}
	for _, t := range types {
		if t == procType {
			return s.SafeUpdateTarget(ctx, app, s.ingresses.ServiceName(app, procType), defaultServicePortName)
		}
	}
	return &domain.ValidationError{Field: "process_type", Message: fmt.Sprintf("process %q is not declared", procType)}
}

// DeleteIfServiceMatches 删除指向 serviceName 的入口，进程下线时调用。
func (s *EntranceService) DeleteIfServiceMatches(ctx context.Context, app *domain.WlApp, serviceName string) error {
	current, err := s.ingresses.List(ctx, app)
	if err != nil {
		return err
	}
	var errs []error
	for _, ing := range current {
		if ing.ServiceName != serviceName {
			continue
		}
		if err := s.ingresses.Delete(ctx, app, ing.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// DeleteForProcess 删除指向进程 Service 的入口。
func (s *EntranceService) DeleteForProcess(ctx context.Context, app *domain.WlApp, procType string) error {
	return s.DeleteIfServiceMatches(ctx, app, s.ingresses.ServiceName(app, procType))
}

// Delete 删除环境的全部入口资源。
func (s *EntranceService) Delete(ctx context.Context, app *domain.WlApp) error {
	if app.IsCloudNative() {
		return s.ingresses.DeleteDomainGroupMapping(ctx, app, app.SafeName())
	}
	current, err := s.ingresses.List(ctx, app)
	if err != nil {
		return err
	}
	var errs []error
	for _, ing := range current {
		if err := s.ingresses.Delete(ctx, app, ing.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// UpsertCustomDomainRequest 是创建或更新自定义域名的参数。
type UpsertCustomDomainRequest struct {
	AppCode      string
	ModuleName   string
	Environment  domain.Environment
	DomainName   string
	PathPrefix   string
	HTTPSEnabled bool
}

// UpsertCustomDomain 保存自定义域名并立即同步该环境的入口。
func (s *EntranceService) UpsertCustomDomain(ctx context.Context, req UpsertCustomDomainRequest) (*domain.Domain, error) {
	if req.PathPrefix == "" {
		req.PathPrefix = "/"
	}
	now := time.Now()
	d := &domain.Domain{
		ID:           uuid.New().String(),
		AppCode:      req.AppCode,
		ModuleName:   req.ModuleName,
		Environment:  req.Environment,
		Name:         req.DomainName,
		PathPrefix:   req.PathPrefix,
		HTTPSEnabled: req.HTTPSEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	app, err := s.appRepo.FindByModuleEnv(ctx, req.AppCode, req.ModuleName, req.Environment)
	if err != nil {
		return nil, err
	}
	if err := s.domainRepo.Upsert(ctx, d); err != nil {
		return nil, err
	}
	types, err := s.declaredProcessTypes(ctx, app)
	if err != nil {
		return d, err
	}
	defaultProcess := domain.DefaultProcessType(types)
	if defaultProcess == "" {
		// 尚未部署过进程，首次发布时再同步入口
		return d, nil
	}
	if err := s.Sync(ctx, app, defaultProcess); err != nil {
		return d, fmt.Errorf("sync ingresses after saving domain %s: %w", d.Name, err)
	}
	return d, nil
}

// desiredIngresses 计算环境应有的 Ingress：自动地址一个，每个自定义域名各一个。
func (s *EntranceService) desiredIngresses(ctx context.Context, app *domain.WlApp, defaultProcess string) ([]*domain.ProcessIngress, error) {
	cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
	if err != nil {
		return nil, err
	}
	cfg := cluster.IngressConfig
	serviceName := s.ingresses.ServiceName(app, defaultProcess)

	var out []*domain.ProcessIngress
	auto := domain.GenerateAddresses(app, cfg)
	if len(auto) > 0 {
		ing := &domain.ProcessIngress{
			App:             app,
			Name:            app.SafeName(),
			ServiceName:     serviceName,
			ServicePortName: defaultServicePortName,
			Domains:         groupDomains(auto, cfg),
		}
		if app.ExposedURLType == domain.ExposedSubpath {
			ing.Name = app.SafeName() + "-subpaths"
			ing.SetHeaderXScriptName = true
			ing.RewriteToRoot = true
		}
		out = append(out, ing)
	}

	customs, err := s.domainRepo.FindByEnv(ctx, app.AppCode, app.ModuleName, app.Environment)
	if err != nil {
		return nil, err
	}
	for _, d := range customs {
		id := domain.IngressDomain{Host: d.Name, PathPrefixList: []string{d.PathPrefix}}
		if d.HTTPSEnabled {
			id.TLSEnabled = true
			id.TLSSecretName = d.TLSSecretName
			if id.TLSSecretName == "" {
				id.TLSSecretName, _ = cfg.FindCertificate(d.Name)
			}
		}
		out = append(out, &domain.ProcessIngress{
			App:                  app,
			Name:                 customIngressName(app, d),
			ServiceName:          serviceName,
			ServicePortName:      defaultServicePortName,
			Domains:              []domain.IngressDomain{id},
			SetHeaderXScriptName: d.PathPrefix != "/",
			RewriteToRoot:        d.PathPrefix != "/",
		})
	}
	return out, nil
}

func customIngressName(app *domain.WlApp, d *domain.Domain) string {
	short := d.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("custom-%s-%s", app.SafeName(), short)
}

// groupDomains 把同一主机的地址合并为一条规则，证书可解析时启用 TLS。
func groupDomains(addrs []domain.Address, cfg domain.IngressConfig) []domain.IngressDomain {
	index := make(map[string]int)
	var out []domain.IngressDomain
	for _, a := range addrs {
		i, ok := index[a.Host]
		if !ok {
			d := domain.IngressDomain{Host: a.Host}
			if a.HTTPS {
				if secret, found := cfg.FindCertificate(a.Host); found {
					d.TLSEnabled = true
					d.TLSSecretName = secret
				}
			}
			out = append(out, d)
			i = len(out) - 1
			index[a.Host] = i
		}
		out[i].PathPrefixList = append(out[i].PathPrefixList, a.Path)
	}
	return out
}

// declaredServices 返回仍被进程声明引用的 Service 名称。
func (s *EntranceService) declaredServices(ctx context.Context, app *domain.WlApp) (map[string]bool, error) {
	types, err := s.declaredProcessTypes(ctx, app)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]bool, len(types))
	for _, t := range types {
		owners[s.ingresses.ServiceName(app, t)] = true
	}
	return owners, nil
}

func (s *EntranceService) declaredProcessTypes(ctx context.Context, app *domain.WlApp) ([]string, error) {
	specs, err := s.specRepo.FindByModule(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(specs))
	for _, spec := range specs {
		types = append(types, spec.Name)
	}
	return types, nil
}

// syncDomainGroupMapping 为云原生应用按来源分组写入域名映射。
func (s *EntranceService) syncDomainGroupMapping(ctx context.Context, app *domain.WlApp) error {
	cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
	if err != nil {
		return err
	}
	addrs, err := s.Addresses(ctx, app)
	if err != nil {
		return err
	}
	bySource := make(map[domain.AddressSource][]domain.Address)
	for _, a := range addrs {
		bySource[a.Source] = append(bySource[a.Source], a)
	}
	sources := make([]string, 0, len(bySource))
	for source := range bySource {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)

	dgm := &domain.DomainGroupMapping{App: app, Name: app.SafeName(), BkAppName: app.SafeName()}
	for _, source := range sources {
		src := domain.AddressSource(source)
		dgm.Groups = append(dgm.Groups, domain.DomainGroup{
			SourceType: src,
			Domains:    groupDomains(bySource[src], cluster.IngressConfig),
		})
	}
	return s.ingresses.UpsertDomainGroupMapping(ctx, dgm)
}
