package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// --- 仓储 stubs ---

type stubTx struct{}

func (stubTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubAppRepo struct {
	mu      sync.Mutex
	apps    map[string]*domain.WlApp
	secrets map[string]string
}

func newStubAppRepo(apps ...*domain.WlApp) *stubAppRepo {
	r := &stubAppRepo{apps: make(map[string]*domain.WlApp), secrets: make(map[string]string)}
	for _, a := range apps {
		r.apps[a.UUID] = a
	}
	return r
}

func (r *stubAppRepo) Save(_ context.Context, app *domain.WlApp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.UUID] = app
	return nil
}

func (r *stubAppRepo) Update(ctx context.Context, app *domain.WlApp) error { return r.Save(ctx, app) }

func (r *stubAppRepo) FindByUUID(_ context.Context, uuid string) (*domain.WlApp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.apps[uuid]; ok {
		return a, nil
	}
	return nil, domain.ErrAppNotFound
}

func (r *stubAppRepo) find(match func(a *domain.WlApp) bool) []*domain.WlApp {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.WlApp
	for _, a := range r.apps {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *stubAppRepo) FindByName(_ context.Context, name string) (*domain.WlApp, error) {
	if apps := r.find(func(a *domain.WlApp) bool { return a.Name == name }); len(apps) > 0 {
		return apps[0], nil
	}
	return nil, domain.ErrAppNotFound
}

func (r *stubAppRepo) FindByModuleEnv(_ context.Context, appCode, moduleName string, env domain.Environment) (*domain.WlApp, error) {
	apps := r.find(func(a *domain.WlApp) bool {
		return a.AppCode == appCode && a.ModuleName == moduleName && a.Environment == env
	})
	if len(apps) > 0 {
		return apps[0], nil
	}
	return nil, domain.ErrAppNotFound
}

func (r *stubAppRepo) FindByModule(_ context.Context, appCode, moduleName string) ([]*domain.WlApp, error) {
	return r.find(func(a *domain.WlApp) bool { return a.AppCode == appCode && a.ModuleName == moduleName }), nil
}

func (r *stubAppRepo) FindByCluster(_ context.Context, clusterName string) ([]*domain.WlApp, error) {
	return r.find(func(a *domain.WlApp) bool { return a.ClusterName == clusterName }), nil
}

func (r *stubAppRepo) FindSecret(_ context.Context, appCode string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.secrets[appCode]; ok {
		return s, nil
	}
	return "", domain.ErrNotFound
}

func (r *stubAppRepo) SaveSecret(_ context.Context, appCode, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[appCode] = secret
	return nil
}

// stubDeployRepo 保存副本，避免流水线与测试共享同一个指针。
type stubDeployRepo struct {
	mu          sync.Mutex
	deployments map[string]*domain.Deployment
	updates     []domain.DeploymentStatus
	saveErr     error
}

func newStubDeployRepo(ds ...*domain.Deployment) *stubDeployRepo {
	r := &stubDeployRepo{deployments: make(map[string]*domain.Deployment)}
	for _, d := range ds {
		c := *d
		r.deployments[d.UUID] = &c
	}
	return r
}

func (r *stubDeployRepo) Save(_ context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	c := *d
	r.deployments[d.UUID] = &c
	return nil
}

func (r *stubDeployRepo) Update(_ context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	// 中断请求由其他调用方写入，更新时保留
	if old, ok := r.deployments[d.UUID]; ok && c.IntRequestedAt == nil {
		c.IntRequestedAt = old.IntRequestedAt
	}
	r.deployments[d.UUID] = &c
	r.updates = append(r.updates, d.Status)
	return nil
}

func (r *stubDeployRepo) FindByID(_ context.Context, id string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deployments[id]
	if !ok {
		return nil, domain.ErrDeploymentNotFound
	}
	c := *d
	return &c, nil
}

func (r *stubDeployRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Deployment, error) {
	return r.FindByID(ctx, id)
}

func (r *stubDeployRepo) FindActive(_ context.Context, appID string) ([]*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Deployment
	for _, d := range r.deployments {
		if d.AppID == appID && !d.Status.IsTerminal() {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *stubDeployRepo) FindLatestSuccessful(_ context.Context, appID string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Deployment
	for _, d := range r.deployments {
		if d.AppID == appID && d.Status == domain.DeploymentSuccessful && (latest == nil || d.CreatedAt.After(latest.CreatedAt)) {
			latest = d
		}
	}
	if latest == nil {
		return nil, domain.ErrDeploymentNotFound
	}
	c := *latest
	return &c, nil
}

func (r *stubDeployRepo) requestInterrupt(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.deployments[id].IntRequestedAt = &now
}

func (r *stubDeployRepo) get(id string) *domain.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.deployments[id]
	return &c
}

type stubOfflineRepo struct {
	mu  sync.Mutex
	ops map[string]*domain.OfflineOperation
}

func newStubOfflineRepo(ops ...*domain.OfflineOperation) *stubOfflineRepo {
	r := &stubOfflineRepo{ops: make(map[string]*domain.OfflineOperation)}
	for _, op := range ops {
		r.ops[op.UUID] = op
	}
	return r
}

func (r *stubOfflineRepo) Save(_ context.Context, op *domain.OfflineOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *op
	r.ops[op.UUID] = &c
	return nil
}

func (r *stubOfflineRepo) Update(ctx context.Context, op *domain.OfflineOperation) error {
	return r.Save(ctx, op)
}

func (r *stubOfflineRepo) FindByID(_ context.Context, id string) (*domain.OfflineOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, domain.ErrOfflineNotFound
	}
	c := *op
	return &c, nil
}

func (r *stubOfflineRepo) FindPending(_ context.Context, appID string) ([]*domain.OfflineOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.OfflineOperation
	for _, op := range r.ops {
		if op.AppID == appID && op.Status == domain.OfflinePending {
			out = append(out, op)
		}
	}
	return out, nil
}

type stubCommandRepo struct {
	mu   sync.Mutex
	cmds map[string]*domain.Command
}

func newStubCommandRepo() *stubCommandRepo {
	return &stubCommandRepo{cmds: make(map[string]*domain.Command)}
}

func (r *stubCommandRepo) Save(_ context.Context, cmd *domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *cmd
	r.cmds[cmd.UUID] = &c
	return nil
}

func (r *stubCommandRepo) Update(ctx context.Context, cmd *domain.Command) error { return r.Save(ctx, cmd) }

func (r *stubCommandRepo) FindByID(_ context.Context, id string) (*domain.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.cmds[id]
	if !ok {
		return nil, domain.ErrCommandNotFound
	}
	c := *cmd
	return &c, nil
}

type stubStreamRepo struct {
	mu      sync.Mutex
	streams map[string]*domain.OutputStream
	lines   []*domain.OutputStreamLine
	nextID  int64
}

func newStubStreamRepo() *stubStreamRepo {
	return &stubStreamRepo{streams: make(map[string]*domain.OutputStream)}
}

func (r *stubStreamRepo) CreateStream(_ context.Context, s *domain.OutputStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.UUID] = s
	return nil
}

func (r *stubStreamRepo) FindStream(_ context.Context, id string) (*domain.OutputStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	return s, nil
}

func (r *stubStreamRepo) AppendLine(_ context.Context, line *domain.OutputStreamLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	line.ID = r.nextID
	r.lines = append(r.lines, line)
	return nil
}

func (r *stubStreamRepo) ListLines(_ context.Context, streamID string, afterID int64, limit int) ([]*domain.OutputStreamLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.OutputStreamLine
	for _, l := range r.lines {
		if l.StreamID == streamID && l.ID > afterID {
			out = append(out, l)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *stubStreamRepo) StreamsWithLinesBefore(_ context.Context, before time.Time, afterStreamID string, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, l := range r.lines {
		if l.Stream != domain.StreamRetired && l.CreatedAt.Before(before) && l.StreamID > afterStreamID && !seen[l.StreamID] {
			seen[l.StreamID] = true
			ids = append(ids, l.StreamID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *stubStreamRepo) SummarizeLinesBefore(_ context.Context, streamID string, before time.Time) (port.StreamLineSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s port.StreamLineSummary
	for _, l := range r.lines {
		if l.StreamID != streamID || l.Stream == domain.StreamRetired || !l.CreatedAt.Before(before) {
			continue
		}
		if s.Count == 0 || l.CreatedAt.Before(s.First) {
			s.First = l.CreatedAt
		}
		if l.CreatedAt.After(s.Last) {
			s.Last = l.CreatedAt
		}
		s.Count++
	}
	return s, nil
}

func (r *stubStreamRepo) RetireLinesBefore(_ context.Context, streamID string, before time.Time, placeholder string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		kept    []*domain.OutputStreamLine
		retired int64
		first   time.Time
	)
	for _, l := range r.lines {
		if l.StreamID == streamID && l.Stream != domain.StreamRetired && l.CreatedAt.Before(before) {
			if retired == 0 {
				first = l.CreatedAt
			}
			retired++
			continue
		}
		kept = append(kept, l)
	}
	if retired > 0 {
		r.nextID++
		kept = append(kept, &domain.OutputStreamLine{ID: r.nextID, StreamID: streamID, Stream: domain.StreamRetired, Line: placeholder, CreatedAt: first})
	}
	r.lines = kept
	return retired, nil
}

// linesOf 返回日志流的全部行内容。
func (r *stubStreamRepo) linesOf(streamID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.StreamID == streamID {
			out = append(out, l.Line)
		}
	}
	return out
}

type stubLocker struct {
	mu      sync.Mutex
	holders map[string]string
}

func newStubLocker() *stubLocker { return &stubLocker{holders: make(map[string]string)} }

func (l *stubLocker) TryAcquire(_ context.Context, key, holder string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holders[key]; held {
		return false, nil
	}
	l.holders[key] = holder
	return true, nil
}

func (l *stubLocker) Heartbeat(_ context.Context, key, holder string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[key] == holder, nil
}

func (l *stubLocker) Release(_ context.Context, key, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[key] != holder {
		return false, nil
	}
	delete(l.holders, key)
	return true, nil
}

func (l *stubLocker) held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.holders[key]
	return ok
}

type stubClusterRepo struct {
	mu       sync.Mutex
	clusters map[string]*domain.Cluster
}

func newStubClusterRepo(clusters ...*domain.Cluster) *stubClusterRepo {
	r := &stubClusterRepo{clusters: make(map[string]*domain.Cluster)}
	for _, c := range clusters {
		r.clusters[c.Name] = c
	}
	return r
}

func (r *stubClusterRepo) Save(_ context.Context, c *domain.Cluster) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clusters[c.Name] = c
	return nil
}

func (r *stubClusterRepo) FindByName(_ context.Context, name string) (*domain.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clusters[name]; ok {
		return c, nil
	}
	return nil, domain.ErrClusterNotFound
}

func (r *stubClusterRepo) FindAll(_ context.Context) ([]*domain.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *stubClusterRepo) FindByRegion(ctx context.Context, region string) ([]*domain.Cluster, error) {
	all, _ := r.FindAll(ctx)
	var out []*domain.Cluster
	for _, c := range all {
		if c.Region == region {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *stubClusterRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clusters, name)
	return nil
}

type stubSpecRepo struct {
	mu       sync.Mutex
	specs    map[string]*domain.ProcessSpec
	overlays map[string]*domain.ProcessSpecEnvOverlay
}

func newStubSpecRepo(specs ...*domain.ProcessSpec) *stubSpecRepo {
	r := &stubSpecRepo{specs: make(map[string]*domain.ProcessSpec), overlays: make(map[string]*domain.ProcessSpecEnvOverlay)}
	for _, s := range specs {
		r.specs[s.ID] = s
	}
	return r
}

func (r *stubSpecRepo) Save(_ context.Context, spec *domain.ProcessSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ID] = spec
	return nil
}

func (r *stubSpecRepo) Update(ctx context.Context, spec *domain.ProcessSpec) error { return r.Save(ctx, spec) }

func (r *stubSpecRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.specs, id)
	return nil
}

func (r *stubSpecRepo) FindByModule(_ context.Context, appCode, moduleName string) ([]*domain.ProcessSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ProcessSpec
	for _, s := range r.specs {
		if s.AppCode == appCode && s.ModuleName == moduleName {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *stubSpecRepo) FindByName(ctx context.Context, appCode, moduleName, name string) (*domain.ProcessSpec, error) {
	specs, _ := r.FindByModule(ctx, appCode, moduleName)
	for _, s := range specs {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, domain.ErrProcessNotFound
}

func (r *stubSpecRepo) FindByNameForUpdate(ctx context.Context, appCode, moduleName, name string) (*domain.ProcessSpec, error) {
	return r.FindByName(ctx, appCode, moduleName, name)
}

func overlayKey(specID string, env domain.Environment) string { return specID + "/" + string(env) }

func (r *stubSpecRepo) FindOverlay(_ context.Context, specID string, env domain.Environment) (*domain.ProcessSpecEnvOverlay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlays[overlayKey(specID, env)], nil
}

func (r *stubSpecRepo) SaveOverlay(_ context.Context, o *domain.ProcessSpecEnvOverlay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlays[overlayKey(o.SpecID, o.Environment)] = o
	return nil
}

func (r *stubSpecRepo) byName(name string) *domain.ProcessSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.specs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

type stubReleaseRepo struct {
	mu       sync.Mutex
	releases []*domain.Release
}

func (r *stubReleaseRepo) Create(_ context.Context, rel *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, x := range r.releases {
		if x.AppID == rel.AppID && x.Version > max {
			max = x.Version
		}
	}
	if rel.Version != max+1 {
		return domain.ErrReleaseVersionConflict
	}
	c := *rel
	r.releases = append(r.releases, &c)
	return nil
}

func (r *stubReleaseRepo) Update(_ context.Context, rel *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.releases {
		if x.UUID == rel.UUID {
			c := *rel
			r.releases[i] = &c
			return nil
		}
	}
	return domain.ErrReleaseNotFound
}

func (r *stubReleaseRepo) FindByID(_ context.Context, id string) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.releases {
		if x.UUID == id {
			return x, nil
		}
	}
	return nil, domain.ErrReleaseNotFound
}

func (r *stubReleaseRepo) FindByVersion(_ context.Context, appID string, version int) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.releases {
		if x.AppID == appID && x.Version == version {
			return x, nil
		}
	}
	return nil, domain.ErrReleaseNotFound
}

func (r *stubReleaseRepo) FindLatest(ctx context.Context, appID string) (*domain.Release, error) {
	v, _ := r.MaxVersion(ctx, appID)
	return r.FindByVersion(ctx, appID, v)
}

func (r *stubReleaseRepo) FindLatestSuccessful(_ context.Context, appID string) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Release
	for _, x := range r.releases {
		if x.AppID == appID && x.Status == domain.ReleaseStatusSuccessful && (latest == nil || x.Version > latest.Version) {
			latest = x
		}
	}
	if latest == nil {
		return nil, domain.ErrReleaseNotFound
	}
	return latest, nil
}

func (r *stubReleaseRepo) MaxVersion(_ context.Context, appID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, x := range r.releases {
		if x.AppID == appID && x.Version > max {
			max = x.Version
		}
	}
	return max, nil
}

type stubBuildRepo struct {
	mu     sync.Mutex
	builds map[string]*domain.Build
}

func newStubBuildRepo(builds ...*domain.Build) *stubBuildRepo {
	r := &stubBuildRepo{builds: make(map[string]*domain.Build)}
	for _, b := range builds {
		r.builds[b.UUID] = b
	}
	return r
}

func (r *stubBuildRepo) Save(_ context.Context, b *domain.Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds[b.UUID] = b
	return nil
}

func (r *stubBuildRepo) FindByID(_ context.Context, id string) (*domain.Build, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.builds[id]; ok {
		return b, nil
	}
	return nil, domain.ErrBuildNotFound
}

type stubBuildProcessRepo struct {
	mu  sync.Mutex
	bps map[string]domain.BuildProcess
}

func newStubBuildProcessRepo() *stubBuildProcessRepo {
	return &stubBuildProcessRepo{bps: make(map[string]domain.BuildProcess)}
}

func (r *stubBuildProcessRepo) Save(_ context.Context, bp *domain.BuildProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bps[bp.UUID] = *bp
	return nil
}

func (r *stubBuildProcessRepo) Update(ctx context.Context, bp *domain.BuildProcess) error {
	return r.Save(ctx, bp)
}

func (r *stubBuildProcessRepo) FindByID(_ context.Context, id string) (*domain.BuildProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.bps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &bp, nil
}

type stubAddressRepo struct {
	mu       sync.Mutex
	domains  map[string][]*domain.AppDomain
	subpaths map[string][]*domain.AppSubpath
}

func newStubAddressRepo() *stubAddressRepo {
	return &stubAddressRepo{domains: make(map[string][]*domain.AppDomain), subpaths: make(map[string][]*domain.AppSubpath)}
}

func (r *stubAddressRepo) ReplaceDomains(_ context.Context, appID string, source domain.AddressSource, ds []*domain.AppDomain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*domain.AppDomain
	for _, d := range r.domains[appID] {
		if d.Source != source {
			kept = append(kept, d)
		}
	}
	r.domains[appID] = append(kept, ds...)
	return nil
}

func (r *stubAddressRepo) ReplaceSubpaths(_ context.Context, appID string, source domain.AddressSource, ss []*domain.AppSubpath) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*domain.AppSubpath
	for _, s := range r.subpaths[appID] {
		if s.Source != source {
			kept = append(kept, s)
		}
	}
	r.subpaths[appID] = append(kept, ss...)
	return nil
}

func (r *stubAddressRepo) FindDomains(_ context.Context, appID string) ([]*domain.AppDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.domains[appID], nil
}

func (r *stubAddressRepo) FindSubpaths(_ context.Context, appID string) ([]*domain.AppSubpath, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subpaths[appID], nil
}

func (r *stubAddressRepo) DeleteByApp(_ context.Context, appID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.domains, appID)
	delete(r.subpaths, appID)
	return nil
}

type stubDomainRepo struct {
	mu      sync.Mutex
	domains []*domain.Domain
}

func (r *stubDomainRepo) Upsert(_ context.Context, d *domain.Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.domains {
		if x.Name == d.Name && x.PathPrefix == d.PathPrefix {
			d.ID = x.ID
			r.domains[i] = d
			return nil
		}
	}
	r.domains = append(r.domains, d)
	return nil
}

func (r *stubDomainRepo) FindByEnv(_ context.Context, appCode, moduleName string, env domain.Environment) ([]*domain.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Domain
	for _, d := range r.domains {
		if d.AppCode == appCode && d.ModuleName == moduleName && d.Environment == env {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *stubDomainRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.domains {
		if d.ID == id {
			r.domains = append(r.domains[:i], r.domains[i+1:]...)
			return nil
		}
	}
	return domain.ErrDomainNotFound
}

type stubConfigVarRepo struct {
	vars []*domain.ConfigVar
}

func (r *stubConfigVarRepo) Save(_ context.Context, v *domain.ConfigVar) error {
	r.vars = append(r.vars, v)
	return nil
}

func (r *stubConfigVarRepo) FindByModule(_ context.Context, appCode, moduleName string) ([]*domain.ConfigVar, error) {
	var out []*domain.ConfigVar
	for _, v := range r.vars {
		if v.AppCode == appCode && v.ModuleName == moduleName {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *stubConfigVarRepo) Delete(_ context.Context, id string) error { return nil }

type stubAddonRepo struct {
	bindings  []*domain.AddonBinding
	shares    []*domain.SharedAddon
	discovery map[string]*domain.ServiceDiscovery
}

func (r *stubAddonRepo) SaveBinding(_ context.Context, b *domain.AddonBinding) error {
	r.bindings = append(r.bindings, b)
	return nil
}

func (r *stubAddonRepo) FindBindings(_ context.Context, appCode, moduleName string, env domain.Environment) ([]*domain.AddonBinding, error) {
	var out []*domain.AddonBinding
	for _, b := range r.bindings {
		if b.AppCode == appCode && b.ModuleName == moduleName && b.Environment == env {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *stubAddonRepo) FindBinding(_ context.Context, appCode, moduleName string, env domain.Environment, service string) (*domain.AddonBinding, error) {
	for _, b := range r.bindings {
		if b.AppCode == appCode && b.ModuleName == moduleName && b.Environment == env && b.Service == service {
			return b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubAddonRepo) SaveShare(_ context.Context, s *domain.SharedAddon) error {
	r.shares = append(r.shares, s)
	return nil
}

func (r *stubAddonRepo) FindShares(_ context.Context, appCode, moduleName string) ([]*domain.SharedAddon, error) {
	var out []*domain.SharedAddon
	for _, s := range r.shares {
		if s.AppCode == appCode && s.ModuleName == moduleName {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubAddonRepo) FindShare(_ context.Context, appCode, moduleName, service string) (*domain.SharedAddon, error) {
	for _, s := range r.shares {
		if s.AppCode == appCode && s.ModuleName == moduleName && s.Service == service {
			return s, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubAddonRepo) SaveServiceDiscovery(_ context.Context, sd *domain.ServiceDiscovery) error {
	if r.discovery == nil {
		r.discovery = make(map[string]*domain.ServiceDiscovery)
	}
	r.discovery[sd.AppCode+"/"+sd.ModuleName] = sd
	return nil
}

func (r *stubAddonRepo) FindServiceDiscovery(_ context.Context, appCode, moduleName string) (*domain.ServiceDiscovery, error) {
	return r.discovery[appCode+"/"+moduleName], nil
}

type stubStateRepo struct {
	mu       sync.Mutex
	states   []*domain.RegionClusterState
	bindings map[string]*domain.RCStateAppBinding
}

func newStubStateRepo() *stubStateRepo {
	return &stubStateRepo{bindings: make(map[string]*domain.RCStateAppBinding)}
}

func (r *stubStateRepo) Save(_ context.Context, s *domain.RegionClusterState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	return nil
}

func (r *stubStateRepo) FindLatest(_ context.Context, region, clusterName string) (*domain.RegionClusterState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.states) - 1; i >= 0; i-- {
		if s := r.states[i]; s.Region == region && s.ClusterName == clusterName {
			return s, nil
		}
	}
	return nil, domain.ErrStateNotFound
}

func (r *stubStateRepo) Count(_ context.Context, region, clusterName string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s.Region == region && s.ClusterName == clusterName {
			n++
		}
	}
	return n, nil
}

func (r *stubStateRepo) FindByName(_ context.Context, name string) (*domain.RegionClusterState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, domain.ErrStateNotFound
}

func (r *stubStateRepo) SaveBinding(_ context.Context, b *domain.RCStateAppBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[b.AppID] = b
	return nil
}

func (r *stubStateRepo) FindBinding(_ context.Context, appID string) (*domain.RCStateAppBinding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings[appID], nil
}

func (r *stubStateRepo) DeleteBinding(_ context.Context, appID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, appID)
	return nil
}

type stubMonitorRepo struct {
	monitors map[string]*domain.AppMetricsMonitor
}

func newStubMonitorRepo() *stubMonitorRepo {
	return &stubMonitorRepo{monitors: make(map[string]*domain.AppMetricsMonitor)}
}

func (r *stubMonitorRepo) Save(_ context.Context, m *domain.AppMetricsMonitor) error {
	r.monitors[m.AppID] = m
	return nil
}

func (r *stubMonitorRepo) FindByApp(_ context.Context, appID string) (*domain.AppMetricsMonitor, error) {
	if m, ok := r.monitors[appID]; ok {
		return m, nil
	}
	return nil, domain.ErrMonitorNotFound
}

func (r *stubMonitorRepo) Delete(_ context.Context, appID string) error {
	delete(r.monitors, appID)
	return nil
}

type stubSandboxRepo struct {
	sandboxes map[string]*domain.Sandbox
}

func newStubSandboxRepo() *stubSandboxRepo {
	return &stubSandboxRepo{sandboxes: make(map[string]*domain.Sandbox)}
}

func (r *stubSandboxRepo) Save(_ context.Context, s *domain.Sandbox) error {
	r.sandboxes[s.UUID] = s
	return nil
}

func (r *stubSandboxRepo) Update(ctx context.Context, s *domain.Sandbox) error { return r.Save(ctx, s) }

func (r *stubSandboxRepo) FindByID(_ context.Context, id string) (*domain.Sandbox, error) {
	if s, ok := r.sandboxes[id]; ok {
		return s, nil
	}
	return nil, domain.ErrSandboxNotFound
}

func (r *stubSandboxRepo) Delete(_ context.Context, id string) error {
	delete(r.sandboxes, id)
	return nil
}

// --- 集群与外部依赖 stubs ---

type stubNamespaces struct {
	mu         sync.Mutex
	ensureErr  error
	ensured    int
	secrets    int
	configMaps []map[string]string
	deleted    int
	onDelete   func()
}

func (n *stubNamespaces) EnsureNamespace(_ context.Context, _ *domain.WlApp) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ensured++
	return n.ensureErr
}

func (n *stubNamespaces) UpsertImagePullSecret(_ context.Context, _ *domain.WlApp, _ port.RegistryCredential) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.secrets++
	return nil
}

func (n *stubNamespaces) UpsertEnvConfigMap(_ context.Context, _ *domain.WlApp, envs map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.configMaps = append(n.configMaps, envs)
	return nil
}

func (n *stubNamespaces) DeleteAllUnderNamespace(_ context.Context, _ *domain.WlApp) error {
	n.mu.Lock()
	n.deleted++
	onDelete := n.onDelete
	n.mu.Unlock()
	if onDelete != nil {
		onDelete()
	}
	return nil
}

type stubProcessController struct {
	mu          sync.Mutex
	deployed    map[string]*domain.Process
	scaled      map[string]int
	deleted     []string
	hpas        map[string]domain.AutoscalingConfig
	hpaDeleted  []string
	statuses    []*domain.ProcessStatus
	rolloutErr  error
	rolloutWait bool
	collected   []domain.MapperVersion
}

func newStubProcessController() *stubProcessController {
	return &stubProcessController{
		deployed: make(map[string]*domain.Process),
		scaled:   make(map[string]int),
		hpas:     make(map[string]domain.AutoscalingConfig),
	}
}

func (c *stubProcessController) Deploy(_ context.Context, proc *domain.Process) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployed[proc.Type] = proc
	return nil
}

func (c *stubProcessController) Scale(_ context.Context, _ *domain.WlApp, procType string, replicas int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scaled[procType] = replicas
	return nil
}

func (c *stubProcessController) Delete(_ context.Context, _ *domain.WlApp, procType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, procType)
	return nil
}

func (c *stubProcessController) GetStatus(_ context.Context, _ *domain.WlApp, procType string) (*domain.ProcessStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.statuses {
		if st.Type == procType {
			return st, nil
		}
	}
	return nil, domain.ErrResourceMissing
}

func (c *stubProcessController) ListStatuses(_ context.Context, _ *domain.WlApp) ([]*domain.ProcessStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses, nil
}

func (c *stubProcessController) UpsertAutoscaling(_ context.Context, s *domain.ProcAutoscaling) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hpas[s.ProcType] = s.Config
	return nil
}

func (c *stubProcessController) DeleteAutoscaling(_ context.Context, _ *domain.WlApp, procType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hpas, procType)
	c.hpaDeleted = append(c.hpaDeleted, procType)
	return nil
}

func (c *stubProcessController) WaitForRollout(ctx context.Context, _ *domain.WlApp, _ []string, _ time.Duration) error {
	if c.rolloutWait {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.rolloutErr
}

func (c *stubProcessController) CollectLegacy(_ context.Context, _ *domain.WlApp, version domain.MapperVersion, _ []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collected = append(c.collected, version)
	return nil
}

// stubPods 模拟一次性 Pod。block 为 true 时 WaitForSucceeded 阻塞到 ctx 取消。
type stubPods struct {
	mu        sync.Mutex
	builders  []*domain.SlugBuilderPod
	commands  []*domain.RuntimeCommand
	logs      []string
	startErr  error
	waitErr   error
	block     bool
	onStart   func()
	deleted   []string
	health    domain.PodHealth
	healthErr error
}

func (p *stubPods) started() {
	if p.onStart != nil {
		p.onStart()
	}
}

func (p *stubPods) RunSlugBuilder(_ context.Context, pod *domain.SlugBuilderPod) error {
	p.mu.Lock()
	pod.Name = "slug-builder-" + pod.App.SafeName()
	p.builders = append(p.builders, pod)
	p.mu.Unlock()
	p.started()
	return nil
}

func (p *stubPods) RunCommand(_ context.Context, cmd *domain.RuntimeCommand) error {
	p.mu.Lock()
	if cmd.Name == "" {
		cmd.Name = "pre-release-hook-" + cmd.App.SafeName()
	}
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started()
	return nil
}

func (p *stubPods) WaitForLogsReady(context.Context, *domain.WlApp, string, time.Duration) error {
	return nil
}

func (p *stubPods) StreamLogs(_ context.Context, _ *domain.WlApp, _ string, fn func(line string) error) error {
	for _, l := range p.logs {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (p *stubPods) WaitForSucceeded(ctx context.Context, _ *domain.WlApp, _ string, _ time.Duration) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.waitErr
}

func (p *stubPods) PodHealth(context.Context, *domain.WlApp, string) (domain.PodHealth, error) {
	return p.health, p.healthErr
}

func (p *stubPods) DeletePod(_ context.Context, _ *domain.WlApp, podName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, podName)
	return nil
}

type stubIngresses struct {
	mu       sync.Mutex
	current  map[string]*domain.ProcessIngress
	dgms     []*domain.DomainGroupMapping
	deleted  []string
	dgmDrops []string
}

func newStubIngresses(ings ...*domain.ProcessIngress) *stubIngresses {
	s := &stubIngresses{current: make(map[string]*domain.ProcessIngress)}
	for _, ing := range ings {
		s.current[ing.Name] = ing
	}
	return s
}

func (s *stubIngresses) List(_ context.Context, _ *domain.WlApp) ([]*domain.ProcessIngress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ProcessIngress, 0, len(s.current))
	for _, ing := range s.current {
		c := *ing
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *stubIngresses) Upsert(_ context.Context, ing *domain.ProcessIngress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[ing.Name] = ing
	return nil
}

func (s *stubIngresses) Delete(_ context.Context, _ *domain.WlApp, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, name)
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *stubIngresses) UpsertDomainGroupMapping(_ context.Context, dgm *domain.DomainGroupMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dgms = append(s.dgms, dgm)
	return nil
}

func (s *stubIngresses) DeleteDomainGroupMapping(_ context.Context, _ *domain.WlApp, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dgmDrops = append(s.dgmDrops, name)
	return nil
}

func (s *stubIngresses) ServiceName(app *domain.WlApp, procType string) string {
	return app.SafeName() + "-" + procType
}

type stubBkApps struct {
	applied []*domain.BkApp
}

func (s *stubBkApps) Upsert(_ context.Context, b *domain.BkApp) error {
	s.applied = append(s.applied, b)
	return nil
}

func (s *stubBkApps) Delete(context.Context, *domain.WlApp, string) error { return nil }

type stubBlob struct {
	missing bool
}

func (b *stubBlob) SignedURL(_ context.Context, key string, sig port.SignatureType, _ time.Duration) (string, error) {
	return "https://blob.example.com/" + key + "?sig=" + string(sig), nil
}

func (b *stubBlob) Exists(context.Context, string) (bool, error) { return !b.missing, nil }

type stubNodes struct {
	nodes   []domain.Node
	labeled map[string][]string
}

func (n *stubNodes) ListNodes(context.Context, string) ([]domain.Node, error) { return n.nodes, nil }

func (n *stubNodes) LabelNodes(_ context.Context, _ string, nodeNames []string, labels map[string]string) error {
	if n.labeled == nil {
		n.labeled = make(map[string][]string)
	}
	for k := range labels {
		n.labeled[k] = append(n.labeled[k], nodeNames...)
	}
	return nil
}

type stubMonitorController struct {
	upserted  []*domain.ServiceMonitor
	deleted   int
	deleteErr error
}

func (c *stubMonitorController) UpsertServiceMonitor(_ context.Context, sm *domain.ServiceMonitor) error {
	c.upserted = append(c.upserted, sm)
	return nil
}

func (c *stubMonitorController) DeleteServiceMonitor(context.Context, *domain.WlApp, string) error {
	c.deleted++
	return c.deleteErr
}

type stubInstances struct {
	mu        sync.Mutex
	instances []domain.Instance
	err       error
}

func (s *stubInstances) ListInstances(context.Context, *domain.WlApp) ([]domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances, s.err
}

func (s *stubInstances) set(instances []domain.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = instances
}

type stubPool struct {
	invalidated int
}

func (p *stubPool) ListClusterNames(context.Context) ([]string, error) { return nil, nil }

func (p *stubPool) Invalidate(context.Context) error {
	p.invalidated++
	return nil
}

type stubSandboxController struct {
	createErr error
	runtime   *domain.SandboxRuntime
	deleteErr error
	created   []*domain.Sandbox
}

func (c *stubSandboxController) Create(_ context.Context, s *domain.Sandbox) error {
	c.created = append(c.created, s)
	return c.createErr
}

func (c *stubSandboxController) Get(context.Context, *domain.Sandbox) (*domain.SandboxRuntime, error) {
	return c.runtime, nil
}

func (c *stubSandboxController) Delete(context.Context, *domain.Sandbox) error { return c.deleteErr }

type stubQuerier struct {
	queries []string
	series  []domain.MetricSeries
	err     error
}

func (q *stubQuerier) QueryRange(_ context.Context, promql string, _, _ time.Time, _ time.Duration) ([]domain.MetricSeries, error) {
	q.queries = append(q.queries, promql)
	return q.series, q.err
}

type stubRunner struct {
	started []string
}

func (r *stubRunner) Start(id string) { r.started = append(r.started, id) }

// --- 测试数据 ---

func testCluster() *domain.Cluster {
	return &domain.Cluster{
		Name:      "c1",
		Region:    "default",
		IsDefault: true,
		APIServers: []domain.APIServer{{URL: "https://10.0.0.1:6443"}},
		Auth:       domain.ClusterAuth{Token: "t"},
		IngressConfig: domain.IngressConfig{
			AppRootDomains: []domain.DomainConfig{{Name: "bkapps.example.com"}},
			PortMap:        domain.PortMap{HTTP: 80, HTTPS: 443},
		},
		FeatureFlags: map[domain.ClusterFeatureFlag]bool{domain.FeatureAutoscaling: true},
	}
}

func testApp() *domain.WlApp {
	return &domain.WlApp{
		UUID:            "app-1",
		Name:            "bkapp-demo-stag",
		Region:          "default",
		Type:            domain.WlAppTypeDefault,
		AppCode:         "demo",
		ModuleName:      "default",
		Environment:     domain.EnvStag,
		ClusterName:     "c1",
		IsDefaultModule: true,
		ExposedURLType:  domain.ExposedSubdomain,
		MapperVersion:   domain.MapperV2,
	}
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

// stubKV 是进程内的 k/v 与发布订阅。
type stubKV struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[string][]chan string
}

func newStubKV() *stubKV {
	return &stubKV{values: make(map[string]string), subs: make(map[string][]chan string)}
}

func (k *stubKV) Get(_ context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (k *stubKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.values[key] = value
	return nil
}

func (k *stubKV) Publish(_ context.Context, channel, message string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, ch := range k.subs[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (k *stubKV) Subscribe(_ context.Context, channel string) (port.Subscription, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch := make(chan string, 100)
	k.subs[channel] = append(k.subs[channel], ch)
	return &stubSubscription{kv: k, channel: channel, ch: ch}, nil
}

type stubSubscription struct {
	kv      *stubKV
	channel string
	ch      chan string
}

func (s *stubSubscription) Receive(timeout time.Duration) (string, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-time.After(timeout):
		return "", port.ErrReceiveTimeout
	}
}

func (s *stubSubscription) Close() error {
	s.kv.mu.Lock()
	defer s.kv.mu.Unlock()
	subs := s.kv.subs[s.channel]
	for i, ch := range subs {
		if ch == s.ch {
			s.kv.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
