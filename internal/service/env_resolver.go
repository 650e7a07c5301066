package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// urlProvider 返回模块各环境的默认访问地址。
type urlProvider interface {
	DefaultURLs(ctx context.Context, appCode, moduleName string) (map[domain.Environment]string, error)
}

// EnvResolver 计算注入到用户容器的环境变量。
// 合并顺序（后者覆盖前者）：内置变量、对象存储凭证、增强服务、服务发现、默认访问地址、
// 描述文件预设变量、用户变量（全局后环境）、发布时附加变量。
type EnvResolver struct {
	secrets    port.AppSecretRepository
	configVars port.ConfigVarRepository
	addons     port.AddonRepository
	urls       urlProvider
	blobEnvs   map[string]string
}

func NewEnvResolver(
	secrets port.AppSecretRepository,
	configVars port.ConfigVarRepository,
	addons port.AddonRepository,
	urls urlProvider,
	blobEnvs map[string]string,
) *EnvResolver {
	return &EnvResolver{
		secrets:    secrets,
		configVars: configVars,
		addons:     addons,
		urls:       urls,
		blobEnvs:   blobEnvs,
	}
}

func (r *EnvResolver) Resolve(ctx context.Context, app *domain.WlApp, extra map[string]string) (map[string]string, error) {
	builtins, err := r.builtins(ctx, app)
	if err != nil {
		return nil, err
	}
	addons, err := r.addonEnvs(ctx, app)
	if err != nil {
		return nil, err
	}
	discovery, err := r.discoveryEnvs(ctx, app)
	if err != nil {
		return nil, err
	}
	entrance, err := r.entranceEnvs(ctx, app)
	if err != nil {
		return nil, err
	}
	preset, user, err := r.configVarEnvs(ctx, app)
	if err != nil {
		return nil, err
	}
	return domain.MergeEnvs(builtins, r.blobEnvs, addons, discovery, entrance, preset, user, extra), nil
}

func (r *EnvResolver) builtins(ctx context.Context, app *domain.WlApp) (map[string]string, error) {
	envs := map[string]string{
		domain.EnvAppID:        app.AppCode,
		domain.EnvModuleName:   app.ModuleName,
		domain.EnvEnvironment:  string(app.Environment),
		domain.EnvEngineRegion: app.Region,
		domain.EnvPort:         strconv.Itoa(domain.DefaultTargetPort),
	}
	secret, err := r.secrets.FindSecret(ctx, app.AppCode)
	switch {
	case err == nil:
		envs[domain.EnvAppSecret] = secret
	case errors.Is(err, domain.ErrNotFound):
		slog.Warn("app secret not found", "app_code", app.AppCode)
	default:
		return nil, err
	}
	return envs, nil
}

// addonEnvs 合并共享服务与自有服务的凭证，同名服务以自有绑定为准。
func (r *EnvResolver) addonEnvs(ctx context.Context, app *domain.WlApp) (map[string]string, error) {
	shares, err := r.addons.FindShares(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, err
	}
	var layers []map[string]string
	for _, share := range shares {
		binding, err := r.addons.FindBinding(ctx, app.AppCode, share.RefModule, app.Environment, share.Service)
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("shared service has no binding in referenced module",
				"app_code", app.AppCode, "module", app.ModuleName, "ref_module", share.RefModule, "service", share.Service)
			continue
		}
		if err != nil {
			return nil, err
		}
		layers = append(layers, domain.FlattenCredentials(share.Service, binding.Credentials))
	}

	bindings, err := r.addons.FindBindings(ctx, app.AppCode, app.ModuleName, app.Environment)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		layers = append(layers, domain.FlattenCredentials(b.Service, b.Credentials))
	}
	return domain.MergeEnvs(layers...), nil
}

// ShareAddon 让模块共享另一个模块的增强服务，被共享的模块必须自己绑定了该服务。
func (r *EnvResolver) ShareAddon(ctx context.Context, share *domain.SharedAddon) error {
	if share.RefModule == share.ModuleName {
		return &domain.ValidationError{Field: "ref_module", Message: "a module can not share its own service"}
	}
	if _, err := r.addons.FindShare(ctx, share.AppCode, share.RefModule, share.Service); err == nil {
		return fmt.Errorf("module %s shares %s from another module: %w", share.RefModule, share.Service, domain.ErrAddonShareChain)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	owned := false
	for _, env := range domain.AllEnvironments {
		_, err := r.addons.FindBinding(ctx, share.AppCode, share.RefModule, env, share.Service)
		if err == nil {
			owned = true
			break
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	if !owned {
		return fmt.Errorf("module %s has no binding of %s: %w", share.RefModule, share.Service, domain.ErrAddonShareChain)
	}
	return r.addons.SaveShare(ctx, share)
}

type discoveryKey struct {
	BkAppCode  string `json:"bk_app_code"`
	ModuleName string `json:"module_name,omitempty"`
}

type discoveryEntry struct {
	Key   discoveryKey                  `json:"key"`
	Value map[domain.Environment]string `json:"value"`
}

// discoveryEnvs 把依赖的 SaaS 地址编码为 base64(JSON)。
func (r *EnvResolver) discoveryEnvs(ctx context.Context, app *domain.WlApp) (map[string]string, error) {
	sd, err := r.addons.FindServiceDiscovery(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, err
	}
	if sd == nil || len(sd.BkSaaS) == 0 {
		return nil, nil
	}
	entries := make([]discoveryEntry, 0, len(sd.BkSaaS))
	for _, ref := range sd.BkSaaS {
		module := ref.ModuleName
		if module == "" {
			module = domain.DefaultModuleName
		}
		urls, err := r.urls.DefaultURLs(ctx, ref.BkAppCode, module)
		if err != nil {
			return nil, err
		}
		entries = append(entries, discoveryEntry{
			Key:   discoveryKey{BkAppCode: ref.BkAppCode, ModuleName: ref.ModuleName},
			Value: urls,
		})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return map[string]string{domain.EnvServiceAddresses: base64.StdEncoding.EncodeToString(raw)}, nil
}

func (r *EnvResolver) entranceEnvs(ctx context.Context, app *domain.WlApp) (map[string]string, error) {
	urls, err := r.urls.DefaultURLs(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return nil, err
	}
	return map[string]string{domain.EnvDefaultPreallocatedURL: string(raw)}, nil
}

// configVarEnvs 返回预设变量与用户变量两层，每层内环境级变量覆盖全局变量。
func (r *EnvResolver) configVarEnvs(ctx context.Context, app *domain.WlApp) (preset, user map[string]string, err error) {
	vars, err := r.configVars.FindByModule(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, nil, err
	}
	layer := func(presetOnly bool, scope domain.ConfigVarScope) map[string]string {
		out := make(map[string]string)
		for _, v := range vars {
			if v.Preset == presetOnly && v.Scope == scope {
				out[v.Key] = v.Value
			}
		}
		return out
	}
	envScope := domain.ConfigVarScope(app.Environment)
	preset = domain.MergeEnvs(layer(true, domain.ScopeGlobal), layer(true, envScope))
	user = domain.MergeEnvs(layer(false, domain.ScopeGlobal), layer(false, envScope))
	return preset, user, nil
}
