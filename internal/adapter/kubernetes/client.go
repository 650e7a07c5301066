package kubernetes

import (
	"fmt"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientConfig 是构造集群客户端的公共参数。
type ClientConfig struct {
	Cooldown time.Duration
	QPS      float32
	Burst    int
	Timeout  time.Duration
	// Mapper 中与集群特性相关的字段会按集群 feature flag 覆盖
	Mapper mapper.Options
}

// Clients 是一个集群的客户端集合：typed clientset 用于日志与 informer，Gateway 用于资源读写。
type Clients struct {
	Cluster *domain.Cluster
	Kube    kubernetes.Interface
	Gateway *Gateway
	Pool    *EndpointPool

	mapperOpts mapper.Options
	mu         sync.Mutex
	mappers    map[domain.MapperVersion]*mapper.Registry
}

func NewClients(cluster *domain.Cluster, cfg ClientConfig) (*Clients, error) {
	pool, err := NewEndpointPool(cluster, cfg.Cooldown)
	if err != nil {
		return nil, err
	}
	restCfg := &rest.Config{
		Host:      pool.BaseURL(),
		Transport: pool,
		QPS:       cfg.QPS,
		Burst:     cfg.Burst,
		Timeout:   cfg.Timeout,
	}
	kube, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset for cluster %s: %w", cluster.Name, err)
	}
	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client for cluster %s: %w", cluster.Name, err)
	}
	c := NewClientsFromInterfaces(cluster, kube, dyn, cfg.Mapper)
	c.Pool = pool
	return c, nil
}

// NewClientsFromInterfaces 用现成的客户端组装 Clients，测试中传入 fake 实现。
func NewClientsFromInterfaces(cluster *domain.Cluster, kube kubernetes.Interface, dyn dynamic.Interface, opts mapper.Options) *Clients {
	opts.IngressUseRegex = opts.IngressUseRegex || cluster.HasFeature(domain.FeatureIngressUseRegex)
	opts.ServiceMonitorV1Beta1 = opts.ServiceMonitorV1Beta1 || cluster.HasFeature(domain.FeatureServiceMonitorBeta1)
	return &Clients{
		Cluster:    cluster,
		Kube:       kube,
		Gateway:    NewGateway(cluster.Name, dyn),
		mapperOpts: opts,
		mappers:    make(map[domain.MapperVersion]*mapper.Registry),
	}
}

// Mappers 返回命名方案对应的映射器集合。
func (c *Clients) Mappers(v domain.MapperVersion) *mapper.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.mappers[v]; ok {
		return r
	}
	r := mapper.NewRegistry(v, c.mapperOpts)
	c.mappers[v] = r
	return r
}

// ClusterFromKubeconfig 从 kubeconfig 的当前上下文生成集群注册信息。
func ClusterFromKubeconfig(name, region, kubeconfigPath string) (*domain.Cluster, error) {
	var cfg *rest.Config
	var err error

	if kubeconfigPath != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	if err := rest.LoadTLSFiles(cfg); err != nil {
		return nil, fmt.Errorf("load tls files: %w", err)
	}
	if cfg.BearerTokenFile != "" && cfg.BearerToken == "" {
		return nil, fmt.Errorf("%w: token file based credentials are not supported", domain.ErrInvalidInput)
	}

	auth := domain.ClusterAuth{
		Token:              cfg.BearerToken,
		CACert:             string(cfg.CAData),
		ClientCert:         string(cfg.CertData),
		ClientKey:          string(cfg.KeyData),
		InsecureSkipVerify: cfg.Insecure,
	}
	return &domain.Cluster{
		Name:       name,
		Region:     region,
		APIServers: []domain.APIServer{{URL: cfg.Host, OverriddenHostname: cfg.ServerName}},
		Auth:       auth,
	}, nil
}
