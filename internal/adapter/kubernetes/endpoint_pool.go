package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"k8s.io/client-go/rest"
)

// DefaultEndpointCooldown 是失败端点重新参与轮转前的冷却时间。
const DefaultEndpointCooldown = 30 * time.Second

type endpoint struct {
	// target 是真实连接的地址，forceHost 非空时请求 URL 使用 forceHost，拨号时解析到 target。
	target    *url.URL
	forceHost string
	transport http.RoundTripper

	healthy       bool
	lastFailureAt time.Time
}

func (e *endpoint) requestHost() string {
	if e.forceHost == "" {
		return e.target.Host
	}
	if port := e.target.Port(); port != "" {
		return net.JoinHostPort(e.forceHost, port)
	}
	return e.forceHost
}

func (e *endpoint) String() string { return e.target.String() }

// EndpointPool 是按集群 API Server 端点轮转的 http.RoundTripper。
// 端点按注册顺序优先，传输错误时标记为不健康并尝试下一个，冷却期过后重新参与。
type EndpointPool struct {
	cluster   string
	cooldown  time.Duration
	now       func() time.Time
	mu        sync.Mutex
	endpoints []*endpoint
}

var _ http.RoundTripper = (*EndpointPool)(nil)

func NewEndpointPool(cluster *domain.Cluster, cooldown time.Duration) (*EndpointPool, error) {
	if len(cluster.APIServers) == 0 {
		return nil, fmt.Errorf("%w: cluster %s has no api server", domain.ErrInvalidInput, cluster.Name)
	}
	if cooldown <= 0 {
		cooldown = DefaultEndpointCooldown
	}
	p := &EndpointPool{cluster: cluster.Name, cooldown: cooldown, now: time.Now}
	for _, s := range cluster.APIServers {
		ep, err := newEndpoint(s, cluster.Auth)
		if err != nil {
			return nil, fmt.Errorf("cluster %s endpoint %s: %w", cluster.Name, s.URL, err)
		}
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

func newEndpoint(s domain.APIServer, clusterAuth domain.ClusterAuth) (*endpoint, error) {
	target, err := url.Parse(s.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("%w: invalid api server url %q", domain.ErrInvalidInput, s.URL)
	}
	auth := clusterAuth
	if s.Auth != nil {
		auth = *s.Auth
	}
	ep := &endpoint{target: target, forceHost: s.OverriddenHostname, healthy: true}

	cfg := &rest.Config{
		Host:        s.URL,
		BearerToken: auth.Token,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: auth.InsecureSkipVerify,
			CAData:   []byte(auth.CACert),
			CertData: []byte(auth.ClientCert),
			KeyData:  []byte(auth.ClientKey),
		},
	}
	if auth.InsecureSkipVerify {
		cfg.TLSClientConfig.CAData = nil
	}
	if ep.forceHost != "" {
		// 请求使用 forceHost 以匹配证书，拨号时解析到真实地址
		cfg.TLSClientConfig.ServerName = ep.forceHost
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		port := target.Port()
		if port == "" {
			port = defaultPort(target.Scheme)
		}
		forced := net.JoinHostPort(ep.forceHost, port)
		realAddr := net.JoinHostPort(target.Hostname(), port)
		cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if addr == forced {
				addr = realAddr
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}
	ep.transport, err = rest.TransportFor(cfg)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func defaultPort(scheme string) string {
	if scheme == "http" {
		return "80"
	}
	return "443"
}

// BaseURL 是构造 rest.Config 时使用的地址，真实请求会被改写到选中的端点。
func (p *EndpointPool) BaseURL() string {
	ep := p.endpoints[0]
	return (&url.URL{Scheme: ep.target.Scheme, Host: ep.requestHost(), Path: ep.target.Path}).String()
}

// candidates 返回本次请求的尝试顺序：可用端点按注册顺序在前，冷却中的端点兜底。
func (p *EndpointPool) candidates() []*endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var ready, cooling []*endpoint
	for _, ep := range p.endpoints {
		if ep.healthy || now.Sub(ep.lastFailureAt) >= p.cooldown {
			ready = append(ready, ep)
		} else {
			cooling = append(cooling, ep)
		}
	}
	return append(ready, cooling...)
}

func (p *EndpointPool) markFailure(ep *endpoint) {
	p.mu.Lock()
	ep.healthy = false
	ep.lastFailureAt = p.now()
	p.mu.Unlock()
}

func (p *EndpointPool) markSuccess(ep *endpoint) {
	p.mu.Lock()
	ep.healthy = true
	p.mu.Unlock()
}

// Healthy 返回各端点当前是否健康，按注册顺序。
func (p *EndpointPool) Healthy() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = ep.healthy
	}
	return out
}

func (p *EndpointPool) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	var last *endpoint
	for i, ep := range p.candidates() {
		r, err := rewriteRequest(req, ep, i > 0)
		if err != nil {
			break
		}
		resp, err := ep.transport.RoundTrip(r)
		if err == nil {
			p.markSuccess(ep)
			return resp, nil
		}
		if req.Context().Err() != nil {
			return nil, err
		}
		p.markFailure(ep)
		metrics.EndpointFailovers.WithLabelValues(p.cluster).Inc()
		slog.Warn("api server endpoint failed", "cluster", p.cluster, "endpoint", ep.String(), "error", err)
		lastErr, last = err, ep
	}
	if lastErr == nil {
		lastErr = errors.New("request body can not be replayed")
	}
	endpointName := ""
	if last != nil {
		endpointName = last.String()
	}
	return nil, &domain.TransportError{
		Cluster:  p.cluster,
		Endpoint: endpointName,
		Err:      errors.Join(domain.ErrClusterUnreachable, lastErr),
	}
}

// rewriteRequest 把请求改写到端点，重试时通过 GetBody 重新获取请求体。
func rewriteRequest(req *http.Request, ep *endpoint, retry bool) (*http.Request, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = ep.target.Scheme
	r.URL.Host = ep.requestHost()
	r.Host = ""
	if retry && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body can not be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}
