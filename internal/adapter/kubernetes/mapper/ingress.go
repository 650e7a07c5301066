package mapper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	AnnotationIngressClass   = "kubernetes.io/ingress.class"
	AnnotationConfigSnippet  = "nginx.ingress.kubernetes.io/configuration-snippet"
	AnnotationServerSnippet  = "nginx.ingress.kubernetes.io/server-snippet"
	AnnotationRewriteTarget  = "nginx.ingress.kubernetes.io/rewrite-target"
	AnnotationUseRegex       = "nginx.ingress.kubernetes.io/use-regex"
	AnnotationSSLRedirect    = "nginx.ingress.kubernetes.io/ssl-redirect"
	ingressClassNginx        = "nginx"
	rewriteToRootTarget      = "/$3"
	scriptNameHeaderSnippet  = "proxy_set_header X-Script-Name $1;"
	subpathPathRegexTemplate = "(%s)(/|$)(.*)"
)

// pluginSnippetMarker 之后的片段由插件生成，反序列化时丢弃。
const pluginSnippetMarker = "# managed by ingress plugins"

var _ Mapper[*domain.ProcessIngress] = (*IngressMapper)(nil)

// managedAnnotations 由映射器生成，反序列化时不回填到 Annotations。
var managedAnnotations = map[string]bool{
	AnnotationIngressClass:  true,
	AnnotationConfigSnippet: true,
	AnnotationServerSnippet: true,
	AnnotationRewriteTarget: true,
	AnnotationUseRegex:      true,
	AnnotationSSLRedirect:   true,
}

var subpathPathRegex = regexp.MustCompile(`^\((.*)\)\(/\|\$\)\(\.\*\)$`)

// IngressMapper 负责 ProcessIngress ⇄ networking.k8s.io/v1 Ingress。
type IngressMapper struct {
	plugins  []IngressPlugin
	useRegex bool
}

func (m *IngressMapper) Kind() ResourceKind { return KindIngress }

func (m *IngressMapper) Serialize(ing *domain.ProcessIngress) (*unstructured.Unstructured, error) {
	if ing.App == nil {
		return nil, fmt.Errorf("%w: ingress %s has no app", domain.ErrInvalidInput, ing.Name)
	}
	annotations := withLabels(ing.Annotations, map[string]string{AnnotationIngressClass: ingressClassNginx})

	configSnippets := []string{}
	if ing.SetHeaderXScriptName && ing.RewriteToRoot {
		configSnippets = append(configSnippets, scriptNameHeaderSnippet)
	}
	if ing.ConfigurationSnippet != "" {
		configSnippets = append(configSnippets, ing.ConfigurationSnippet)
	}
	serverSnippets := []string{}
	if ing.ServerSnippet != "" {
		serverSnippets = append(serverSnippets, ing.ServerSnippet)
	}
	var pluginConfig, pluginServer []string
	for _, p := range m.plugins {
		if s := p.ConfigurationSnippet(ing.App, ing.Domains); s != "" {
			pluginConfig = append(pluginConfig, s)
		}
		if s := p.ServerSnippet(ing.App, ing.Domains); s != "" {
			pluginServer = append(pluginServer, s)
		}
	}
	if len(pluginConfig) > 0 {
		configSnippets = append(append(configSnippets, pluginSnippetMarker), pluginConfig...)
	}
	if len(pluginServer) > 0 {
		serverSnippets = append(append(serverSnippets, pluginSnippetMarker), pluginServer...)
	}
	if len(configSnippets) > 0 {
		annotations[AnnotationConfigSnippet] = strings.Join(configSnippets, "\n")
	}
	if len(serverSnippets) > 0 {
		annotations[AnnotationServerSnippet] = strings.Join(serverSnippets, "\n")
	}

	pathType := networkingv1.PathTypePrefix
	if ing.RewriteToRoot {
		annotations[AnnotationRewriteTarget] = rewriteToRootTarget
		annotations[AnnotationUseRegex] = "true"
		pathType = networkingv1.PathTypeImplementationSpecific
	} else if m.useRegex {
		annotations[AnnotationUseRegex] = "true"
		pathType = networkingv1.PathTypeImplementationSpecific
	}

	backend := networkingv1.IngressBackend{
		Service: &networkingv1.IngressServiceBackend{
			Name: ing.ServiceName,
			Port: networkingv1.ServiceBackendPort{Name: ing.ServicePortName},
		},
	}

	var rules []networkingv1.IngressRule
	var tls []networkingv1.IngressTLS
	for _, d := range ing.Domains {
		prefixes := d.PathPrefixList
		if len(prefixes) == 0 {
			prefixes = []string{"/"}
		}
		var paths []networkingv1.HTTPIngressPath
		for _, prefix := range prefixes {
			path := prefix
			if ing.RewriteToRoot {
				path = fmt.Sprintf(subpathPathRegexTemplate, strings.TrimSuffix(prefix, "/"))
			}
			paths = append(paths, networkingv1.HTTPIngressPath{Path: path, PathType: &pathType, Backend: backend})
		}
		rules = append(rules, networkingv1.IngressRule{
			Host: d.Host,
			IngressRuleValue: networkingv1.IngressRuleValue{
				HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
			},
		})
		if d.TLSEnabled && d.TLSSecretName != "" {
			tls = append(tls, networkingv1.IngressTLS{Hosts: []string{d.Host}, SecretName: d.TLSSecretName})
		}
	}
	if len(tls) == 0 {
		annotations[AnnotationSSLRedirect] = "false"
	}

	obj := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        ing.Name,
			Namespace:   ing.App.Namespace(),
			Labels:      ing.App.BaseLabels(),
			Annotations: annotations,
		},
		Spec: networkingv1.IngressSpec{Rules: rules, TLS: tls},
	}
	return toUnstructured(obj, KindIngress)
}

// Deserialize 还原 Ingress。插件生成的片段不回填，重新序列化时由插件按当前配置生成。
func (m *IngressMapper) Deserialize(obj *unstructured.Unstructured) (*domain.ProcessIngress, error) {
	var ing networkingv1.Ingress
	if err := fromUnstructured(obj, &ing); err != nil {
		return nil, err
	}
	out := &domain.ProcessIngress{
		Name:          ing.Name,
		RewriteToRoot: ing.Annotations[AnnotationRewriteTarget] == rewriteToRootTarget,
		ServerSnippet: strings.Join(ownedSnippetLines(ing.Annotations[AnnotationServerSnippet]), "\n"),
	}

	var snippet []string
	for _, line := range ownedSnippetLines(ing.Annotations[AnnotationConfigSnippet]) {
		if line == scriptNameHeaderSnippet {
			out.SetHeaderXScriptName = true
			continue
		}
		snippet = append(snippet, line)
	}
	out.ConfigurationSnippet = strings.Join(snippet, "\n")

	for k, v := range ing.Annotations {
		if managedAnnotations[k] {
			continue
		}
		if out.Annotations == nil {
			out.Annotations = make(map[string]string)
		}
		out.Annotations[k] = v
	}

	tlsSecrets := make(map[string]string)
	for _, t := range ing.Spec.TLS {
		for _, h := range t.Hosts {
			tlsSecrets[h] = t.SecretName
		}
	}
	for _, rule := range ing.Spec.Rules {
		d := domain.IngressDomain{Host: rule.Host}
		if secret, ok := tlsSecrets[rule.Host]; ok {
			d.TLSEnabled = true
			d.TLSSecretName = secret
		}
		if rule.HTTP != nil {
			for _, p := range rule.HTTP.Paths {
				path := p.Path
				if m := subpathPathRegex.FindStringSubmatch(path); m != nil && out.RewriteToRoot {
					path = m[1] + "/"
				}
				d.PathPrefixList = append(d.PathPrefixList, path)
				if p.Backend.Service != nil && out.ServiceName == "" {
					out.ServiceName = p.Backend.Service.Name
					out.ServicePortName = p.Backend.Service.Port.Name
				}
			}
		}
		out.Domains = append(out.Domains, d)
	}
	return out, nil
}

// ownedSnippetLines 返回插件标记之前的片段行。
func ownedSnippetLines(raw string) []string {
	if raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if line == pluginSnippetMarker {
			return lines[:i]
		}
	}
	return lines
}

// SortIngressDomains 按主机名排序，保证渲染结果稳定。
func SortIngressDomains(domains []domain.IngressDomain) {
	sort.SliceStable(domains, func(i, j int) bool { return domains[i].Host < domains[j].Host })
}
