package mapper

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// RegistryCredential 是一个镜像仓库的登录凭证。
type RegistryCredential struct {
	Host     string
	Username string
	Password string
}

// NamespaceObject 生成带平台标签的命名空间。
func NamespaceObject(name string, labels map[string]string) (*unstructured.Unstructured, error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels}}
	return toUnstructured(ns, KindNamespace)
}

// ImagePullSecret 生成 kubernetes.io/dockerconfigjson 类型的拉取凭证。
func ImagePullSecret(app *domain.WlApp, creds []RegistryCredential) (*unstructured.Unstructured, error) {
	auths := make(map[string]map[string]string, len(creds))
	for _, c := range creds {
		auths[c.Host] = map[string]string{
			"username": c.Username,
			"password": c.Password,
			"auth":     base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password)),
		}
	}
	data, err := json.Marshal(map[string]any{"auths": auths})
	if err != nil {
		return nil, fmt.Errorf("marshal docker config: %w", err)
	}
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      app.ImagePullSecretName(),
			Namespace: app.Namespace(),
			Labels:    app.BaseLabels(),
		},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{corev1.DockerConfigJsonKey: data},
	}
	return toUnstructured(secret, KindSecret)
}

// EnvConfigMap 生成环境变量的只读镜像，仅供排障查看。
func EnvConfigMap(app *domain.WlApp, envs map[string]string) (*unstructured.Unstructured, error) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      app.EnvConfigMapName(),
			Namespace: app.Namespace(),
			Labels:    app.BaseLabels(),
		},
		Data: envs,
	}
	return toUnstructured(cm, KindConfigMap)
}
