package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		Namespace:          "myns",
		StorageClass:       "fast-ssd",
		Domain:             "ani.example.com",
		IngressClass:       "traefik",
		CertIssuer:         "letsencrypt-staging",
		RedisModelTTL:      600,
		RedisResultTTL:     7200,
		GPUMemoryThreshold: 0.85,
	}
}

func TestRewriteSettings_RetargetsNamespace(t *testing.T) {
	manifest := []byte(`apiVersion: v1
kind: Namespace
metadata:
  name: torchani
  labels:
    name: torchani
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: torchani-config
  namespace: torchani
data:
  REDIS_HOST: redis
`)

	out, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, string(out), "name: myns")
	assert.Contains(t, string(out), "namespace: myns")
	assert.NotContains(t, string(out), "torchani\n")
}

func TestRewriteSettings_LeavesClusterScopedDocumentsAlone(t *testing.T) {
	manifest := []byte(`apiVersion: storage.k8s.io/v1
kind: StorageClass
metadata:
  name: standard
`)

	out, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NotContains(t, string(out), "namespace:")
}

func TestRewriteSettings_OverridesConfigMapValues(t *testing.T) {
	manifest := []byte(`apiVersion: v1
kind: ConfigMap
metadata:
  name: torchani-config
  namespace: myns
data:
  REDIS_HOST: redis
  REDIS_MODEL_TTL: "300"
  REDIS_RESULT_TTL: "3600"
  GPU_MEMORY_THRESHOLD: "0.7"
`)

	out, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, string(out), `REDIS_MODEL_TTL: "600"`)
	assert.Contains(t, string(out), `REDIS_RESULT_TTL: "7200"`)
	assert.Contains(t, string(out), `GPU_MEMORY_THRESHOLD: "0.85"`)
	assert.Contains(t, string(out), "REDIS_HOST: redis")
}

func TestRewriteSettings_DoesNotInventConfigMapKeys(t *testing.T) {
	manifest := []byte(`apiVersion: v1
kind: ConfigMap
metadata:
  name: other-config
  namespace: myns
data:
  LOG_LEVEL: info
`)

	out, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NotContains(t, string(out), "REDIS_MODEL_TTL")
}

func TestRewriteSettings_RewritesIngress(t *testing.T) {
	manifest := []byte(`apiVersion: networking.k8s.io/v1
kind: Ingress
metadata:
  name: torchani
  namespace: myns
  annotations:
    cert-manager.io/cluster-issuer: letsencrypt-prod
spec:
  ingressClassName: nginx
  tls:
    - hosts:
        - torchani.cheminfuse.com
      secretName: torchani-tls
  rules:
    - host: torchani.cheminfuse.com
      http:
        paths:
          - path: /
            pathType: Prefix
            backend:
              service:
                name: torchani-service
                port:
                  number: 80
`)

	out, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	assert.True(t, changed)

	rendered := string(out)
	assert.Contains(t, rendered, "cert-manager.io/cluster-issuer: letsencrypt-staging")
	assert.Contains(t, rendered, "ingressClassName: traefik")
	assert.Contains(t, rendered, "host: ani.example.com")
	assert.Contains(t, rendered, "- ani.example.com")
	assert.NotContains(t, rendered, "torchani.cheminfuse.com")
	assert.Contains(t, rendered, "secretName: torchani-tls")
}

func TestRewriteSettings_PinsStorageClassOnClaims(t *testing.T) {
	manifest := []byte(`apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: redis
  namespace: myns
spec:
  volumeClaimTemplates:
    - metadata:
        name: data
      spec:
        accessModes: ["ReadWriteOnce"]
        resources:
          requests:
            storage: 1Gi
`)

	out, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, string(out), "storageClassName: fast-ssd")

	// An empty resolved class keeps the cluster default.
	settings := testSettings()
	settings.StorageClass = ""
	out2, _, err := RewriteSettings(manifest, settings)
	require.NoError(t, err)
	assert.NotContains(t, string(out2), "storageClassName")
}

func TestRewriteSettings_SecondPassIsByteIdentical(t *testing.T) {
	manifest := []byte(`apiVersion: v1
kind: ConfigMap
metadata:
  name: torchani-config
  namespace: torchani
data:
  REDIS_MODEL_TTL: "300"
`)

	first, changed, err := RewriteSettings(manifest, testSettings())
	require.NoError(t, err)
	require.True(t, changed)

	second, changed, err := RewriteSettings(first, testSettings())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, second)
}
