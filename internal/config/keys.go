package config

import "github.com/cheminfuse/aniops/internal/probe"

// LocalRegistry is the sentinel registry value meaning "cluster-local
// ephemeral registry": images are tagged but never pushed.
const LocalRegistry = "local"

// Store key names. These are the operator-visible keys in the store file.
const (
	KeyNamespace          = "namespace"
	KeyRegistry           = "registry"
	KeyImageRepoAPI       = "image_repo_api"
	KeyImageRepoWorker    = "image_repo_worker"
	KeyVersion            = "version"
	KeyGitRepoURL         = "git_repo_url"
	KeyGitOwner           = "git_owner"
	KeyGitRepo            = "git_repo"
	KeyGitHubToken        = "github_token"
	KeyDomain             = "domain"
	KeyIngressClass       = "ingress_class"
	KeyStorageClass       = "storage_class"
	KeyCertIssuer         = "cert_issuer"
	KeyGitOpsNamespace    = "gitops_namespace"
	KeyAppName            = "app_name"
	KeyArgoCDToken        = "argocd_token"
	KeyRedisModelTTL      = "redis_model_ttl"
	KeyRedisResultTTL     = "redis_result_ttl"
	KeyGPUMemoryThreshold = "gpu_memory_threshold"
	KeyManifestDir        = "manifest_dir"
)

// Key describes one bootstrap parameter: how it is prompted for, whether it
// is secret-class, its hardcoded fallback, and how a default is derived from
// probe results.
type Key struct {
	// Name is the store key.
	Name string

	// Title is the short prompt title shown to the operator.
	Title string

	// Description explains the parameter in one line.
	Description string

	// Secret marks tokens and passwords. Secret values are masked in the
	// resolution summary and never logged.
	Secret bool

	// Fallback is the hardcoded default used when neither the store nor the
	// probes supply a value. Empty means no fallback.
	Fallback string

	// ProbeDefault derives an editable suggestion from probe results.
	// Nil when no probe informs this key.
	ProbeDefault func(r *probe.Results) (string, bool)
}

// Keys returns the full parameter table in prompt order.
func Keys() []Key {
	return []Key{
		{
			Name:        KeyNamespace,
			Title:       "Namespace",
			Description: "Kubernetes namespace the service is deployed into",
			Fallback:    "torchani",
		},
		{
			Name:        KeyRegistry,
			Title:       "Container Registry",
			Description: "Registry host for pushed images, or 'local' for a cluster-local registry",
			Fallback:    LocalRegistry,
		},
		{
			Name:        KeyImageRepoAPI,
			Title:       "API Image Name",
			Description: "Repository name for the runtime image",
			Fallback:    "torchani-service",
		},
		{
			Name:        KeyImageRepoWorker,
			Title:       "Worker Image Name",
			Description: "Repository name for the worker-variant image",
			Fallback:    "torchani-worker",
		},
		{
			Name:        KeyVersion,
			Title:       "Image Version",
			Description: "Tag applied to built images and rewritten into manifests",
			Fallback:    "0.1.0",
		},
		{
			Name:        KeyGitRepoURL,
			Title:       "GitOps Repository URL",
			Description: "Source repository watched by the GitOps controller",
		},
		{
			Name:        KeyGitOwner,
			Title:       "GitHub Owner",
			Description: "GitHub user or organization owning the GitOps repository",
		},
		{
			Name:        KeyGitRepo,
			Title:       "GitHub Repository",
			Description: "GitHub repository name for the GitOps repository",
		},
		{
			Name:        KeyGitHubToken,
			Title:       "GitHub Token",
			Description: "Token used to verify access, create the repository and set secrets",
			Secret:      true,
		},
		{
			Name:        KeyDomain,
			Title:       "Service Domain",
			Description: "Public hostname for the optional ingress",
			Fallback:    "torchani.cheminfuse.com",
		},
		{
			Name:        KeyIngressClass,
			Title:       "Ingress Class",
			Description: "IngressClass used by the optional ingress unit",
			Fallback:    "nginx",
			ProbeDefault: func(r *probe.Results) (string, bool) {
				return r.IngressClass, r.IngressClass != ""
			},
		},
		{
			Name:        KeyStorageClass,
			Title:       "Storage Class",
			Description: "StorageClass backing the Redis persistent volume",
			ProbeDefault: func(r *probe.Results) (string, bool) {
				return r.DefaultStorageClass, r.DefaultStorageClass != ""
			},
		},
		{
			Name:        KeyCertIssuer,
			Title:       "Certificate Issuer",
			Description: "cert-manager ClusterIssuer for ingress TLS",
			Fallback:    "letsencrypt-prod",
			ProbeDefault: func(r *probe.Results) (string, bool) {
				if len(r.CertIssuers) == 0 {
					return "", false
				}
				return r.CertIssuers[0], true
			},
		},
		{
			Name:        KeyGitOpsNamespace,
			Title:       "GitOps Namespace",
			Description: "Namespace the GitOps controller is installed into",
			Fallback:    "argocd",
		},
		{
			Name:        KeyAppName,
			Title:       "Application Name",
			Description: "GitOps application name for the service",
			Fallback:    "torchani-service",
		},
		{
			Name:        KeyRedisModelTTL,
			Title:       "Model Cache TTL",
			Description: "Seconds a loaded model stays cached in Redis",
			Fallback:    "300",
		},
		{
			Name:        KeyRedisResultTTL,
			Title:       "Result Cache TTL",
			Description: "Seconds an optimization result stays cached in Redis",
			Fallback:    "3600",
		},
		{
			Name:        KeyGPUMemoryThreshold,
			Title:       "GPU Memory Threshold",
			Description: "GPU memory fraction that triggers model eviction",
			Fallback:    "0.7",
		},
		{
			Name:        KeyManifestDir,
			Title:       "Manifest Directory",
			Description: "Directory holding the deployment manifests",
			Fallback:    "deploy/manifests",
		},
	}
}

// keyNames returns the names of the given keys.
func keyNames(keys []Key) []string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Name)
	}
	return names
}

// KeysByName returns the subset of the parameter table matching names, in
// table order. Unknown names are ignored.
func KeysByName(names ...string) []Key {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Key
	for _, k := range Keys() {
		if want[k.Name] {
			out = append(out, k)
		}
	}
	return out
}

// ProvisionKeys returns the keys required by the provision command.
func ProvisionKeys() []Key {
	return KeysByName(
		KeyNamespace, KeyGitRepoURL, KeyGitOwner, KeyGitRepo, KeyGitHubToken,
		KeyGitOpsNamespace, KeyAppName, KeyManifestDir,
	)
}

// DeployKeys returns the keys required by the deploy command.
func DeployKeys() []Key {
	return KeysByName(
		KeyNamespace, KeyRegistry, KeyImageRepoAPI, KeyImageRepoWorker,
		KeyVersion, KeyDomain, KeyIngressClass, KeyStorageClass, KeyCertIssuer,
		KeyRedisModelTTL, KeyRedisResultTTL, KeyGPUMemoryThreshold,
		KeyManifestDir,
	)
}

// IsSecretKey reports whether name is a secret-class key. Keys generated at
// runtime (the long-lived API token) are secret-class even though they are
// not prompted for.
func IsSecretKey(name string) bool {
	if name == KeyArgoCDToken {
		return true
	}
	for _, k := range Keys() {
		if k.Name == name {
			return k.Secret
		}
	}
	return false
}
