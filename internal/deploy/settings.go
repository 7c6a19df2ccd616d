package deploy

import (
	"bytes"
	"fmt"
	"strconv"

	"sigs.k8s.io/yaml"

	"github.com/cheminfuse/aniops/internal/config"
)

const clusterIssuerAnnotation = "cert-manager.io/cluster-issuer"

// Settings are the resolved values projected into the stock manifests
// before anything is applied. Zero values leave the corresponding manifest
// field untouched.
type Settings struct {
	Namespace          string
	StorageClass       string
	Domain             string
	IngressClass       string
	CertIssuer         string
	RedisModelTTL      int
	RedisResultTTL     int
	GPUMemoryThreshold float64
}

// SettingsFrom projects the resolved configuration into manifest settings.
func SettingsFrom(cfg *config.Resolved) Settings {
	return Settings{
		Namespace:          cfg.Namespace,
		StorageClass:       cfg.StorageClass,
		Domain:             cfg.Domain,
		IngressClass:       cfg.IngressClass,
		CertIssuer:         cfg.CertIssuer,
		RedisModelTTL:      cfg.RedisModelTTL,
		RedisResultTTL:     cfg.RedisResultTTL,
		GPUMemoryThreshold: cfg.GPUMemoryThreshold,
	}
}

// configData maps resolved settings onto the ConfigMap keys they drive.
func (s Settings) configData() map[string]string {
	data := make(map[string]string, 3)
	if s.RedisModelTTL > 0 {
		data["REDIS_MODEL_TTL"] = strconv.Itoa(s.RedisModelTTL)
	}
	if s.RedisResultTTL > 0 {
		data["REDIS_RESULT_TTL"] = strconv.Itoa(s.RedisResultTTL)
	}
	if s.GPUMemoryThreshold > 0 {
		data["GPU_MEMORY_THRESHOLD"] = strconv.FormatFloat(s.GPUMemoryThreshold, 'f', -1, 64)
	}
	return data
}

// RewriteSettings updates manifest fields the resolved configuration owns:
// the target namespace on every document, ConfigMap tuning values, ingress
// host, class and issuer, and the storage class of stateful volume claims.
// Like RewriteImages, the rewrite is structured and byte-stable, so a
// second pass with the same settings changes nothing.
func RewriteSettings(manifest []byte, s Settings) ([]byte, bool, error) {
	docs := splitDocs(manifest)
	changed := false

	var out bytes.Buffer
	for i, doc := range docs {
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}

		var parsed map[string]interface{}
		if err := yaml.Unmarshal(doc, &parsed); err != nil {
			return nil, false, fmt.Errorf("failed to parse manifest document %d: %w", i+1, err)
		}

		if applySettings(parsed, s) {
			changed = true
		}

		rendered, err := yaml.Marshal(parsed)
		if err != nil {
			return nil, false, fmt.Errorf("failed to render manifest document %d: %w", i+1, err)
		}

		if out.Len() > 0 {
			out.WriteString("---\n")
		}
		out.Write(rendered)
	}

	return out.Bytes(), changed, nil
}

func applySettings(doc map[string]interface{}, s Settings) bool {
	changed := rewriteNamespace(doc, s.Namespace)

	switch kind, _ := doc["kind"].(string); kind {
	case "ConfigMap":
		changed = rewriteConfigData(doc, s.configData()) || changed
	case "Ingress":
		changed = rewriteIngress(doc, s) || changed
	case "StatefulSet":
		changed = rewriteStorageClass(doc, s.StorageClass) || changed
	}

	return changed
}

// rewriteNamespace retargets a document at the resolved namespace. For a
// Namespace document that is its name; for everything else the rewrite
// touches only documents that already carry a namespace, leaving
// cluster-scoped kinds alone.
func rewriteNamespace(doc map[string]interface{}, namespace string) bool {
	if namespace == "" {
		return false
	}
	metadata, ok := doc["metadata"].(map[string]interface{})
	if !ok {
		return false
	}

	changed := false
	if kind, _ := doc["kind"].(string); kind == "Namespace" {
		changed = setField(metadata, "name", namespace)
		if labels, ok := metadata["labels"].(map[string]interface{}); ok {
			if _, present := labels["name"]; present {
				changed = setField(labels, "name", namespace) || changed
			}
		}
		return changed
	}

	if _, present := metadata["namespace"]; present {
		changed = setField(metadata, "namespace", namespace)
	}
	return changed
}

// rewriteConfigData overrides ConfigMap entries the resolver owns. Keys
// absent from the manifest are left absent.
func rewriteConfigData(doc map[string]interface{}, values map[string]string) bool {
	data, ok := doc["data"].(map[string]interface{})
	if !ok {
		return false
	}

	changed := false
	for key, value := range values {
		if _, present := data[key]; present {
			changed = setField(data, key, value) || changed
		}
	}
	return changed
}

func rewriteIngress(doc map[string]interface{}, s Settings) bool {
	changed := false

	if metadata, ok := doc["metadata"].(map[string]interface{}); ok && s.CertIssuer != "" {
		if annotations, ok := metadata["annotations"].(map[string]interface{}); ok {
			if _, present := annotations[clusterIssuerAnnotation]; present {
				changed = setField(annotations, clusterIssuerAnnotation, s.CertIssuer)
			}
		}
	}

	spec, ok := doc["spec"].(map[string]interface{})
	if !ok {
		return changed
	}

	if s.IngressClass != "" {
		if _, present := spec["ingressClassName"]; present {
			changed = setField(spec, "ingressClassName", s.IngressClass) || changed
		}
	}

	if s.Domain == "" {
		return changed
	}

	if tls, ok := spec["tls"].([]interface{}); ok {
		for _, item := range tls {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			hosts, ok := entry["hosts"].([]interface{})
			if !ok {
				continue
			}
			for i, host := range hosts {
				if current, ok := host.(string); ok && current != s.Domain {
					hosts[i] = s.Domain
					changed = true
				}
			}
		}
	}

	if rules, ok := spec["rules"].([]interface{}); ok {
		for _, item := range rules {
			rule, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if _, present := rule["host"]; present {
				changed = setField(rule, "host", s.Domain) || changed
			}
		}
	}

	return changed
}

// rewriteStorageClass pins the storage class of every volume claim
// template. An empty resolved class keeps the cluster default, so the
// field is neither added nor removed.
func rewriteStorageClass(doc map[string]interface{}, storageClass string) bool {
	if storageClass == "" {
		return false
	}
	spec, ok := doc["spec"].(map[string]interface{})
	if !ok {
		return false
	}
	templates, ok := spec["volumeClaimTemplates"].([]interface{})
	if !ok {
		return false
	}

	changed := false
	for _, item := range templates {
		template, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		claimSpec, ok := template["spec"].(map[string]interface{})
		if !ok {
			continue
		}
		changed = setField(claimSpec, "storageClassName", storageClass) || changed
	}
	return changed
}

func setField(m map[string]interface{}, key, value string) bool {
	if current, ok := m[key].(string); ok && current == value {
		return false
	}
	m[key] = value
	return true
}
