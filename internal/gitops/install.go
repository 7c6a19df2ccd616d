// Package gitops drives the GitOps controller (Argo CD): rendering its
// install manifest set, and talking to its API through a port-forwarded
// tunnel to register repositories, manage applications and mint tokens.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/chartutil"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/engine"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/repo"
)

const (
	// ChartRepoURL is the upstream Argo CD chart repository.
	ChartRepoURL = "https://argoproj.github.io/argo-helm"

	// ChartName is the Argo CD chart name.
	ChartName = "argo-cd"

	// ServerSelector matches the controller API server pods.
	ServerSelector = "app.kubernetes.io/name=argocd-server"

	// ServerDeployment is the controller API server deployment name.
	ServerDeployment = "argocd-server"

	// ServerPort is the controller API port inside the cluster.
	ServerPort = 8080

	// AdminSecretName is the generated bootstrap credential secret.
	AdminSecretName = "argocd-initial-admin-secret"

	// AdminSecretKey is the data key holding the bootstrap credential.
	AdminSecretKey = "password"

	// AdminAccount is the bootstrap admin account name.
	AdminAccount = "admin"
)

// Values is a nested helm values map.
type Values = map[string]interface{}

// InstallManifests downloads the Argo CD chart and renders the full install
// manifest set, prefixed with the target namespace manifest. The output is
// applied with server-side apply, so re-rendering and re-applying the same
// version is idempotent.
func InstallManifests(ctx context.Context, namespace, version string) ([]byte, error) {
	loadedChart, err := downloadChart(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s chart: %w", ChartName, err)
	}

	manifests, err := renderChart(loadedChart, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s chart: %w", ChartName, err)
	}

	var combined bytes.Buffer
	combined.WriteString(namespaceManifest(namespace))
	combined.WriteString("\n---\n")
	combined.Write(manifests)

	return combined.Bytes(), nil
}

// downloadChart fetches the chart archive from the upstream repository.
// Empty version means latest.
func downloadChart(ctx context.Context, version string) (*chart.Chart, error) {
	settings := cli.New()

	chartURL, err := repo.FindChartInRepoURL(
		ChartRepoURL,
		ChartName,
		version,
		"", "", "",
		getter.All(settings),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find chart in repo: %w", err)
	}

	g, err := getter.All(settings).ByScheme("https")
	if err != nil {
		return nil, fmt.Errorf("no https getter available: %w", err)
	}

	data, err := g.Get(chartURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart archive: %w", err)
	}

	return loader.LoadArchive(bytes.NewReader(data.Bytes()))
}

// renderChart renders the chart with the bootstrap values.
func renderChart(ch *chart.Chart, namespace string) ([]byte, error) {
	values := chartutil.Values(installValues())

	releaseOptions := chartutil.ReleaseOptions{
		Name:      ChartName,
		Namespace: namespace,
		IsInstall: true,
	}

	capabilities := chartutil.DefaultCapabilities.Copy()

	valuesToRender, err := chartutil.ToRenderValues(ch, values, releaseOptions, capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare values: %w", err)
	}

	eng := engine.Engine{}
	rendered, err := eng.Render(ch, valuesToRender)
	if err != nil {
		return nil, fmt.Errorf("failed to render templates: %w", err)
	}

	var combined bytes.Buffer
	for name, content := range rendered {
		if filepath.Base(name) == "NOTES.txt" {
			continue
		}
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n---\n")
		}
		combined.WriteString(trimmed)
		combined.WriteString("\n")
	}

	return combined.Bytes(), nil
}

// installValues returns the chart values for a single-operator bootstrap
// install: CRDs managed by the chart, no SSO provider, no HA.
func installValues() Values {
	return Values{
		"crds": Values{
			"install": true,
			"keep":    true,
		},
		"dex": Values{
			"enabled": false,
		},
		"notifications": Values{
			"enabled": false,
		},
		"applicationSet": Values{
			"enabled": false,
		},
		"redis-ha": Values{
			"enabled": false,
		},
	}
}

// namespaceManifest returns the controller namespace manifest.
func namespaceManifest(namespace string) string {
	return fmt.Sprintf(`apiVersion: v1
kind: Namespace
metadata:
  name: %s
  labels:
    name: %s
`, namespace, namespace)
}
