package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary_MasksSecretValues(t *testing.T) {
	values := map[string]string{
		KeyNamespace:   "torchani",
		KeyGitHubToken: "ghp_supersecret",
		KeyArgoCDToken: "eyJhbGciOi",
	}

	out := Summary(values, nil)

	assert.Contains(t, out, "torchani")
	assert.NotContains(t, out, "ghp_supersecret")
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.Contains(t, out, masked)
}

func TestSummary_EmptySecretNotMasked(t *testing.T) {
	out := Summary(map[string]string{KeyGitHubToken: ""}, nil)
	assert.NotContains(t, out, masked)
}

func TestSummary_IncludesWarnings(t *testing.T) {
	out := Summary(map[string]string{}, []string{"no GPU-labeled nodes found"})
	assert.Contains(t, out, "warning: no GPU-labeled nodes found")
}
