package deploy

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	"sigs.k8s.io/yaml"
)

var docSeparator = regexp.MustCompile(`(?m)^---\s*$`)

// RewriteImages replaces container image references in manifest whose
// repository matches a key of refs with the mapped full reference. The
// rewrite is structured, parsed documents with targeted field updates, so
// rewriting twice with the same inputs is byte-identical.
func RewriteImages(manifest []byte, refs map[string]string) ([]byte, bool, error) {
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

		if rewritePodSpec(parsed, refs) {
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

// Images collects every container image reference in manifest.
func Images(manifest []byte) ([]string, error) {
	var images []string
	for i, doc := range splitDocs(manifest) {
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}

		var parsed map[string]interface{}
		if err := yaml.Unmarshal(doc, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse manifest document %d: %w", i+1, err)
		}

		walkContainers(parsed, func(container map[string]interface{}) {
			if image, ok := container["image"].(string); ok {
				images = append(images, image)
			}
		})
	}
	return images, nil
}

// TagMismatchError reports a manifest image whose tag does not match the
// artifact that was actually built and pushed.
type TagMismatchError struct {
	Image    string
	Expected string
}

func (e *TagMismatchError) Error() string {
	return fmt.Sprintf(
		"manifest image %q does not carry the pushed artifact tag %q",
		e.Image, e.Expected)
}

// CheckTags verifies that every manifest image belonging to a managed
// repository carries exactly the given tag. A mismatch means the workload
// would deploy an unintended version and fails the precondition.
func CheckTags(manifest []byte, repositories []string, tag string) error {
	images, err := Images(manifest)
	if err != nil {
		return err
	}

	managed := make(map[string]bool, len(repositories))
	for _, repo := range repositories {
		managed[repo] = true
	}

	for _, image := range images {
		if !managed[repositoryOf(image)] {
			continue
		}
		if tagOf(image) != tag {
			return &TagMismatchError{Image: image, Expected: tag}
		}
	}
	return nil
}

func splitDocs(manifest []byte) [][]byte {
	parts := docSeparator.Split(string(manifest), -1)
	docs := make([][]byte, len(parts))
	for i, part := range parts {
		docs[i] = []byte(part)
	}
	return docs
}

// rewritePodSpec rewrites images under spec.template.spec, covering
// Deployments, StatefulSets and Jobs.
func rewritePodSpec(doc map[string]interface{}, refs map[string]string) bool {
	changed := false
	walkContainers(doc, func(container map[string]interface{}) {
		image, ok := container["image"].(string)
		if !ok {
			return
		}
		if ref, ok := refs[repositoryOf(image)]; ok && image != ref {
			container["image"] = ref
			changed = true
		}
	})
	return changed
}

func walkContainers(doc map[string]interface{}, fn func(map[string]interface{})) {
	spec, ok := doc["spec"].(map[string]interface{})
	if !ok {
		return
	}
	template, ok := spec["template"].(map[string]interface{})
	if !ok {
		return
	}
	podSpec, ok := template["spec"].(map[string]interface{})
	if !ok {
		return
	}

	for _, field := range []string{"initContainers", "containers"} {
		containers, ok := podSpec[field].([]interface{})
		if !ok {
			continue
		}
		for _, item := range containers {
			if container, ok := item.(map[string]interface{}); ok {
				fn(container)
			}
		}
	}
}

// repositoryOf extracts the final repository path component of an image
// reference, the stable identity a rewrite matches on regardless of
// registry prefix or tag.
func repositoryOf(image string) string {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return ""
	}
	return path.Base(reference.Path(named))
}

// tagOf extracts the tag of an image reference, defaulting to "latest".
func tagOf(image string) string {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		if idx := strings.LastIndex(image, ":"); idx >= 0 {
			return image[idx+1:]
		}
		return ""
	}
	if tagged, ok := named.(reference.Tagged); ok {
		return tagged.Tag()
	}
	return "latest"
}
