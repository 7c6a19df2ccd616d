// Package scm manages the hosted git repository that backs the GitOps
// workflow: verifying credentials, ensuring the repository exists and
// pushing encrypted CI secrets.
package scm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/box"
)

const defaultBaseURL = "https://api.github.com"

// Client is a minimal GitHub API client scoped to the operations the
// bootstrap flow needs.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient returns a client authenticated with a personal access token.
func NewClient(token string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL is NewClient with an explicit API endpoint, for
// GitHub Enterprise installs and tests.
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// VerifyAuth checks the token against the authenticated-user endpoint and
// returns the login it resolves to.
func (c *Client) VerifyAuth(ctx context.Context) (string, error) {
	var response struct {
		Login string `json:"login"`
	}

	status, err := c.do(ctx, http.MethodGet, "/user", nil, &response)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		return "", fmt.Errorf("git hosting token was rejected, check its scopes and expiry")
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("user lookup failed with status %d", status)
	}

	return response.Login, nil
}

// EnsureRepository creates a private repository under owner if it does not
// already exist. An existing repository is treated as success.
func (c *Client) EnsureRepository(ctx context.Context, owner, name string) error {
	payload := map[string]interface{}{
		"name":      name,
		"private":   true,
		"auto_init": true,
	}

	status, err := c.do(ctx, http.MethodPost, "/user/repos", payload, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusCreated:
		log.Printf("[scm] Created repository %s/%s", owner, name)
		return nil
	case status == http.StatusUnprocessableEntity:
		log.Printf("[scm] Repository %s/%s already exists, skipping", owner, name)
		return nil
	default:
		return fmt.Errorf("repository creation failed with status %d", status)
	}
}

// SetRepositorySecret stores value as an encrypted Actions secret on the
// repository. The value is sealed against the repository public key before
// leaving the process and is never logged.
func (c *Client) SetRepositorySecret(ctx context.Context, owner, repo, name, value string) error {
	keyID, publicKey, err := c.repositoryPublicKey(ctx, owner, repo)
	if err != nil {
		return err
	}

	sealed, err := sealSecret(publicKey, value)
	if err != nil {
		return fmt.Errorf("failed to seal secret %s: %w", name, err)
	}

	payload := map[string]string{
		"encrypted_value": sealed,
		"key_id":          keyID,
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/secrets/%s", owner, repo, name)
	status, err := c.do(ctx, http.MethodPut, path, payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusNoContent {
		return fmt.Errorf("secret update failed with status %d", status)
	}

	log.Printf("[scm] Stored secret %s on %s/%s", name, owner, repo)
	return nil
}

// repositoryPublicKey fetches the repository's secret-sealing public key.
func (c *Client) repositoryPublicKey(ctx context.Context, owner, repo string) (string, [32]byte, error) {
	var key [32]byte
	var response struct {
		KeyID string `json:"key_id"`
		Key   string `json:"key"`
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/secrets/public-key", owner, repo)
	status, err := c.do(ctx, http.MethodGet, path, nil, &response)
	if err != nil {
		return "", key, err
	}
	if status != http.StatusOK {
		return "", key, fmt.Errorf("public key lookup failed with status %d", status)
	}

	decoded, err := base64.StdEncoding.DecodeString(response.Key)
	if err != nil {
		return "", key, fmt.Errorf("failed to decode repository public key: %w", err)
	}
	if len(decoded) != 32 {
		return "", key, fmt.Errorf("repository public key has unexpected length %d", len(decoded))
	}

	copy(key[:], decoded)
	return response.KeyID, key, nil
}

// sealSecret encrypts value with an anonymous sealed box, the scheme the
// Actions secrets API requires.
func sealSecret(publicKey [32]byte, value string) (string, error) {
	sealed, err := box.SealAnonymous(nil, []byte(value), &publicKey, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("git hosting API request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}

	return resp.StatusCode, nil
}
