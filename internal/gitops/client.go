package gitops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client talks to the controller API over an established tunnel.
// All methods are idempotent where the underlying API allows it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient returns a client for the controller API at baseURL.
// Call Login before any authenticated method.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithToken returns a client pre-authenticated with token.
func NewClientWithToken(baseURL, token string) *Client {
	c := NewClient(baseURL)
	c.token = token
	return c
}

// Login authenticates with username and password and stores the session
// token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	payload := map[string]string{
		"username": username,
		"password": password,
	}

	var response struct {
		Token string `json:"token"`
	}

	status, err := c.do(ctx, http.MethodPost, "/api/v1/session", payload, &response)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthFailedError{Account: username}
	}
	if status != http.StatusOK {
		return fmt.Errorf("session request failed with status %d", status)
	}

	c.token = response.Token
	return nil
}

// Repository is a source repository registration.
type Repository struct {
	URL      string `json:"repo"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// RegisterRepository registers a source repository with the controller.
// An already-registered repository is treated as success.
func (c *Client) RegisterRepository(ctx context.Context, repo Repository) error {
	status, err := c.do(ctx, http.MethodPost, "/api/v1/repositories", repo, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return nil
	case status == http.StatusConflict:
		log.Printf("[gitops] Repository already registered, skipping")
		return nil
	default:
		return fmt.Errorf("repository registration failed with status %d", status)
	}
}

// Application declares a managed application: a repository path continuously
// synced into a target namespace.
type Application struct {
	Name      string
	Namespace string
	RepoURL   string
	Path      string
	TargetNS  string
	Revision  string
	AutoSync  bool
	SelfHeal  bool
	Prune     bool
	CreateNS  bool
}

// UpsertApplication creates or updates the application declaration.
func (c *Client) UpsertApplication(ctx context.Context, app Application) error {
	revision := app.Revision
	if revision == "" {
		revision = "HEAD"
	}

	spec := map[string]interface{}{
		"project": "default",
		"source": map[string]interface{}{
			"repoURL":        app.RepoURL,
			"path":           app.Path,
			"targetRevision": revision,
		},
		"destination": map[string]interface{}{
			"server":    "https://kubernetes.default.svc",
			"namespace": app.TargetNS,
		},
	}

	syncPolicy := map[string]interface{}{}
	if app.AutoSync {
		syncPolicy["automated"] = map[string]interface{}{
			"selfHeal": app.SelfHeal,
			"prune":    app.Prune,
		}
	}
	if app.CreateNS {
		syncPolicy["syncOptions"] = []string{"CreateNamespace=true"}
	}
	if len(syncPolicy) > 0 {
		spec["syncPolicy"] = syncPolicy
	}

	payload := map[string]interface{}{
		"metadata": map[string]interface{}{
			"name":      app.Name,
			"namespace": app.Namespace,
		},
		"spec": spec,
	}

	status, err := c.do(ctx, http.MethodPost, "/api/v1/applications?upsert=true", payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("application upsert failed with status %d", status)
	}
	return nil
}

// GenerateToken mints a fresh API token for the given account. Tokens are
// returned once and never retrievable afterwards.
func (c *Client) GenerateToken(ctx context.Context, account string) (string, error) {
	var response struct {
		Token string `json:"token"`
	}

	path := fmt.Sprintf("/api/v1/account/%s/token", account)
	status, err := c.do(ctx, http.MethodPost, path, map[string]string{}, &response)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", &AuthFailedError{Account: account}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("token generation failed with status %d", status)
	}
	if response.Token == "" {
		return "", fmt.Errorf("token generation returned an empty token")
	}

	return response.Token, nil
}

// Revision is one entry of an application's deployment history.
type Revision struct {
	ID       int64  `json:"id"`
	Revision string `json:"revision"`
}

// History returns the application's deployment history, oldest first.
func (c *Client) History(ctx context.Context, name string) ([]Revision, error) {
	var response struct {
		Status struct {
			History []Revision `json:"history"`
		} `json:"status"`
	}

	path := "/api/v1/applications/" + name
	status, err := c.do(ctx, http.MethodGet, path, nil, &response)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("application %q not found", name)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("history request failed with status %d", status)
	}

	return response.Status.History, nil
}

// Sync triggers a sync of the named application.
func (c *Client) Sync(ctx context.Context, name string) error {
	path := fmt.Sprintf("/api/v1/applications/%s/sync", name)
	status, err := c.do(ctx, http.MethodPost, path, map[string]string{}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("sync request failed with status %d", status)
	}
	return nil
}

// Rollback rolls the named application back to the history entry id.
func (c *Client) Rollback(ctx context.Context, name string, id int64) error {
	payload := map[string]interface{}{
		"id": id,
	}

	path := fmt.Sprintf("/api/v1/applications/%s/rollback", name)
	status, err := c.do(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("rollback request failed with status %d", status)
	}
	return nil
}

// do performs one API request, decoding the response into out when the
// status is a success and out is non-nil. Non-2xx statuses are returned to
// the caller for per-endpoint handling.
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
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("controller API request failed: %w", err)
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
