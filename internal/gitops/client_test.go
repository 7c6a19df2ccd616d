package gitops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_StoresSessionToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/session":
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "admin", payload["username"])
			assert.Equal(t, "s3cret", payload["password"])
			json.NewEncoder(w).Encode(map[string]string{"token": "session-token"})
		case "/api/v1/applications":
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.Login(context.Background(), "admin", "s3cret"))

	require.NoError(t, client.UpsertApplication(context.Background(), Application{Name: "app"}))
	assert.Equal(t, "Bearer session-token", gotAuth)
}

func TestLogin_RejectionIsAuthFailedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := NewClient(server.URL).Login(context.Background(), "admin", "stale")

	var authErr *AuthFailedError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "admin", authErr.Account)
	// The credential never appears in the error output.
	assert.NotContains(t, err.Error(), "stale")
}

func TestRegisterRepository_ConflictIsNoOp(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/v1/repositories", r.URL.Path)
		if calls == 1 {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewClientWithToken(server.URL, "t")
	repo := Repository{URL: "https://github.com/cheminfuse/torchani-deploy.git"}

	require.NoError(t, client.RegisterRepository(context.Background(), repo))
	require.NoError(t, client.RegisterRepository(context.Background(), repo))
	assert.Equal(t, 2, calls)
}

func TestUpsertApplication_BuildsDeclaration(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("upsert"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClientWithToken(server.URL, "t")
	err := client.UpsertApplication(context.Background(), Application{
		Name:      "torchani-service",
		Namespace: "argocd",
		RepoURL:   "https://github.com/cheminfuse/torchani-deploy.git",
		Path:      "deploy/manifests",
		TargetNS:  "torchani",
		AutoSync:  true,
		SelfHeal:  true,
		CreateNS:  true,
	})
	require.NoError(t, err)

	metadata := payload["metadata"].(map[string]interface{})
	assert.Equal(t, "torchani-service", metadata["name"])

	spec := payload["spec"].(map[string]interface{})
	source := spec["source"].(map[string]interface{})
	assert.Equal(t, "deploy/manifests", source["path"])
	assert.Equal(t, "HEAD", source["targetRevision"])

	destination := spec["destination"].(map[string]interface{})
	assert.Equal(t, "torchani", destination["namespace"])

	syncPolicy := spec["syncPolicy"].(map[string]interface{})
	assert.NotNil(t, syncPolicy["automated"])
	assert.Contains(t, syncPolicy["syncOptions"], "CreateNamespace=true")
}

func TestGenerateToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/account/admin/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
	}))
	defer server.Close()

	token, err := NewClientWithToken(server.URL, "t").GenerateToken(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
}

func TestGenerateToken_EmptyTokenIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	_, err := NewClientWithToken(server.URL, "t").GenerateToken(context.Background(), "admin")
	assert.Error(t, err)
}

func TestHistoryAndRollback(t *testing.T) {
	var rollbackPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/applications/torchani-service":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": map[string]interface{}{
					"history": []map[string]interface{}{
						{"id": 1, "revision": "abc123"},
						{"id": 2, "revision": "def456"},
					},
				},
			})
		case "/api/v1/applications/torchani-service/rollback":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rollbackPayload))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClientWithToken(server.URL, "t")

	history, err := client.History(context.Background(), "torchani-service")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].ID)
	assert.Equal(t, "def456", history[1].Revision)

	require.NoError(t, client.Rollback(context.Background(), "torchani-service", 1))
	assert.Equal(t, float64(1), rollbackPayload["id"])
}
