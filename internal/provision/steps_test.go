package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/gitops"
	"github.com/cheminfuse/aniops/internal/k8s"
)

type fakeController struct {
	loginUser  string
	loginPass  string
	logins     int
	loginErr   error
	registered []gitops.Repository
	upserted   []gitops.Application
	tokens     int
}

func (f *fakeController) Login(_ context.Context, username, password string) error {
	f.loginUser, f.loginPass = username, password
	f.logins++
	return f.loginErr
}

func (f *fakeController) RegisterRepository(_ context.Context, repo gitops.Repository) error {
	f.registered = append(f.registered, repo)
	return nil
}

func (f *fakeController) UpsertApplication(_ context.Context, app gitops.Application) error {
	f.upserted = append(f.upserted, app)
	return nil
}

func (f *fakeController) GenerateToken(context.Context, string) (string, error) {
	f.tokens++
	return "token-" + string(rune('0'+f.tokens)), nil
}

type fakeSCM struct {
	verified  bool
	ensured   []string
	secrets   map[string]string
	secretErr error
}

func (f *fakeSCM) VerifyAuth(context.Context) (string, error) {
	f.verified = true
	return "cheminfuse", nil
}

func (f *fakeSCM) EnsureRepository(_ context.Context, owner, name string) error {
	f.ensured = append(f.ensured, owner+"/"+name)
	return nil
}

func (f *fakeSCM) SetRepositorySecret(_ context.Context, _, _, name, value string) error {
	if f.secretErr != nil {
		return f.secretErr
	}
	if f.secrets == nil {
		f.secrets = make(map[string]string)
	}
	f.secrets[name] = value
	return nil
}

func testRuntime(controller Controller, host *fakeSCM) *Runtime {
	return &Runtime{
		Store:      config.NewMemoryStore(nil),
		credential: "bootstrap-pw",
		Config: &config.Resolved{
			Namespace:       "torchani",
			GitOpsNamespace: "argocd",
			AppName:         "torchani-service",
			GitRepoURL:      "https://github.com/cheminfuse/torchani-deploy.git",
			GitOwner:        "cheminfuse",
			GitRepo:         "torchani-deploy",
			GitHubToken:     "ghp_test",
			ManifestDir:     "deploy/manifests",
		},
		SCM: host,
		Connect: func(context.Context) (Controller, func(), error) {
			return controller, func() {}, nil
		},
	}
}

func stepByName(t *testing.T, rt *Runtime, name string) Step {
	t.Helper()
	for _, step := range rt.Steps() {
		if step.Name == name {
			return step
		}
	}
	t.Fatalf("no step named %q", name)
	return Step{}
}

// adminSecretCluster builds a cluster whose gitops namespace holds the
// generated admin secret with the given password.
func adminSecretCluster(password string) *k8s.Client {
	clientset := k8sfake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      gitops.AdminSecretName,
			Namespace: "argocd",
		},
		Data: map[string][]byte{gitops.AdminSecretKey: []byte(password)},
	})
	return k8s.NewFromClients(clientset, nil, nil)
}

func TestAuthenticate_UsesBootstrapCredential(t *testing.T) {
	controller := &fakeController{}
	rt := testRuntime(controller, &fakeSCM{})

	step := stepByName(t, rt, "authenticate")
	require.NoError(t, step.Run(context.Background()))

	assert.Equal(t, gitops.AdminAccount, controller.loginUser)
	assert.Equal(t, "bootstrap-pw", controller.loginPass)
}

func TestAuthenticate_LoadsCredentialWhenNotRetrieved(t *testing.T) {
	controller := &fakeController{}
	rt := testRuntime(controller, &fakeSCM{})
	rt.credential = ""
	rt.Cluster = adminSecretCluster("from-secret")

	step := stepByName(t, rt, "authenticate")
	require.NoError(t, step.Run(context.Background()))

	assert.Equal(t, "from-secret", controller.loginPass)
}

func TestAuthenticate_FailsWhenSecretMissing(t *testing.T) {
	rt := testRuntime(&fakeController{}, &fakeSCM{})
	rt.credential = ""
	rt.Cluster = k8s.NewFromClients(k8sfake.NewSimpleClientset(), nil, nil)

	step := stepByName(t, rt, "authenticate")
	err := step.Run(context.Background())

	var credErr *gitops.CredentialUnavailableError
	assert.ErrorAs(t, err, &credErr)
}

func TestAuthenticate_SurfacesAuthFailure(t *testing.T) {
	controller := &fakeController{loginErr: &gitops.AuthFailedError{Account: "admin"}}
	rt := testRuntime(controller, &fakeSCM{})
	rt.credential = "stale"

	step := stepByName(t, rt, "authenticate")
	err := step.Run(context.Background())

	var authErr *gitops.AuthFailedError
	assert.ErrorAs(t, err, &authErr)
}

func TestRegisterRepository_VerifiesEnsuresAndRegisters(t *testing.T) {
	controller := &fakeController{}
	host := &fakeSCM{}
	rt := testRuntime(controller, host)

	step := stepByName(t, rt, "register-repository")
	require.NoError(t, step.Run(context.Background()))

	assert.True(t, host.verified)
	assert.Equal(t, []string{"cheminfuse/torchani-deploy"}, host.ensured)
	require.Len(t, controller.registered, 1)
	assert.Equal(t, "https://github.com/cheminfuse/torchani-deploy.git", controller.registered[0].URL)
}

func TestCreateApplication_TargetsResolvedNamespaces(t *testing.T) {
	controller := &fakeController{}
	rt := testRuntime(controller, &fakeSCM{})

	step := stepByName(t, rt, "create-application")
	require.NoError(t, step.Run(context.Background()))

	require.Len(t, controller.upserted, 1)
	app := controller.upserted[0]
	assert.Equal(t, "torchani-service", app.Name)
	assert.Equal(t, "argocd", app.Namespace)
	assert.Equal(t, "torchani", app.TargetNS)
	assert.Equal(t, "deploy/manifests", app.Path)
	assert.True(t, app.AutoSync)
}

func TestGenerateAPIToken_PersistsAndPropagates(t *testing.T) {
	controller := &fakeController{}
	host := &fakeSCM{}
	rt := testRuntime(controller, host)

	step := stepByName(t, rt, "generate-api-token")
	require.Nil(t, step.Check, "token generation must never be skipped")
	require.NoError(t, step.Run(context.Background()))

	stored, ok := rt.Store.Get(config.KeyArgoCDToken)
	require.True(t, ok)
	assert.Equal(t, "token-1", stored)
	assert.Equal(t, "token-1", host.secrets[SecretNameToken])

	// A second run mints a fresh token, invalidating the first.
	require.NoError(t, step.Run(context.Background()))
	stored, _ = rt.Store.Get(config.KeyArgoCDToken)
	assert.Equal(t, "token-2", stored)
}

func TestGenerateAPIToken_AloneAuthenticatesFirst(t *testing.T) {
	// The rollback remediation path runs this step on its own; the session
	// must still come up authenticated with the bootstrap credential.
	controller := &fakeController{}
	host := &fakeSCM{}
	rt := testRuntime(controller, host)
	rt.credential = ""
	rt.Cluster = adminSecretCluster("from-secret")
	defer rt.Close()

	step := stepByName(t, rt, "generate-api-token")
	require.NoError(t, step.Run(context.Background()))

	assert.Equal(t, gitops.AdminAccount, controller.loginUser)
	assert.Equal(t, "from-secret", controller.loginPass)
	stored, ok := rt.Store.Get(config.KeyArgoCDToken)
	require.True(t, ok)
	assert.Equal(t, "token-1", stored)
}

func TestConnect_AuthenticatesOncePerRun(t *testing.T) {
	controller := &fakeController{}
	rt := testRuntime(controller, &fakeSCM{})

	for _, name := range []string{"register-repository", "create-application", "generate-api-token"} {
		require.NoError(t, stepByName(t, rt, name).Run(context.Background()))
	}

	assert.Equal(t, 1, controller.logins)
}

func TestGenerateAPIToken_SecretPushFailureIsReported(t *testing.T) {
	host := &fakeSCM{secretErr: errors.New("forbidden")}
	rt := testRuntime(&fakeController{}, host)

	step := stepByName(t, rt, "generate-api-token")
	err := step.Run(context.Background())

	require.Error(t, err)
	// The token itself was stored before the push failed.
	stored, ok := rt.Store.Get(config.KeyArgoCDToken)
	assert.True(t, ok)
	assert.NotEmpty(t, stored)
	assert.Contains(t, err.Error(), "set it manually")
}

func TestRuntime_CloseIsIdempotentAndSafeWithoutChannel(t *testing.T) {
	closed := 0
	rt := testRuntime(&fakeController{}, &fakeSCM{})
	rt.Connect = func(context.Context) (Controller, func(), error) {
		return &fakeController{}, func() { closed++ }, nil
	}

	rt.Close() // no channel opened yet

	_, err := rt.connect(context.Background())
	require.NoError(t, err)
	rt.Close()
	rt.Close()
	assert.Equal(t, 1, closed)
}
