package provision

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cheminfuse/aniops/internal/config"
	"github.com/cheminfuse/aniops/internal/gitops"
	"github.com/cheminfuse/aniops/internal/k8s"
	"github.com/cheminfuse/aniops/internal/probe"
	"github.com/cheminfuse/aniops/internal/util/retry"
)

// ControllerWaitTimeout bounds the wait for the controller deployment to
// report available after install.
const ControllerWaitTimeout = 300 * time.Second

// SecretNameToken is the repository secret the generated API token is
// pushed to.
const SecretNameToken = "ARGOCD_TOKEN"

// SCM is the source-control host surface the token step needs.
type SCM interface {
	VerifyAuth(ctx context.Context) (string, error)
	EnsureRepository(ctx context.Context, owner, name string) error
	SetRepositorySecret(ctx context.Context, owner, repo, name, value string) error
}

// Controller is the GitOps controller API surface the steps need.
type Controller interface {
	Login(ctx context.Context, username, password string) error
	RegisterRepository(ctx context.Context, repo gitops.Repository) error
	UpsertApplication(ctx context.Context, app gitops.Application) error
	GenerateToken(ctx context.Context, account string) (string, error)
}

// Runtime carries the collaborators and the per-run state the steps thread
// through: the bootstrap credential and the controller API session.
type Runtime struct {
	Cluster *k8s.Client
	Prober  *probe.Prober
	Store   config.Store
	Config  *config.Resolved
	SCM     SCM

	// Connect opens a transient channel to the controller API and
	// returns an unauthenticated client plus its teardown. Tests inject
	// a stub; the default port-forwards to the API server pod.
	Connect func(ctx context.Context) (Controller, func(), error)

	credential    string
	controller    Controller
	teardown      func()
	authenticated bool
}

// Close tears down the controller API channel. It is safe to call on every
// exit path, including when no channel was opened.
func (r *Runtime) Close() {
	if r.teardown != nil {
		r.teardown()
		r.teardown = nil
	}
}

// connect memoizes the controller API channel and authenticates the
// session on first use. Subset runs land here without the earlier steps
// having executed, so the bootstrap credential is loaded on demand.
func (r *Runtime) connect(ctx context.Context) (Controller, error) {
	if r.controller == nil {
		connect := r.Connect
		if connect == nil {
			connect = r.portForwardConnect
		}

		controller, teardown, err := connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reach controller API: %w", err)
		}

		r.controller = controller
		r.teardown = teardown
	}

	if !r.authenticated {
		if r.credential == "" {
			if err := r.loadCredential(ctx); err != nil {
				return nil, err
			}
		}
		if err := r.controller.Login(ctx, gitops.AdminAccount, r.credential); err != nil {
			return nil, err
		}
		r.authenticated = true
	}

	return r.controller, nil
}

// loadCredential reads the generated admin secret. A missing secret after
// readiness is CredentialUnavailableError, distinct from the controller
// simply not being up yet.
func (r *Runtime) loadCredential(ctx context.Context) error {
	cfg := r.Config
	exists, err := r.Cluster.SecretExists(ctx, cfg.GitOpsNamespace, gitops.AdminSecretName)
	if err != nil {
		return err
	}
	if !exists {
		return &gitops.CredentialUnavailableError{
			Secret:    gitops.AdminSecretName,
			Namespace: cfg.GitOpsNamespace,
		}
	}

	credential, err := r.Cluster.GetSecretValue(
		ctx, cfg.GitOpsNamespace, gitops.AdminSecretName, gitops.AdminSecretKey)
	if err != nil {
		return err
	}

	r.credential = credential
	return nil
}

// portForwardConnect tunnels to the API server pod. Establishing the
// tunnel is retried; the server pod can briefly lack endpoints right after
// the readiness wait.
func (r *Runtime) portForwardConnect(ctx context.Context) (Controller, func(), error) {
	var session *k8s.ForwardSession
	err := retry.WithBackoff(ctx, func() error {
		var err error
		session, err = r.Cluster.PortForward(
			ctx, r.Config.GitOpsNamespace, gitops.ServerSelector, gitops.ServerPort)
		return err
	}, retry.WithMaxRetries(3))
	if err != nil {
		return nil, nil, err
	}
	return gitops.NewClient(session.URL()), session.Close, nil
}

// Steps returns the full bootstrap sequence in dependency order.
func (r *Runtime) Steps() []Step {
	return []Step{
		r.installController(),
		r.waitControllerReady(),
		r.retrieveBootstrapCredential(),
		r.authenticate(),
		r.registerRepository(),
		r.createApplication(),
		r.generateAPIToken(),
	}
}

// installController applies the controller install manifest set. It is
// skipped whenever the controller deployment already exists, ready or not;
// the readiness wait is the next step's concern.
func (r *Runtime) installController() Step {
	cfg := r.Config
	return Step{
		Name: "install-controller",
		Check: func(ctx context.Context) (bool, error) {
			state, err := r.Prober.ControllerInstalled(ctx, cfg.GitOpsNamespace)
			if err != nil {
				return false, err
			}
			return state != probe.ControllerAbsent, nil
		},
		Run: func(ctx context.Context) error {
			manifests, err := gitops.InstallManifests(ctx, cfg.GitOpsNamespace, "")
			if err != nil {
				return err
			}
			return r.Cluster.ApplyManifests(ctx, manifests, k8s.FieldManager)
		},
	}
}

func (r *Runtime) waitControllerReady() Step {
	cfg := r.Config
	return Step{
		Name: "wait-controller-ready",
		Check: func(ctx context.Context) (bool, error) {
			state, err := r.Prober.ControllerInstalled(ctx, cfg.GitOpsNamespace)
			if err != nil {
				return false, err
			}
			return state == probe.ControllerReady, nil
		},
		Run: func(ctx context.Context) error { return nil },
		Ready: func(ctx context.Context) error {
			return r.Cluster.WaitForDeployment(
				ctx, cfg.GitOpsNamespace, gitops.ServerDeployment, ControllerWaitTimeout)
		},
	}
}

func (r *Runtime) retrieveBootstrapCredential() Step {
	return Step{
		Name: "retrieve-bootstrap-credential",
		Run:  r.loadCredential,
	}
}

// authenticate logs in with the bootstrap credential. A rejection surfaces
// immediately; retrying with the same credential would not succeed.
func (r *Runtime) authenticate() Step {
	return Step{
		Name: "authenticate",
		Run: func(ctx context.Context) error {
			_, err := r.connect(ctx)
			return err
		},
	}
}

// registerRepository verifies the git host token, ensures the repository
// exists and registers it with the controller. Every part is idempotent.
func (r *Runtime) registerRepository() Step {
	cfg := r.Config
	return Step{
		Name: "register-repository",
		Run: func(ctx context.Context) error {
			login, err := r.SCM.VerifyAuth(ctx)
			if err != nil {
				return err
			}
			log.Printf("[provision] Git host authenticated as %s", login)

			if err := r.SCM.EnsureRepository(ctx, cfg.GitOwner, cfg.GitRepo); err != nil {
				return err
			}

			controller, err := r.connect(ctx)
			if err != nil {
				return err
			}
			return controller.RegisterRepository(ctx, gitops.Repository{
				URL:      cfg.GitRepoURL,
				Username: cfg.GitOwner,
				Password: cfg.GitHubToken,
			})
		},
	}
}

func (r *Runtime) createApplication() Step {
	cfg := r.Config
	return Step{
		Name: "create-application",
		Run: func(ctx context.Context) error {
			controller, err := r.connect(ctx)
			if err != nil {
				return err
			}
			return controller.UpsertApplication(ctx, gitops.Application{
				Name:      cfg.AppName,
				Namespace: cfg.GitOpsNamespace,
				RepoURL:   cfg.GitRepoURL,
				Path:      cfg.ManifestDir,
				TargetNS:  cfg.Namespace,
				AutoSync:  true,
				SelfHeal:  true,
				CreateNS:  true,
			})
		},
	}
}

// generateAPIToken mints a fresh token, persists it to the store and
// pushes it to the source-control host. Never skipped: each run invalidates
// the previous token, so the propagation must follow every generation.
func (r *Runtime) generateAPIToken() Step {
	cfg := r.Config
	return Step{
		Name: "generate-api-token",
		Run: func(ctx context.Context) error {
			controller, err := r.connect(ctx)
			if err != nil {
				return err
			}

			token, err := controller.GenerateToken(ctx, gitops.AdminAccount)
			if err != nil {
				return err
			}

			if err := r.Store.Set(config.KeyArgoCDToken, token); err != nil {
				return fmt.Errorf("failed to persist token: %w", err)
			}

			if err := r.SCM.SetRepositorySecret(
				ctx, cfg.GitOwner, cfg.GitRepo, SecretNameToken, token); err != nil {
				return fmt.Errorf(
					"token generated and stored, but pushing repository secret %s failed; set it manually and re-run if needed: %w",
					SecretNameToken, err)
			}

			return nil
		},
	}
}
