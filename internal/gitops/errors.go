package gitops

import "fmt"

// CredentialUnavailableError indicates the bootstrap credential secret is
// missing, typically because it was rotated or deleted after initial setup.
type CredentialUnavailableError struct {
	Secret    string
	Namespace string
}

func (e *CredentialUnavailableError) Error() string {
	return fmt.Sprintf(
		"bootstrap credential secret %s/%s is unavailable; recover the admin password manually and re-run",
		e.Namespace, e.Secret,
	)
}

// AuthFailedError indicates the controller API rejected the credentials.
type AuthFailedError struct {
	Account string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("controller API authentication failed for account %q", e.Account)
}
