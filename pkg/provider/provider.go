// Package provider holds what the speech-to-text and translation gateways
// share: the missing credential error and the interface a gateway implements
// to report that it has been configured with one.
package provider

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned when a gateway that requires an API key or
// token has none. It is raised before any audio work starts.
var ErrMissingCredential = errors.New("provider: missing credential")

// CredentialChecker is implemented by gateways that need a credential.
// Gateways that do not implement it are assumed to need none.
type CredentialChecker interface {
	// CheckCredentials returns an error wrapping [ErrMissingCredential] when
	// the gateway cannot authenticate.
	CheckCredentials() error
}

// CheckCredentials runs v's credential check when v implements
// [CredentialChecker]. name identifies the gateway in the returned error.
func CheckCredentials(name string, v any) error {
	cc, ok := v.(CredentialChecker)
	if !ok {
		return nil
	}
	if err := cc.CheckCredentials(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// MissingCredential returns an error wrapping [ErrMissingCredential] for the
// named gateway.
func MissingCredential(gateway string) error {
	return fmt.Errorf("%w for %s", ErrMissingCredential, gateway)
}
