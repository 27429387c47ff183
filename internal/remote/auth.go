package remote

import (
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// Authenticator provides authentication for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry.
	Authenticate(registry string) (authn.Authenticator, error)
}

// KeychainAuthenticator resolves credentials from the Docker config and
// credential helpers.
type KeychainAuthenticator struct {
	Keychain authn.Keychain
}

// NewDefaultAuthenticator uses authn.DefaultKeychain.
func NewDefaultAuthenticator() *KeychainAuthenticator {
	return &KeychainAuthenticator{Keychain: authn.DefaultKeychain}
}

func (a *KeychainAuthenticator) Authenticate(registry string) (authn.Authenticator, error) {
	reg, err := name.NewRegistry(registry)
	if err != nil {
		return nil, err
	}
	return a.Keychain.Resolve(reg)
}

// StaticAuthenticator uses fixed basic credentials for every registry. An
// empty username means anonymous access.
type StaticAuthenticator struct {
	Username string
	Password string
}

func (a StaticAuthenticator) Authenticate(string) (authn.Authenticator, error) {
	if a.Username == "" {
		return authn.Anonymous, nil
	}
	return &authn.Basic{Username: a.Username, Password: a.Password}, nil
}
