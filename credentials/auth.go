package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Method resolves the credential for remoteURL and projects it onto a go-git
// transport.AuthMethod for the embedded backend.
//
// Returns nil when no credential applies or the URL is local, so that the
// operation proceeds anonymously. Host-key verification is not configured
// here; callers set HostKeyCallback on SSH methods themselves.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (s *Store) Method(remoteURL string) (transport.AuthMethod, error) {
	if isLocal(remoteURL) {
		return nil, nil
	}

	ep, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}

	c, err := s.Resolve(remoteURL)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case ep.IsHTTP():
		return buildBasicAuth(c)
	case ep.IsSSH():
		return buildSSHAuth(c, ep)
	default:
		// git:// has no authentication.
		return nil, nil
	}
}

//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func buildBasicAuth(c Credential) (transport.AuthMethod, error) {
	user := &UsernameItem{}
	pass := &PasswordItem{}
	for _, item := range []Item{user, pass} {
		if !item.fill(c) {
			return nil, &UnsupportedItemError{CredentialID: c.ID(), Item: item.Name()}
		}
	}
	defer pass.Clear()

	return &githttp.BasicAuth{
		Username: user.Value,
		Password: string(pass.Value()),
	}, nil
}

//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func buildSSHAuth(c Credential, ep Endpoint) (transport.AuthMethod, error) {
	switch cred := c.(type) {
	case *SSHPrivateKey:
		auth, err := gitssh.NewPublicKeys(sshUser(cred.Username(), ep), cred.PrivateKey(), cred.Passphrase())
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key %q: %w", cred.ID(), err)
		}
		return auth, nil
	case PasswordCredential:
		user := DefaultSSHUsername
		if uc, ok := c.(UsernameCredential); ok {
			user = sshUser(uc.Username(), ep)
		}
		return &gitssh.Password{User: user, Password: cred.Password()}, nil
	default:
		return nil, &UnsupportedItemError{CredentialID: c.ID(), Item: "ssh key"}
	}
}

// sshUser prefers the credential's username, then the one embedded in the URL.
func sshUser(username string, ep Endpoint) string {
	if username != "" {
		return username
	}
	if ep.User != "" {
		return ep.User
	}
	return DefaultSSHUsername
}

func isLocal(remoteURL string) bool {
	if strings.HasPrefix(remoteURL, "file://") {
		return true
	}
	if strings.Contains(remoteURL, "://") {
		return false
	}
	_, scp := parseSCPLike(remoteURL)
	return !scp
}
