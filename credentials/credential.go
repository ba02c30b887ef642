// Package credentials resolves which caller-supplied credential applies to a
// git remote URL.
//
// A Store holds one optional default credential and any number of URL-scoped
// bindings. Lookups match the normalized URL first, then fall back to the
// default credential, then to any binding that targets the same
// scheme, host and port. The store is consulted identically by the CLI and the
// embedded backends.
package credentials

// Credential is caller-supplied secret material. The store never mutates a
// credential; it only reads it through the capability interfaces below.
type Credential interface {
	// ID identifies the credential in diagnostics. It must not reveal secret material.
	ID() string
}

// UsernameCredential is a credential that can fill a username item.
type UsernameCredential interface {
	Credential
	Username() string
}

// PasswordCredential is a credential that can fill a password item.
type PasswordCredential interface {
	Credential
	Password() string
}

// UsernamePassword is a plain username/password pair.
type UsernamePassword struct {
	id       string
	username string
	password string
}

// NewUsernamePassword creates a username/password credential.
func NewUsernamePassword(id, username, password string) *UsernamePassword {
	return &UsernamePassword{id: id, username: username, password: password}
}

// ID implements Credential.
func (c *UsernamePassword) ID() string { return c.id }

// Username implements UsernameCredential.
func (c *UsernamePassword) Username() string { return c.username }

// Password implements PasswordCredential.
func (c *UsernamePassword) Password() string { return c.password }

// DefaultTokenUsername is the username sent alongside access tokens.
// Most git hosts (GitHub, GitLab, Bitbucket) ignore it but require it to be non-empty.
const DefaultTokenUsername = "token"

// Token is an access token presented as the password of a basic-auth exchange.
type Token struct {
	id       string
	username string
	token    string
}

// NewToken creates a token credential using DefaultTokenUsername.
func NewToken(id, token string) *Token {
	return &Token{id: id, username: DefaultTokenUsername, token: token}
}

// WithUsername overrides the username sent with the token.
func (c *Token) WithUsername(username string) *Token {
	c.username = username
	return c
}

// ID implements Credential.
func (c *Token) ID() string { return c.id }

// Username implements UsernameCredential.
func (c *Token) Username() string { return c.username }

// Password implements PasswordCredential.
func (c *Token) Password() string { return c.token }

// DefaultSSHUsername is used when an SSH key credential has no username.
const DefaultSSHUsername = "git"

// SSHPrivateKey is an SSH user with a private key. It only satisfies the
// username capability: the key itself never fills a password prompt.
type SSHPrivateKey struct {
	id         string
	username   string
	privateKey []byte
	passphrase string
}

// NewSSHPrivateKey creates an SSH key credential. An empty username defaults to DefaultSSHUsername.
func NewSSHPrivateKey(id, username string, privateKey []byte, passphrase string) *SSHPrivateKey {
	if username == "" {
		username = DefaultSSHUsername
	}
	return &SSHPrivateKey{
		id:         id,
		username:   username,
		privateKey: privateKey,
		passphrase: passphrase,
	}
}

// ID implements Credential.
func (c *SSHPrivateKey) ID() string { return c.id }

// Username implements UsernameCredential.
func (c *SSHPrivateKey) Username() string { return c.username }

// PrivateKey returns the PEM encoded private key.
func (c *SSHPrivateKey) PrivateKey() []byte { return c.privateKey }

// Passphrase returns the passphrase of an encrypted private key.
func (c *SSHPrivateKey) Passphrase() string { return c.passphrase }
