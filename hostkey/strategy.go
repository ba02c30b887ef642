// Package hostkey decides whether a remote SSH host key is trusted.
//
// A Strategy is one of four closed policies: AcceptFirstUse, KnownHostsFile,
// ManuallyProvidedKeys and NoVerification. Every policy is materialized in two
// shapes, an OpenSSH option string for the CLI backend and an
// ssh.HostKeyCallback for the embedded backend, and both shapes reach the same
// accept/reject decision for the same host and key.
//
// Strategies are immutable after construction and may be shared by concurrent
// connections. Materialization is done once per connection attempt and never
// cached, because the known-hosts file may change between attempts.
package hostkey

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
)

// Strategy is a host key trust policy.
type Strategy interface {
	// Name is the stable identifier of the policy, as accepted by Parse.
	Name() string

	// Insecure reports whether the policy accepts unknown or changed keys without checks.
	Insecure() bool

	// ExternalProcessOptions returns OpenSSH command-line options implementing the
	// policy, already quoted for inclusion in GIT_SSH_COMMAND. tempFile is a
	// caller-owned path that policies may write to; the caller removes it once
	// the command has completed.
	ExternalProcessOptions(tempFile string) (string, error)

	// EmbeddedVerifier returns a host key callback implementing the policy.
	EmbeddedVerifier() (ssh.HostKeyCallback, error)

	// HostKeyAlgorithms returns the host key algorithms the embedded client
	// offers when dialing hostWithPort, so that it negotiates a key type the
	// policy can verify, as OpenSSH does. Nil leaves the ssh package defaults.
	HostKeyAlgorithms(hostWithPort string) ([]string, error)

	strategy()
}

// Policy names accepted by Parse.
const (
	NameAcceptFirstUse = "accept-first-use"
	NameKnownHostsFile = "known-hosts-file"
	NameManual         = "manual"
	NameNone           = "none"
)

// ErrHostKeyRejected is matched by every host key rejection.
var ErrHostKeyRejected = errors.New("host key rejected")

// RejectedError reports why a host key was not trusted.
type RejectedError struct {
	Host   string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("host key for %s rejected: %s", e.Host, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is match ErrHostKeyRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrHostKeyRejected
}

// Unwrap returns the underlying lookup error, if any.
func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Option configures a Strategy.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for diagnostics such as a missing known-hosts file.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConfig(opts []Option) config {
	c := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// DefaultKnownHostsPath returns the user's OpenSSH known-hosts file.
func DefaultKnownHostsPath() string {
	return filepath.Join(xdg.Home, ".ssh", "known_hosts")
}

// Parse builds a strategy from its name and a policy-specific value: the
// known-hosts path for accept-first-use and known-hosts-file (empty selects
// DefaultKnownHostsPath), the key data for manual, and nothing for none.
//
//nolint:ireturn // Strategy is a closed set of variants
func Parse(name, value string, opts ...Option) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameAcceptFirstUse, "":
		return NewAcceptFirstUse(value, opts...), nil
	case NameKnownHostsFile:
		return NewKnownHostsFile(value, opts...), nil
	case NameManual:
		s, err := NewManuallyProvidedKeys(value, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case NameNone:
		return NewNoVerification(opts...), nil
	default:
		return nil, fmt.Errorf("unknown host key strategy %q", name)
	}
}

// defaultHostKeyAlgorithms is OpenSSH's preference order for hosts without a
// recorded key.
var defaultHostKeyAlgorithms = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
	ssh.KeyAlgoRSASHA512,
	ssh.KeyAlgoRSASHA256,
}

// keyAlgorithms returns the signature algorithms that can be verified with a
// key of the given type. RSA keys sign with SHA-2 first.
func keyAlgorithms(keyType string) []string {
	if keyType == ssh.KeyAlgoRSA {
		return []string{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA}
	}
	return []string{keyType}
}

// sshOptions renders key/value pairs as quoted "-o key=value" arguments.
func sshOptions(kv ...string) string {
	args := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		args = append(args, "-o", kv[i]+"="+kv[i+1])
	}
	return shellquote.Join(args...)
}
