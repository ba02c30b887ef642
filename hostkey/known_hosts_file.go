package hostkey

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
)

// KnownHostsFile trusts only host/key pairs already present in a known-hosts file.
// When the file does not exist every connection is rejected and a single hint
// is logged for the lifetime of the strategy.
type KnownHostsFile struct {
	path     string
	logger   *slog.Logger
	hintOnce *sync.Once
}

// NewKnownHostsFile creates the policy for the file at path.
// An empty path selects DefaultKnownHostsPath.
func NewKnownHostsFile(path string, opts ...Option) *KnownHostsFile {
	if path == "" {
		path = DefaultKnownHostsPath()
	}
	cfg := newConfig(opts)
	return &KnownHostsFile{
		path:     path,
		logger:   cfg.logger,
		hintOnce: &sync.Once{},
	}
}

// Path returns the known-hosts file consulted by the policy.
func (s *KnownHostsFile) Path() string { return s.path }

// Name implements Strategy.
func (s *KnownHostsFile) Name() string { return NameKnownHostsFile }

// Insecure implements Strategy.
func (s *KnownHostsFile) Insecure() bool { return false }

func (s *KnownHostsFile) strategy() {}

// ExternalProcessOptions implements Strategy.
func (s *KnownHostsFile) ExternalProcessOptions(_ string) (string, error) {
	s.exists()
	return sshOptions(
		"StrictHostKeyChecking", "yes",
		"UserKnownHostsFile", s.path,
		"GlobalKnownHostsFile", os.DevNull,
	), nil
}

// EmbeddedVerifier implements Strategy.
func (s *KnownHostsFile) EmbeddedVerifier() (ssh.HostKeyCallback, error) {
	if !s.exists() {
		return func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
			return &RejectedError{Host: hostname, Reason: fmt.Sprintf("known hosts file %s does not exist", s.path)}
		}, nil
	}

	db, err := knownhosts.NewDB(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts file %s: %w", s.path, err)
	}
	verify := db.HostKeyCallback()

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		switch {
		case err == nil:
			return nil
		case knownhosts.IsHostKeyChanged(err):
			return &RejectedError{Host: hostname, Reason: "host key does not match known hosts file", Err: err}
		case knownhosts.IsHostUnknown(err):
			return &RejectedError{Host: hostname, Reason: "host is not in known hosts file", Err: err}
		default:
			return &RejectedError{Host: hostname, Reason: "host key verification failed", Err: err}
		}
	}, nil
}

// HostKeyAlgorithms implements Strategy. The key types recorded for the host
// are offered so that a host serving several key types is verified against
// the one in the file.
func (s *KnownHostsFile) HostKeyAlgorithms(hostWithPort string) ([]string, error) {
	if !s.exists() {
		return nil, nil
	}
	db, err := knownhosts.NewDB(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts file %s: %w", s.path, err)
	}
	return db.HostKeyAlgorithms(hostWithPort), nil
}

// exists reports whether the file is present, logging the hint the first time it is not.
func (s *KnownHostsFile) exists() bool {
	_, err := os.Stat(s.path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return true
	}
	s.hintOnce.Do(func() {
		s.logger.Warn(fmt.Sprintf(
			"known hosts file %s not found; connect once with ssh or switch to %s to populate it, all host keys will be rejected until then",
			s.path, NameAcceptFirstUse))
	})
	return false
}
