package hostkey

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"
	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
	xknownhosts "golang.org/x/crypto/ssh/knownhosts"
)

// AcceptFirstUse trusts any host it has not seen before and records its key,
// but rejects a key that contradicts one already recorded for the same host.
type AcceptFirstUse struct {
	path      string
	hashHosts bool
	logger    *slog.Logger

	// mu serializes appends from concurrent connections in this process;
	// the file lock covers other processes.
	mu *sync.Mutex
}

// NewAcceptFirstUse creates the policy backed by the known-hosts file at path.
// An empty path selects DefaultKnownHostsPath.
func NewAcceptFirstUse(path string, opts ...Option) *AcceptFirstUse {
	if path == "" {
		path = DefaultKnownHostsPath()
	}
	cfg := newConfig(opts)
	return &AcceptFirstUse{
		path:   path,
		logger: cfg.logger,
		mu:     &sync.Mutex{},
	}
}

// WithHashedHosts returns a copy that records new hosts in hashed form.
func (s *AcceptFirstUse) WithHashedHosts() *AcceptFirstUse {
	c := *s
	c.hashHosts = true
	return &c
}

// Path returns the known-hosts file that accepted keys are written to.
func (s *AcceptFirstUse) Path() string { return s.path }

// Name implements Strategy.
func (s *AcceptFirstUse) Name() string { return NameAcceptFirstUse }

// Insecure implements Strategy.
func (s *AcceptFirstUse) Insecure() bool { return false }

func (s *AcceptFirstUse) strategy() {}

// ExternalProcessOptions implements Strategy. ssh accepts unseen keys, rejects
// changed ones and persists accepted keys to the known-hosts file.
func (s *AcceptFirstUse) ExternalProcessOptions(_ string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create known hosts directory: %w", err)
	}

	kv := []string{
		"StrictHostKeyChecking", "accept-new",
		"UserKnownHostsFile", s.path,
		"GlobalKnownHostsFile", os.DevNull,
	}
	if s.hashHosts {
		kv = append(kv, "HashKnownHosts", "yes")
	}
	return sshOptions(kv...), nil
}

// EmbeddedVerifier implements Strategy.
func (s *AcceptFirstUse) EmbeddedVerifier() (ssh.HostKeyCallback, error) {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		result, err := s.check(hostname, remote, key)
		if err != nil {
			return err
		}
		switch result {
		case hostKeyMatch:
			return nil
		case hostKeyChanged:
			return &RejectedError{Host: hostname, Reason: "host key has changed"}
		case hostKeyRevoked:
			return &RejectedError{Host: hostname, Reason: "host key is revoked"}
		case hostUnknown:
			return s.record(hostname, remote, key)
		}
		return nil
	}, nil
}

// HostKeyAlgorithms implements Strategy. Recorded hosts offer their recorded
// key types; new hosts use OpenSSH's preference so that both backends record
// the same key.
func (s *AcceptFirstUse) HostKeyAlgorithms(hostWithPort string) ([]string, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return slices.Clone(defaultHostKeyAlgorithms), nil
	}
	db, err := knownhosts.NewDB(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts file %s: %w", s.path, err)
	}
	if algos := db.HostKeyAlgorithms(hostWithPort); len(algos) > 0 {
		return algos, nil
	}
	return slices.Clone(defaultHostKeyAlgorithms), nil
}

// check classifies key against the current contents of the known-hosts file.
func (s *AcceptFirstUse) check(hostname string, remote net.Addr, key ssh.PublicKey) (lookupResult, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return hostUnknown, nil
	}

	db, err := knownhosts.NewDB(s.path)
	if err != nil {
		return hostUnknown, &RejectedError{Host: hostname, Reason: "cannot read known hosts file", Err: err}
	}

	err = db.HostKeyCallback()(hostname, remote, key)
	switch {
	case err == nil:
		return hostKeyMatch, nil
	case knownhosts.IsHostKeyChanged(err):
		return hostKeyChanged, nil
	case knownhosts.IsHostUnknown(err):
		return hostUnknown, nil
	default:
		var revoked *xknownhosts.RevokedError
		if errors.As(err, &revoked) {
			return hostKeyRevoked, nil
		}
		return hostUnknown, &RejectedError{Host: hostname, Reason: "known hosts lookup failed", Err: err}
	}
}

// record appends key for hostname. The file is checked again under the lock
// so that two connections racing to the same new host cannot record
// conflicting keys.
func (s *AcceptFirstUse) record(hostname string, remote net.Addr, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &RejectedError{Host: hostname, Reason: "cannot create known hosts directory", Err: err}
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return &RejectedError{Host: hostname, Reason: "cannot lock known hosts file", Err: err}
	}
	defer func() { _ = lock.Unlock() }()

	result, err := s.check(hostname, remote, key)
	if err != nil {
		return err
	}
	switch result {
	case hostKeyMatch:
		return nil
	case hostKeyChanged:
		return &RejectedError{Host: hostname, Reason: "host key has changed"}
	case hostKeyRevoked:
		return &RejectedError{Host: hostname, Reason: "host key is revoked"}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return &RejectedError{Host: hostname, Reason: "cannot open known hosts file", Err: err}
	}
	defer f.Close()

	if s.hashHosts {
		line := xknownhosts.Line([]string{xknownhosts.HashHostname(hostname)}, key)
		_, err = fmt.Fprintln(f, line)
	} else {
		err = knownhosts.WriteKnownHost(f, hostname, remote, key)
	}
	if err != nil {
		return &RejectedError{Host: hostname, Reason: "cannot write known hosts file", Err: err}
	}

	s.logger.Info("recorded new host key",
		"host", knownhosts.Normalize(hostname),
		"type", key.Type(),
		"fingerprint", ssh.FingerprintSHA256(key),
		"file", s.path)
	return nil
}
