package hostkey

import (
	"log/slog"
	"os"
	"slices"

	"golang.org/x/crypto/ssh"
)

// NoVerification accepts every host key. It is the least secure policy and is
// announced with a warning every time it is materialized.
type NoVerification struct {
	logger *slog.Logger
}

// NewNoVerification creates the policy.
func NewNoVerification(opts ...Option) *NoVerification {
	cfg := newConfig(opts)
	return &NoVerification{logger: cfg.logger}
}

// Name implements Strategy.
func (s *NoVerification) Name() string { return NameNone }

// Insecure implements Strategy.
func (s *NoVerification) Insecure() bool { return true }

func (s *NoVerification) strategy() {}

// ExternalProcessOptions implements Strategy.
func (s *NoVerification) ExternalProcessOptions(_ string) (string, error) {
	s.warn()
	return sshOptions(
		"StrictHostKeyChecking", "no",
		"UserKnownHostsFile", os.DevNull,
		"GlobalKnownHostsFile", os.DevNull,
	), nil
}

// EmbeddedVerifier implements Strategy.
func (s *NoVerification) EmbeddedVerifier() (ssh.HostKeyCallback, error) {
	s.warn()
	//nolint:gosec // this policy exists to disable verification
	return ssh.InsecureIgnoreHostKey(), nil
}

// HostKeyAlgorithms implements Strategy.
func (s *NoVerification) HostKeyAlgorithms(_ string) ([]string, error) {
	return slices.Clone(defaultHostKeyAlgorithms), nil
}

func (s *NoVerification) warn() {
	s.logger.Warn("host key verification is disabled; any host key will be accepted",
		"strategy", NameNone)
}
