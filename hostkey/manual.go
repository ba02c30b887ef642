package hostkey

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
)

// ManuallyProvidedKeys trusts only the host/key pairs in caller-supplied
// known-hosts formatted text.
type ManuallyProvidedKeys struct {
	keyData string
	keys    *keySet
	logger  *slog.Logger
}

// NewManuallyProvidedKeys parses keyData, which uses the OpenSSH known-hosts
// format including hashed host entries.
func NewManuallyProvidedKeys(keyData string, opts ...Option) (*ManuallyProvidedKeys, error) {
	keys, err := parseKeySet([]byte(keyData))
	if err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	return &ManuallyProvidedKeys{
		keyData: keyData,
		keys:    keys,
		logger:  cfg.logger,
	}, nil
}

// KeyData returns the key text as supplied.
func (s *ManuallyProvidedKeys) KeyData() string { return s.keyData }

// Name implements Strategy.
func (s *ManuallyProvidedKeys) Name() string { return NameManual }

// Insecure implements Strategy.
func (s *ManuallyProvidedKeys) Insecure() bool { return false }

func (s *ManuallyProvidedKeys) strategy() {}

// ExternalProcessOptions implements Strategy. The key data is written to
// tempFile, which ssh then uses as its only known-hosts file.
func (s *ManuallyProvidedKeys) ExternalProcessOptions(tempFile string) (string, error) {
	if tempFile == "" {
		return "", errors.New("manually provided host keys require a temporary file")
	}
	if err := os.WriteFile(tempFile, []byte(s.keyData+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write known hosts file: %w", err)
	}
	return sshOptions(
		"StrictHostKeyChecking", "yes",
		"UserKnownHostsFile", tempFile,
		"GlobalKnownHostsFile", os.DevNull,
	), nil
}

// EmbeddedVerifier implements Strategy.
func (s *ManuallyProvidedKeys) EmbeddedVerifier() (ssh.HostKeyCallback, error) {
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		switch s.keys.lookup(hostname, key) {
		case hostKeyMatch:
			return nil
		case hostKeyChanged:
			return &RejectedError{Host: hostname, Reason: "host key does not match provided keys"}
		case hostKeyRevoked:
			return &RejectedError{Host: hostname, Reason: "host key is revoked"}
		default:
			return &RejectedError{Host: hostname, Reason: "host is not in provided keys"}
		}
	}, nil
}

// HostKeyAlgorithms implements Strategy. Only the types of the keys provided
// for the host are offered.
func (s *ManuallyProvidedKeys) HostKeyAlgorithms(hostWithPort string) ([]string, error) {
	return s.keys.algorithms(hostWithPort), nil
}
