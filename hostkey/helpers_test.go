package hostkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// newTestKey generates a fresh ed25519 host key.
func newTestKey(t *testing.T) ssh.PublicKey {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func remoteAddr(port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: port}
}

// logBuffer is a concurrency-safe line sink for slog.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Lines() []string {
	s := strings.TrimRight(b.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, nil)), buf
}

func marshalAuthorized(key ssh.PublicKey) []byte {
	return ssh.MarshalAuthorizedKey(key)
}

// knownHostsLine renders a plain known-hosts line for the given host patterns.
func knownHostsLine(key ssh.PublicKey, patterns ...string) string {
	return strings.Join(patterns, ",") + " " + strings.TrimSpace(string(marshalAuthorized(key)))
}
