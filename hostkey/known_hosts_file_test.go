package hostkey

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownHostsFile_MissingFile(t *testing.T) {
	logger, logs := newTestLogger()
	s := NewKnownHostsFile(filepath.Join(t.TempDir(), "missing"), WithLogger(logger))
	key := newTestKey(t)

	for i := 0; i < 3; i++ {
		verify, err := s.EmbeddedVerifier()
		require.NoError(t, err)
		err = verify("example.com:22", remoteAddr(22), key)
		assert.ErrorIs(t, err, ErrHostKeyRejected)

		_, err = s.ExternalProcessOptions("")
		require.NoError(t, err)
	}

	lines := logs.Lines()
	require.Len(t, lines, 1, "the hint must be logged once per session")
	assert.Contains(t, lines[0], "level=WARN")
	assert.Contains(t, lines[0], "not found")
}

func TestKnownHostsFile_Verify(t *testing.T) {
	known := newTestKey(t)
	other := newTestKey(t)

	path := filepath.Join(t.TempDir(), "known_hosts")
	content := strings.Join([]string{
		"# comment",
		knownHostsLine(known, "github.com"),
		knownHostsLine(known, "[git.example.com]:2222"),
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	verify, err := NewKnownHostsFile(path).EmbeddedVerifier()
	require.NoError(t, err)

	tests := []struct {
		name     string
		host     string
		port     int
		accepted bool
		reason   string
	}{
		{name: "known host and key", host: "github.com:22", port: 22, accepted: true},
		{name: "non-standard port", host: "git.example.com:2222", port: 2222, accepted: true},
		{name: "unknown host", host: "gitlab.com:22", port: 22, reason: "not in known hosts"},
		{name: "port mismatch", host: "git.example.com:22", port: 22, reason: "not in known hosts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verify(tt.host, remoteAddr(tt.port), known)
			if tt.accepted {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrHostKeyRejected)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}

	t.Run("changed key", func(t *testing.T) {
		err := verify("github.com:22", remoteAddr(22), other)
		require.ErrorIs(t, err, ErrHostKeyRejected)
		assert.Contains(t, err.Error(), "does not match")
	})
}

func TestKnownHostsFile_PicksUpNewFile(t *testing.T) {
	logger, logs := newTestLogger()
	path := filepath.Join(t.TempDir(), "known_hosts")
	s := NewKnownHostsFile(path, WithLogger(logger))
	key := newTestKey(t)

	verify, err := s.EmbeddedVerifier()
	require.NoError(t, err)
	require.ErrorIs(t, verify("github.com:22", remoteAddr(22), key), ErrHostKeyRejected)

	require.NoError(t, os.WriteFile(path, []byte(knownHostsLine(key, "github.com")+"\n"), 0o600))

	verify, err = s.EmbeddedVerifier()
	require.NoError(t, err)
	assert.NoError(t, verify("github.com:22", remoteAddr(22), key))
	assert.Len(t, logs.Lines(), 1)
}
