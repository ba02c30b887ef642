package credentials

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func generatePrivateKeyPEM(t *testing.T) []byte {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := gossh.MarshalPrivateKey(priv, "test key")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func TestStore_Method(t *testing.T) {
	keyPEM := generatePrivateKeyPEM(t)

	store := NewStore()
	store.Bind("https://github.com/org/repo", NewUsernamePassword("up", "alice", "pass"))
	store.Bind("https://gitlab.com/org/repo", NewToken("tok", "glpat-123"))
	store.Bind("ssh://git@github.com/org/repo", NewSSHPrivateKey("key", "", keyPEM, ""))
	store.Bind("ssh://deploy@bitbucket.org/org/repo", NewUsernamePassword("sshpass", "", "pw"))
	store.Bind("https://broken.example.com/repo", NewSSHPrivateKey("wrong", "", keyPEM, ""))

	t.Run("https basic auth", func(t *testing.T) {
		auth, err := store.Method("https://github.com/org/repo.git")
		require.NoError(t, err)
		assert.Equal(t, &githttp.BasicAuth{Username: "alice", Password: "pass"}, auth)
	})

	t.Run("https token", func(t *testing.T) {
		auth, err := store.Method("https://gitlab.com/org/repo")
		require.NoError(t, err)
		assert.Equal(t, &githttp.BasicAuth{Username: DefaultTokenUsername, Password: "glpat-123"}, auth)
	})

	t.Run("ssh public keys", func(t *testing.T) {
		auth, err := store.Method("ssh://git@github.com/org/repo.git")
		require.NoError(t, err)
		keys, ok := auth.(*gitssh.PublicKeys)
		require.True(t, ok, "expected *ssh.PublicKeys, got %T", auth)
		assert.Equal(t, DefaultSSHUsername, keys.User)
	})

	t.Run("ssh password uses url user", func(t *testing.T) {
		auth, err := store.Method("ssh://deploy@bitbucket.org/org/repo")
		require.NoError(t, err)
		assert.Equal(t, &gitssh.Password{User: "deploy", Password: "pw"}, auth)
	})

	t.Run("key credential on https is unsupported", func(t *testing.T) {
		auth, err := store.Method("https://broken.example.com/repo")
		assert.Nil(t, auth)
		assert.ErrorIs(t, err, ErrUnsupportedCredentialItem)
	})

	t.Run("no credential means anonymous", func(t *testing.T) {
		auth, err := NewStore().Method("https://example.com/repo")
		require.NoError(t, err)
		assert.Nil(t, auth)
	})

	t.Run("local paths are anonymous", func(t *testing.T) {
		for _, u := range []string{"/srv/git/repo", "file:///srv/git/repo", "./relative"} {
			auth, err := store.Method(u)
			require.NoError(t, err, u)
			assert.Nil(t, auth, u)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		auth, err := store.Method("https://")
		require.Error(t, err)
		assert.Nil(t, auth)
	})
}
