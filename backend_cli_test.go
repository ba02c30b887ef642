package gitclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/shlex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/hostkey"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/internal/executor"
)

// fakeGit records its arguments, environment and scratch directory, then
// prints a fixed ls-remote listing.
const fakeGit = `#!/bin/sh
printf '%s\n' "$@" > "$FAKE_GIT_OUT/args"
env > "$FAKE_GIT_OUT/env"
ls -A . > "$FAKE_GIT_OUT/scope"
if [ -f known_hosts ]; then cp known_hosts "$FAKE_GIT_OUT/known_hosts"; fi
printf '1111111111111111111111111111111111111111\tHEAD\n'
printf '1111111111111111111111111111111111111111\trefs/heads/main\n'
printf '2222222222222222222222222222222222222222\trefs/tags/v1.0.0\n'
printf 'note: served by fake git\n' >&2
`

type fakeGitRun struct {
	args  []string
	env   map[string]string
	scope []string
	out   string
}

func newFakeGitClient(t *testing.T, store *credentials.Store, strategy hostkey.Strategy, mods ...func(*Options)) (*Client, string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(script, []byte(fakeGit), 0o700))
	out := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(out, 0o700))

	opts := &Options{
		Backend:       BackendCLI,
		GitExecutable: script,
		Credentials:   store,
		HostKeys:      strategy,
		TempDir:       t.TempDir(),
		Env:           map[string]string{"FAKE_GIT_OUT": out},
	}
	for _, mod := range mods {
		mod(opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c, out
}

func readFakeGitRun(t *testing.T, out string) fakeGitRun {
	t.Helper()
	run := fakeGitRun{env: map[string]string{}, out: out}

	args, err := os.ReadFile(filepath.Join(out, "args"))
	require.NoError(t, err)
	run.args = strings.Split(strings.TrimSpace(string(args)), "\n")

	env, err := os.Open(filepath.Join(out, "env"))
	require.NoError(t, err)
	defer env.Close()
	scanner := bufio.NewScanner(env)
	for scanner.Scan() {
		if k, v, ok := strings.Cut(scanner.Text(), "="); ok {
			run.env[k] = v
		}
	}

	scope, err := os.ReadFile(filepath.Join(out, "scope"))
	require.NoError(t, err)
	run.scope = strings.Fields(string(scope))
	return run
}

func TestCLIBackend_LsRemoteParsesOutput(t *testing.T) {
	c, _ := newFakeGitClient(t, credentials.NewStore(), hostkey.NewNoVerification())

	refs, err := c.LsRemote(context.Background(), "https://git.example.com/org/repo.git")
	require.NoError(t, err)

	want := map[string]string{
		"HEAD":             "1111111111111111111111111111111111111111",
		"refs/heads/main":  "1111111111111111111111111111111111111111",
		"refs/tags/v1.0.0": "2222222222222222222222222222222222222222",
	}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("LsRemote() mismatch (-want +got):\n%s", diff)
	}
}

func TestCLIBackend_HTTPSCredentialsStayOutOfArgv(t *testing.T) {
	store := credentials.NewStore()
	store.Bind("https://git.example.com/org/repo", credentials.NewToken("ci", "s3cr3t-token"))
	c, out := newFakeGitClient(t, store, hostkey.NewNoVerification())

	_, err := c.LsRemote(context.Background(), "https://git.example.com/org/repo.git")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	assert.Equal(t, []string{"ls-remote", "--", "https://git.example.com/org/repo.git"}, run.args)
	for _, arg := range run.args {
		assert.NotContains(t, arg, "s3cr3t-token")
	}

	assert.Equal(t, "0", run.env["GIT_TERMINAL_PROMPT"])
	assert.Equal(t, "1", run.env["GIT_CONFIG_COUNT"])
	assert.Equal(t, "http.https://git.example.com:443/.extraHeader", run.env["GIT_CONFIG_KEY_0"])

	header := strings.TrimPrefix(run.env["GIT_CONFIG_VALUE_0"], "Authorization: Basic ")
	decoded, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)
	assert.Equal(t, "token:s3cr3t-token", string(decoded))

	_, hasSSH := run.env["GIT_SSH_COMMAND"]
	assert.False(t, hasSSH, "http remotes do not configure ssh")
}

func TestCLIBackend_ExtraGitConfig(t *testing.T) {
	store := credentials.NewStore()
	store.SetDefault(credentials.NewUsernamePassword("default", "alice", "pw"))
	c, out := newFakeGitClient(t, store, hostkey.NewNoVerification())
	c.backend.(*cliBackend).gitConfig = map[string]string{"protocol.file.allow": "always"}

	_, err := c.LsRemote(context.Background(), "http://mirror.internal/repo")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	assert.Equal(t, "2", run.env["GIT_CONFIG_COUNT"])
	assert.Equal(t, "protocol.file.allow", run.env["GIT_CONFIG_KEY_0"])
	assert.Equal(t, "always", run.env["GIT_CONFIG_VALUE_0"])
	assert.Equal(t, "http.http://mirror.internal:80/.extraHeader", run.env["GIT_CONFIG_KEY_1"])
}

func TestCLIBackend_SSHKeyAndHostKeyOptions(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	store := credentials.NewStore()
	store.Bind("git@github.com:org/repo.git", credentials.NewSSHPrivateKey("deploy", "", pem.EncodeToMemory(block), ""))

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	c, out := newFakeGitClient(t, store, hostkey.NewKnownHostsFile(knownHosts))

	_, err = c.LsRemote(context.Background(), "git@github.com:org/repo.git")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	words, err := shlex.Split(run.env["GIT_SSH_COMMAND"])
	require.NoError(t, err)
	require.NotEmpty(t, words)
	assert.Equal(t, "ssh", words[0])
	assert.Contains(t, words, "BatchMode=yes")
	assert.Contains(t, words, "StrictHostKeyChecking=yes")
	assert.Contains(t, words, "UserKnownHostsFile="+knownHosts)
	assert.Equal(t, "ssh", run.env["GIT_SSH_VARIANT"])

	identity := ""
	user := ""
	for i := 0; i < len(words)-1; i++ {
		switch words[i] {
		case "-i":
			identity = words[i+1]
		case "-l":
			user = words[i+1]
		}
	}
	assert.Equal(t, "git", user)
	require.NotEmpty(t, identity)
	assert.Contains(t, run.scope, filepath.Base(identity), "identity must live in the scratch directory")

	_, err = os.Stat(identity)
	assert.True(t, os.IsNotExist(err), "scratch directory must be removed after the run")
}

func TestCLIBackend_ManualKeysWrittenToScratch(t *testing.T) {
	keyData := "github.com ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl"
	strategy, err := hostkey.NewManuallyProvidedKeys(keyData)
	require.NoError(t, err)

	c, out := newFakeGitClient(t, credentials.NewStore(), strategy)
	_, err = c.LsRemote(context.Background(), "ssh://git@github.com/org/repo.git")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	written, err := os.ReadFile(filepath.Join(out, "known_hosts"))
	require.NoError(t, err)
	assert.Equal(t, keyData+"\n", string(written))

	words, err := shlex.Split(run.env["GIT_SSH_COMMAND"])
	require.NoError(t, err)
	assert.NotContains(t, words, "-i", "no credential means no identity file")
}

func TestCLIBackend_SSHPasswordUsesAskPass(t *testing.T) {
	store := credentials.NewStore()
	store.SetDefault(credentials.NewUsernamePassword("build", "builder", "hunter2"))
	c, out := newFakeGitClient(t, store, hostkey.NewNoVerification())

	_, err := c.LsRemote(context.Background(), "ssh://git.internal:2222/repo.git")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	words, err := shlex.Split(run.env["GIT_SSH_COMMAND"])
	require.NoError(t, err)
	assert.Contains(t, words, "NumberOfPasswordPrompts=1")
	assert.NotContains(t, words, "BatchMode=yes")
	assert.Equal(t, "force", run.env["SSH_ASKPASS_REQUIRE"])
	assert.Equal(t, "hunter2", run.env[askPassEnvName])
	assert.Contains(t, run.scope, filepath.Base(run.env["SSH_ASKPASS"]))
}

func TestCLIBackend_LocalRemoteNeedsNoTransport(t *testing.T) {
	store := credentials.NewStore()
	store.SetDefault(credentials.NewToken("ci", "unused"))
	c, out := newFakeGitClient(t, store, hostkey.NewNoVerification())

	_, err := c.LsRemote(context.Background(), "/srv/git/repo.git")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	_, hasConfig := run.env["GIT_CONFIG_COUNT"]
	assert.False(t, hasConfig)
	_, hasSSH := run.env["GIT_SSH_COMMAND"]
	assert.False(t, hasSSH)
}

func TestCLIBackend_DropsInheritedRepositoryEnv(t *testing.T) {
	t.Setenv("GIT_DIR", "/somewhere/else/.git")
	t.Setenv("GIT_CONFIG_KEY_0", "core.sshCommand")
	t.Setenv("GIT_CONFIG_VALUE_0", "ssh -o StrictHostKeyChecking=no")
	t.Setenv("GITCLIENT_TEST_INHERITED", "kept")

	c, out := newFakeGitClient(t, credentials.NewStore(), hostkey.NewNoVerification())
	_, err := c.LsRemote(context.Background(), "/srv/git/repo.git")
	require.NoError(t, err)
	run := readFakeGitRun(t, out)

	assert.NotContains(t, run.env, "GIT_DIR")
	assert.NotContains(t, run.env, "GIT_CONFIG_KEY_0")
	assert.NotContains(t, run.env, "GIT_CONFIG_VALUE_0")
	assert.Equal(t, "kept", run.env["GITCLIENT_TEST_INHERITED"])
}

func TestCLIBackend_StderrLoggedAtDebug(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c, _ := newFakeGitClient(t, credentials.NewStore(), hostkey.NewNoVerification(), func(o *Options) {
		o.Logger = logger
	})
	_, err := c.LsRemote(context.Background(), "/srv/git/repo.git")
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "git stderr")
	assert.Contains(t, logs.String(), "note: served by fake git")
}

// recordingRunner stands in for the git binary.
type recordingRunner struct {
	args    []string
	options executor.Options
	result  *executor.Result
	err     error
}

func (r *recordingRunner) Run(_ context.Context, args []string, opts ...executor.Option) (*executor.Result, error) {
	r.args = args
	for _, opt := range opts {
		opt(&r.options)
	}
	return r.result, r.err
}

func TestCLIBackend_ClassifiesRunnerErrors(t *testing.T) {
	t.Setenv("GIT_WORK_TREE", "/somewhere/else")

	c, err := New(&Options{
		Backend:     BackendCLI,
		Credentials: credentials.NewStore(),
		HostKeys:    hostkey.NewKnownHostsFile(filepath.Join(t.TempDir(), "known_hosts")),
		TempDir:     t.TempDir(),
	})
	require.NoError(t, err)

	runner := &recordingRunner{
		result: &executor.Result{ExitCode: 128},
		err: &executor.ExitError{
			Program:  "git",
			ExitCode: 128,
			Stderr:   "No ED25519 host key is known for github.com.\nHost key verification failed.\nfatal: Could not read from remote repository.\n",
		},
	}
	c.backend.(*cliBackend).git = runner

	_, err = c.LsRemote(context.Background(), "git@github.com:org/repo.git")
	require.ErrorIs(t, err, hostkey.ErrHostKeyRejected)

	if diff := cmp.Diff([]string{"ls-remote", "--", "git@github.com:org/repo.git"}, runner.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, runner.options.WorkingDir)
	assert.Equal(t, "0", runner.options.Env["GIT_TERMINAL_PROMPT"])
	assert.Contains(t, runner.options.Env, "GIT_SSH_COMMAND")
	for _, kv := range runner.options.BaseEnv {
		assert.False(t, strings.HasPrefix(kv, "GIT_WORK_TREE="), "inherited %s must not reach git", kv)
	}
}

func TestParseLsRemote(t *testing.T) {
	refs, err := parseLsRemote("abc\tHEAD\n\nabc\trefs/heads/main\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"HEAD": "abc", "refs/heads/main": "abc"}, refs)

	_, err = parseLsRemote("garbage line\n")
	assert.Error(t, err)
}
