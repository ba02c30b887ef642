package gitclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/hostkey"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/internal/executor"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/internal/sshcmd"
)

const (
	askPassScript  = "#!/bin/sh\nprintf '%s\\n' \"$GITCLIENT_SSH_PASSWORD\"\n"
	askPassEnvName = "GITCLIENT_SSH_PASSWORD"
)

// cliBackend drives the git binary. Secrets reach the process through its
// environment and files in a per-invocation scratch directory, never argv.
type cliBackend struct {
	git       executor.Runner
	creds     *credentials.Store
	hostKeys  hostkey.Strategy
	sshBase   []string
	tempDir   string
	env       map[string]string
	gitConfig map[string]string
	logger    *slog.Logger
}

func newCLIBackend(o *Options) (*cliBackend, error) {
	sshBase, err := sshcmd.Parse(o.SSHCommand)
	if err != nil {
		return nil, WrapError(ErrInvalidOptions, err.Error())
	}
	return &cliBackend{
		git:       executor.New(o.GitExecutable, executor.WithLogger(o.Logger)),
		creds:     o.Credentials,
		hostKeys:  o.HostKeys,
		sshBase:   sshBase,
		tempDir:   o.TempDir,
		env:       o.Env,
		gitConfig: o.GitConfig,
		logger:    o.Logger,
	}, nil
}

// invocation is the environment of one git process.
type invocation struct {
	scope     string
	env       map[string]string
	gitConfig [][2]string
}

// run executes git with credentials and host key options for remoteURL.
// An empty remoteURL runs git without transport configuration.
func (b *cliBackend) run(ctx context.Context, remoteURL, dir string, args ...string) (*executor.Result, error) {
	scope, err := os.MkdirTemp(b.tempDir, "gitclient-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scope); rmErr != nil {
			b.logger.Warn("failed to remove scratch directory", "dir", scope, "error", rmErr)
		}
	}()

	inv := &invocation{scope: scope, env: map[string]string{"GIT_TERMINAL_PROMPT": "0"}}
	for k, v := range b.env {
		inv.env[k] = v
	}
	for _, k := range sortedKeys(b.gitConfig) {
		inv.gitConfig = append(inv.gitConfig, [2]string{k, b.gitConfig[k]})
	}

	if remoteURL != "" {
		if err := b.configureTransport(inv, remoteURL); err != nil {
			return nil, err
		}
	}
	inv.exportGitConfig()

	opts := []executor.Option{executor.WithBaseEnv(gitBaseEnv()), executor.WithEnv(inv.env)}
	if dir != "" {
		opts = append(opts, executor.WithWorkingDir(dir))
	} else {
		opts = append(opts, executor.WithWorkingDir(scope))
	}
	var stderr *stderrLog
	if b.logger.Enabled(ctx, slog.LevelDebug) {
		stderr = &stderrLog{logger: b.logger}
		opts = append(opts, executor.WithStderrWriter(stderr))
	}

	result, err := b.git.Run(ctx, args, opts...)
	if stderr != nil {
		stderr.flush()
	}
	if err != nil {
		return result, classifyCLIError(err)
	}
	return result, nil
}

// repositoryEnv lists inherited variables that would redirect git to another
// repository or inject configuration behind the per-invocation settings.
var repositoryEnv = map[string]bool{
	"GIT_DIR":                          true,
	"GIT_WORK_TREE":                    true,
	"GIT_COMMON_DIR":                   true,
	"GIT_INDEX_FILE":                   true,
	"GIT_OBJECT_DIRECTORY":             true,
	"GIT_ALTERNATE_OBJECT_DIRECTORIES": true,
	"GIT_PREFIX":                       true,
	"GIT_CONFIG":                       true,
	"GIT_CONFIG_PARAMETERS":            true,
	"GIT_CONFIG_COUNT":                 true,
	"GIT_SSH":                          true,
	"GIT_SSH_COMMAND":                  true,
	"GIT_ASKPASS":                      true,
	"SSH_ASKPASS":                      true,
}

// gitBaseEnv is the process environment minus repositoryEnv.
func gitBaseEnv() []string {
	environ := os.Environ()
	env := make([]string, 0, len(environ))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if repositoryEnv[key] ||
			strings.HasPrefix(key, "GIT_CONFIG_KEY_") ||
			strings.HasPrefix(key, "GIT_CONFIG_VALUE_") {
			continue
		}
		env = append(env, kv)
	}
	return env
}

// stderrLog forwards git's standard error to the debug log, one record per line.
type stderrLog struct {
	logger  *slog.Logger
	pending []byte
}

func (w *stderrLog) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
}

func (w *stderrLog) flush() {
	w.emit(w.pending)
	w.pending = nil
}

func (w *stderrLog) emit(line []byte) {
	if text := strings.TrimSpace(string(line)); text != "" {
		w.logger.Debug("git stderr", "line", text)
	}
}

func (b *cliBackend) configureTransport(inv *invocation, remoteURL string) error {
	ep, err := credentials.ParseEndpoint(remoteURL)
	if err != nil {
		// Local paths and file:// URLs need neither credentials nor host keys.
		return nil
	}

	switch {
	case ep.IsHTTP():
		return b.configureHTTP(inv, remoteURL, ep)
	case ep.IsSSH():
		return b.configureSSH(inv, remoteURL, ep)
	default:
		return nil
	}
}

func (b *cliBackend) configureHTTP(inv *invocation, remoteURL string, ep credentials.Endpoint) error {
	user := &credentials.UsernameItem{}
	pass := &credentials.PasswordItem{}
	_, err := b.creds.Resolve(remoteURL, user, pass)
	if errors.Is(err, credentials.ErrCredentialNotFound) {
		return nil
	}
	if err != nil {
		return WrapError(err, "failed to get authentication method")
	}
	defer pass.Clear()

	token := base64.StdEncoding.EncodeToString([]byte(user.Value + ":" + string(pass.Value())))
	key := fmt.Sprintf("http.%s://%s/.extraHeader", ep.Scheme, ep.Address())
	inv.gitConfig = append(inv.gitConfig, [2]string{key, "Authorization: Basic " + token})
	return nil
}

func (b *cliBackend) configureSSH(inv *invocation, remoteURL string, ep credentials.Endpoint) error {
	options, err := b.hostKeys.ExternalProcessOptions(filepath.Join(inv.scope, "known_hosts"))
	if err != nil {
		return WrapError(err, "failed to prepare host key verification")
	}
	cmd := sshcmd.Command{Base: b.sshBase, HostKeyOptions: options}

	c, err := b.creds.Resolve(remoteURL)
	switch {
	case errors.Is(err, credentials.ErrCredentialNotFound):
	case err != nil:
		return WrapError(err, "failed to get authentication method")
	default:
		if err := b.sshIdentity(inv, &cmd, c, ep); err != nil {
			return err
		}
	}

	inv.env["GIT_SSH_COMMAND"] = cmd.String()
	inv.env["GIT_SSH_VARIANT"] = "ssh"
	return nil
}

func (b *cliBackend) sshIdentity(inv *invocation, cmd *sshcmd.Command, c credentials.Credential, ep credentials.Endpoint) error {
	if uc, ok := c.(credentials.UsernameCredential); ok && uc.Username() != "" {
		cmd.User = uc.Username()
	} else if ep.User != "" {
		cmd.User = ep.User
	}

	switch cred := c.(type) {
	case *credentials.SSHPrivateKey:
		keyData, err := unencryptedKey(cred)
		if err != nil {
			return err
		}
		path := filepath.Join(inv.scope, "identity")
		if err := os.WriteFile(path, keyData, 0o600); err != nil {
			return fmt.Errorf("failed to write identity file: %w", err)
		}
		cmd.IdentityFile = path
	case credentials.PasswordCredential:
		script := filepath.Join(inv.scope, "askpass.sh")
		if err := os.WriteFile(script, []byte(askPassScript), 0o700); err != nil {
			return fmt.Errorf("failed to write askpass helper: %w", err)
		}
		cmd.Password = true
		inv.env["SSH_ASKPASS"] = script
		inv.env["SSH_ASKPASS_REQUIRE"] = "force"
		inv.env[askPassEnvName] = cred.Password()
	default:
		return &credentials.UnsupportedItemError{CredentialID: c.ID(), Item: "ssh key"}
	}
	return nil
}

// unencryptedKey returns the key in a form ssh can load without prompting.
func unencryptedKey(cred *credentials.SSHPrivateKey) ([]byte, error) {
	if cred.Passphrase() == "" {
		return cred.PrivateKey(), nil
	}
	raw, err := ssh.ParseRawPrivateKeyWithPassphrase(cred.PrivateKey(), []byte(cred.Passphrase()))
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key %q: %w", cred.ID(), err)
	}
	block, err := ssh.MarshalPrivateKey(raw, "")
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode SSH key %q: %w", cred.ID(), err)
	}
	return pem.EncodeToMemory(block), nil
}

// exportGitConfig passes configuration through GIT_CONFIG_COUNT so that
// values never appear on the command line.
func (inv *invocation) exportGitConfig() {
	if len(inv.gitConfig) == 0 {
		return
	}
	inv.env["GIT_CONFIG_COUNT"] = strconv.Itoa(len(inv.gitConfig))
	for i, kv := range inv.gitConfig {
		inv.env[fmt.Sprintf("GIT_CONFIG_KEY_%d", i)] = kv[0]
		inv.env[fmt.Sprintf("GIT_CONFIG_VALUE_%d", i)] = kv[1]
	}
}

func (b *cliBackend) lsRemote(ctx context.Context, remoteURL string) (map[string]string, error) {
	result, err := b.run(ctx, remoteURL, "", "ls-remote", "--", remoteURL)
	if err != nil {
		return nil, err
	}
	return parseLsRemote(result.Stdout)
}

func parseLsRemote(out string) (map[string]string, error) {
	refs := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hash, name, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("unexpected ls-remote line %q", line)
		}
		refs[name] = hash
	}
	return refs, scanner.Err()
}

func (b *cliBackend) clone(ctx context.Context, remoteURL, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid clone directory: %w", err)
	}
	_, err = b.run(ctx, remoteURL, "", "clone", "--quiet", "--", remoteURL, abs)
	return err
}

func (b *cliBackend) fetch(ctx context.Context, dir, remote string) error {
	remoteURL, err := b.remoteURL(ctx, dir, remote)
	if err != nil {
		return err
	}
	_, err = b.run(ctx, remoteURL, dir, "fetch", "--quiet", remote)
	return err
}

func (b *cliBackend) remoteURL(ctx context.Context, dir, remote string) (string, error) {
	result, err := b.run(ctx, "", dir, "remote", "get-url", remote)
	if err != nil {
		return "", WrapError(err, "failed to get remote configuration")
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (b *cliBackend) submodules(ctx context.Context, dir string) ([]submoduleUpdate, error) {
	if _, err := os.Stat(filepath.Join(dir, ".gitmodules")); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	// Copies URLs from .gitmodules into .git/config once, before any update runs.
	if _, err := b.run(ctx, "", dir, "submodule", "init", "--quiet"); err != nil {
		return nil, err
	}

	result, err := b.run(ctx, "", dir, "config", "--file", ".gitmodules", "--get-regexp", `^submodule\..*\.path$`)
	if err != nil {
		return nil, err
	}

	var updates []submoduleUpdate
	scanner := bufio.NewScanner(strings.NewReader(result.Stdout))
	for scanner.Scan() {
		key, path, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "submodule."), ".path")

		urlResult, err := b.run(ctx, "", dir, "config", "--get", "submodule."+name+".url")
		if err != nil {
			return nil, WrapErrorf(err, "submodule %s has no URL", name)
		}

		sm := Submodule{Name: name, Path: path, URL: strings.TrimSpace(urlResult.Stdout)}
		updates = append(updates, submoduleUpdate{
			Submodule: sm,
			run: func(ctx context.Context) error {
				_, err := b.run(ctx, sm.URL, dir, "submodule", "update", "--quiet", "--", sm.Path)
				return err
			},
		})
	}
	return updates, scanner.Err()
}

// classifyCLIError attaches sentinels to well-known git and ssh failures.
func classifyCLIError(err error) error {
	var exitErr *executor.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	stderr := exitErr.Stderr
	switch {
	case strings.Contains(stderr, "Host key verification failed"),
		strings.Contains(stderr, "REMOTE HOST IDENTIFICATION HAS CHANGED"):
		return joinSentinel(hostkey.ErrHostKeyRejected, err)
	case strings.Contains(stderr, "could not read Username"),
		strings.Contains(stderr, "terminal prompts disabled"):
		return joinSentinel(ErrAuthRequired, err)
	case strings.Contains(stderr, "Authentication failed"),
		strings.Contains(stderr, "Permission denied"):
		return joinSentinel(ErrAuthFailed, err)
	case strings.Contains(stderr, "does not appear to be a git repository"),
		strings.Contains(stderr, "Repository not found"),
		strings.Contains(stderr, "No such remote"):
		return joinSentinel(ErrRemoteNotFound, err)
	case strings.Contains(stderr, "not a git repository"):
		return joinSentinel(ErrRepositoryNotFound, err)
	}
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redactURL strips any password from a URL before it is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	return u.Redacted()
}
