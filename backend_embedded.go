package gitclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/hostkey"
)

// embeddedBackend runs git in-process with go-git.
type embeddedBackend struct {
	creds     *credentials.Store
	hostKeys  hostkey.Strategy
	cacheSize int
	logger    *slog.Logger
}

func newEmbeddedBackend(o *Options) *embeddedBackend {
	return &embeddedBackend{
		creds:     o.Credentials,
		hostKeys:  o.HostKeys,
		cacheSize: o.StorerCacheSize,
		logger:    o.Logger,
	}
}

// auth resolves the AuthMethod for remoteURL. SSH methods always carry a
// host key callback materialized from the strategy for this connection.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (b *embeddedBackend) auth(remoteURL string) (transport.AuthMethod, error) {
	method, err := b.creds.Method(remoteURL)
	if err != nil {
		return nil, WrapError(err, "failed to get authentication method")
	}

	ep, err := credentials.ParseEndpoint(remoteURL)
	if err != nil || !ep.IsSSH() {
		return method, nil
	}

	callback, err := b.hostKeys.EmbeddedVerifier()
	if err != nil {
		return nil, WrapError(err, "failed to prepare host key verification")
	}
	algos, err := b.hostKeys.HostKeyAlgorithms(ep.Address())
	if err != nil {
		return nil, WrapError(err, "failed to prepare host key verification")
	}
	// go-git skips its own algorithm detection once a callback is set.
	helper := gitssh.HostKeyCallbackHelper{HostKeyCallback: callback, HostKeyAlgorithms: algos}

	switch m := method.(type) {
	case *gitssh.PublicKeys:
		m.HostKeyCallbackHelper = helper
	case *gitssh.Password:
		m.HostKeyCallbackHelper = helper
	case nil:
		user := ep.User
		if user == "" {
			user = credentials.DefaultSSHUsername
		}
		agent, agentErr := gitssh.NewSSHAgentAuth(user)
		if agentErr != nil {
			return nil, joinSentinel(ErrAuthRequired, fmt.Errorf("no credential and no ssh agent: %w", agentErr))
		}
		agent.HostKeyCallbackHelper = helper
		return agent, nil
	}
	return method, nil
}

func (b *embeddedBackend) newStorage(fs billy.Filesystem) *filesystem.Storage {
	return filesystem.NewStorage(fs, cache.NewObjectLRU(cache.FileSize(b.cacheSize)*cache.KiByte))
}

// open opens the repository at dir, bare or with a worktree.
func (b *embeddedBackend) open(dir string) (*git.Repository, error) {
	root := osfs.New(dir)

	storageFS, worktreeFS := root, billy.Filesystem(nil)
	if fi, err := root.Stat(git.GitDirName); err == nil && fi.IsDir() {
		dotGit, err := root.Chroot(git.GitDirName)
		if err != nil {
			return nil, fmt.Errorf("failed to access .git directory: %w", err)
		}
		storageFS, worktreeFS = dotGit, root
	}

	repo, err := git.Open(b.newStorage(storageFS), worktreeFS)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, WrapErrorf(ErrRepositoryNotFound, "%s", dir)
	}
	if err != nil {
		return nil, WrapError(err, "failed to open repository")
	}
	return repo, nil
}

func (b *embeddedBackend) lsRemote(ctx context.Context, remoteURL string) (map[string]string, error) {
	auth, err := b.auth(remoteURL)
	if err != nil {
		return nil, err
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: DefaultRemoteName,
		URLs: []string{remoteURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, classifyEmbeddedError(err)
	}

	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.Type() == plumbing.HashReference {
			out[ref.Name().String()] = ref.Hash().String()
		}
	}
	for _, ref := range refs {
		if ref.Type() != plumbing.SymbolicReference {
			continue
		}
		if hash, ok := out[ref.Target().String()]; ok {
			out[ref.Name().String()] = hash
		}
	}
	return out, nil
}

func (b *embeddedBackend) clone(ctx context.Context, remoteURL, dir string) error {
	auth, err := b.auth(remoteURL)
	if err != nil {
		return err
	}

	_, statErr := os.Stat(dir)
	existed := statErr == nil
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}

	root := osfs.New(dir)
	dotGit, err := root.Chroot(git.GitDirName)
	if err != nil {
		return fmt.Errorf("failed to create .git directory: %w", err)
	}

	_, err = git.CloneContext(ctx, b.newStorage(dotGit), root, &git.CloneOptions{
		URL:  remoteURL,
		Auth: auth,
	})
	if err != nil {
		if !existed {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				b.logger.Warn("failed to remove partial clone", "dir", dir, "error", rmErr)
			}
		}
		return classifyEmbeddedError(err)
	}
	return nil
}

func (b *embeddedBackend) fetch(ctx context.Context, dir, remote string) error {
	repo, err := b.open(dir)
	if err != nil {
		return err
	}

	rem, err := repo.Remote(remote)
	if err != nil {
		return classifyEmbeddedError(err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return WrapErrorf(ErrRemoteNotFound, "remote %s has no URL", remote)
	}

	auth, err := b.auth(urls[0])
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remote, Auth: auth})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return ErrAlreadyUpToDate
	}
	return classifyEmbeddedError(err)
}

func (b *embeddedBackend) submodules(ctx context.Context, dir string) ([]submoduleUpdate, error) {
	repo, err := b.open(dir)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}
	subs, err := wt.Submodules()
	if err != nil {
		return nil, WrapError(err, "failed to read submodules")
	}

	superURL := superprojectURL(repo, dir)

	updates := make([]submoduleUpdate, 0, len(subs))
	for _, sm := range subs {
		cfg := sm.Config()
		// git records the resolved URL at init time; go-git would otherwise
		// resolve it itself while cloning, bypassing auth and host key checks.
		cfg.URL = resolveSubmoduleURL(superURL, cfg.URL)

		// Init writes the superproject config and must not run concurrently.
		if err := sm.Init(); err != nil && !errors.Is(err, git.ErrSubmoduleAlreadyInitialized) {
			return nil, WrapErrorf(err, "failed to initialize submodule %s", cfg.Name)
		}

		updates = append(updates, submoduleUpdate{
			Submodule: Submodule{Name: cfg.Name, Path: cfg.Path, URL: cfg.URL},
			run: func(ctx context.Context) error {
				auth, err := b.auth(cfg.URL)
				if err != nil {
					return err
				}
				err = sm.UpdateContext(ctx, &git.SubmoduleUpdateOptions{Auth: auth})
				if errors.Is(err, git.NoErrAlreadyUpToDate) {
					return nil
				}
				return classifyEmbeddedError(err)
			},
		})
	}
	return updates, nil
}

// superprojectURL returns the URL relative submodule URLs are resolved
// against: the remote of the checked out branch, else origin, else the
// superproject directory itself.
func superprojectURL(repo *git.Repository, dir string) string {
	remote := DefaultRemoteName
	if cfg, err := repo.Config(); err == nil {
		if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
			if branch, ok := cfg.Branches[head.Name().Short()]; ok && branch.Remote != "" {
				remote = branch.Remote
			}
		}
		if rc, ok := cfg.Remotes[remote]; ok && len(rc.URLs) > 0 {
			return rc.URLs[0]
		}
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// resolveSubmoduleURL resolves a "./" or "../" submodule URL against the
// superproject URL, keeping the superproject's URL form. Other URLs are
// returned unchanged.
func resolveSubmoduleURL(superURL, subURL string) string {
	if !strings.HasPrefix(subURL, "./") && !strings.HasPrefix(subURL, "../") {
		return subURL
	}
	base := strings.TrimSuffix(superURL, "/")

	if u, err := url.Parse(base); err == nil && u.Opaque == "" && len(u.Scheme) > 1 {
		u.Path = path.Join("/", u.Path, subURL)
		return u.String()
	}
	// scp-like "user@host:path"
	if i := strings.Index(base, ":"); i > 0 && !strings.Contains(base[:i], "/") && len(base) > i+1 {
		return base[:i+1] + path.Join(base[i+1:], subURL)
	}
	return filepath.Join(base, filepath.FromSlash(subURL))
}

// classifyEmbeddedError maps go-git transport errors onto the shared sentinels.
func classifyEmbeddedError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hostkey.ErrHostKeyRejected):
		return err
	case strings.Contains(err.Error(), hostkey.ErrHostKeyRejected.Error()):
		// The ssh handshake may flatten the callback's error into text.
		return joinSentinel(hostkey.ErrHostKeyRejected, err)
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return joinSentinel(ErrAuthRequired, err)
	case errors.Is(err, transport.ErrAuthorizationFailed),
		strings.Contains(err.Error(), "unable to authenticate"):
		return joinSentinel(ErrAuthFailed, err)
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, git.ErrRemoteNotFound):
		return joinSentinel(ErrRemoteNotFound, err)
	}
	return err
}
