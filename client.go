package gitclient

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient/dispatch"
)

// Submodule describes one submodule of a working tree.
type Submodule struct {
	Name string
	Path string
	URL  string
}

// FetchRequest names one repository and remote for FetchAll.
type FetchRequest struct {
	// Dir is the local repository.
	Dir string

	// Remote is the remote to fetch. Defaults to DefaultRemoteName.
	Remote string
}

// submoduleUpdate is a prepared, independent update of one submodule.
type submoduleUpdate struct {
	Submodule
	run func(ctx context.Context) error
}

// backend is implemented by the CLI and embedded engines. Every method that
// talks to a remote resolves credentials and host keys for that remote itself.
type backend interface {
	lsRemote(ctx context.Context, url string) (map[string]string, error)
	clone(ctx context.Context, url, dir string) error
	fetch(ctx context.Context, dir, remote string) error

	// submodules initializes the submodules of dir and returns one update per
	// submodule. Updates may run concurrently.
	submodules(ctx context.Context, dir string) ([]submoduleUpdate, error)
}

// Client runs git operations against one backend with a shared credential
// store, host key strategy and dispatch configuration.
type Client struct {
	options Options
	backend backend
	logger  *slog.Logger
}

// New creates a Client for the configured backend.
func New(opts *Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}

	o := *opts
	o.applyDefaults()

	var b backend
	var err error
	switch o.Backend {
	case BackendEmbedded:
		b = newEmbeddedBackend(&o)
	default:
		b, err = newCLIBackend(&o)
	}
	if err != nil {
		return nil, err
	}

	o.Logger.Debug("git client ready",
		"backend", o.Backend.String(),
		"host_key_policy", o.HostKeys.Name(),
		"parallelism", o.Parallelism,
		"bound_credentials", o.Credentials.Len())

	return &Client{options: o, backend: b, logger: o.Logger}, nil
}

// NewLineLogger returns a logger writing one plain text line per record to w.
func NewLineLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}

// Backend reports which backend the client uses.
func (c *Client) Backend() Backend {
	return c.options.Backend
}

// LsRemote lists the references of the remote at url, mapping each ref name
// to its object hash.
func (c *Client) LsRemote(ctx context.Context, url string) (map[string]string, error) {
	if url == "" {
		return nil, WrapError(ErrRemoteNotFound, "remote URL cannot be empty")
	}
	refs, err := c.backend.lsRemote(ctx, url)
	if err != nil {
		return nil, WrapErrorf(err, "ls-remote %s", redactURL(url))
	}
	return refs, nil
}

// Clone clones the repository at url into dir.
func (c *Client) Clone(ctx context.Context, url, dir string) error {
	if url == "" {
		return WrapError(ErrRemoteNotFound, "remote URL cannot be empty")
	}
	if dir == "" {
		return WrapError(ErrInvalidOptions, "clone directory cannot be empty")
	}

	c.logger.Info("cloning repository", "url", redactURL(url), "dir", dir)
	if err := c.backend.clone(ctx, url, dir); err != nil {
		return WrapErrorf(err, "clone %s", redactURL(url))
	}
	return nil
}

// Fetch fetches remote into the repository at dir. A fetch that transfers
// nothing is not an error.
func (c *Client) Fetch(ctx context.Context, dir, remote string) error {
	if remote == "" {
		remote = DefaultRemoteName
	}

	err := c.backend.fetch(ctx, dir, remote)
	if errors.Is(err, ErrAlreadyUpToDate) {
		c.logger.Debug("fetch already up to date", "dir", dir, "remote", remote)
		return nil
	}
	if err != nil {
		return WrapErrorf(err, "fetch %s in %s", remote, dir)
	}
	return nil
}

// FetchAll runs every fetch as an independent operation, at most
// Options.Parallelism at a time. The first failure cancels the rest and is
// returned as a *dispatch.TaskFailure.
func (c *Client) FetchAll(ctx context.Context, requests []FetchRequest) error {
	tasks := make([]dispatch.Task[struct{}], len(requests))
	for i, req := range requests {
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.Fetch(ctx, req.Dir, req.Remote)
		}
	}

	_, err := dispatch.Dispatch(ctx, tasks, c.options.Parallelism, c.dispatchOptions()...)
	return err
}

// SubmoduleUpdate initializes the submodules of the working tree at dir and
// updates each one as an independent operation, at most Options.Parallelism
// at a time. It returns the submodules that were updated.
func (c *Client) SubmoduleUpdate(ctx context.Context, dir string) ([]Submodule, error) {
	updates, err := c.backend.submodules(ctx, dir)
	if err != nil {
		return nil, WrapErrorf(err, "listing submodules in %s", dir)
	}

	tasks := make([]dispatch.Task[Submodule], len(updates))
	for i, u := range updates {
		tasks[i] = func(ctx context.Context) (Submodule, error) {
			c.logger.Info("updating submodule", "name", u.Name, "path", u.Path)
			if err := u.run(ctx); err != nil {
				return Submodule{}, WrapErrorf(err, "submodule %s", u.Name)
			}
			return u.Submodule, nil
		}
	}

	return dispatch.Dispatch(ctx, tasks, c.options.Parallelism, c.dispatchOptions()...)
}

func (c *Client) dispatchOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithLogger(c.logger),
		dispatch.WithShutdownTimeout(c.options.ShutdownTimeout),
	}
}
