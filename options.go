package gitclient

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/dispatch"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/hostkey"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/internal/sshcmd"
)

const (
	// DefaultGitExecutable is the git binary used by the CLI backend.
	DefaultGitExecutable = "git"

	// DefaultParallelism runs dispatched operations one at a time.
	DefaultParallelism = 1

	// DefaultStorerCacheSize is the LRU object cache size of the embedded
	// backend, in KiB.
	DefaultStorerCacheSize = 1000

	// DefaultRemoteName is used by Fetch when no remote is given.
	DefaultRemoteName = "origin"
)

// Backend selects how git operations are carried out.
type Backend int8

const (
	// BackendCLI drives a native git binary as an external process.
	BackendCLI Backend = iota

	// BackendEmbedded runs git in-process with go-git.
	BackendEmbedded
)

// String returns the name accepted by ParseBackend.
func (b Backend) String() string {
	switch b {
	case BackendCLI:
		return "cli"
	case BackendEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// ParseBackend converts "cli" or "embedded" into a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cli":
		return BackendCLI, nil
	case "embedded":
		return BackendEmbedded, nil
	default:
		return 0, WrapErrorf(ErrInvalidOptions, "unknown backend %q", name)
	}
}

// Options configures a Client.
type Options struct {
	// Backend selects the CLI or embedded implementation. Defaults to BackendCLI.
	Backend Backend

	// GitExecutable is the git binary run by the CLI backend.
	// Defaults to DefaultGitExecutable.
	GitExecutable string

	// Credentials is the REQUIRED credential store consulted for every remote.
	Credentials *credentials.Store

	// HostKeys decides how SSH host keys are verified.
	// Defaults to accept-first-use on the user's known_hosts file.
	HostKeys hostkey.Strategy

	// Parallelism bounds how many dispatched operations (FetchAll,
	// SubmoduleUpdate) run at once. Defaults to DefaultParallelism.
	Parallelism int

	// SSHCommand is the ssh program and fixed arguments used by the CLI
	// backend, split with shell rules. Defaults to "ssh".
	SSHCommand string

	// TempDir is where per-invocation scratch directories are created.
	// Defaults to the system temp directory.
	TempDir string

	// Env adds environment variables to every git process.
	Env map[string]string

	// GitConfig adds configuration entries to every git process without
	// touching any config file.
	GitConfig map[string]string

	// ShutdownTimeout bounds how long dispatched operations are awaited after
	// a failure or cancellation. Defaults to dispatch.DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// StorerCacheSize sets the embedded backend's LRU object cache in KiB.
	// Defaults to DefaultStorerCacheSize.
	StorerCacheSize int

	// Logger receives diagnostics. Defaults to discarding them.
	Logger *slog.Logger
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o == nil {
		return WrapError(ErrInvalidOptions, "options are required")
	}

	if o.Credentials == nil {
		return WrapError(ErrInvalidOptions, "Credentials is required")
	}

	if o.Backend != BackendCLI && o.Backend != BackendEmbedded {
		return WrapErrorf(ErrInvalidOptions, "unknown backend %d", o.Backend)
	}

	if o.Parallelism < 0 {
		return WrapError(ErrInvalidOptions, "Parallelism cannot be negative")
	}

	if o.ShutdownTimeout < 0 {
		return WrapError(ErrInvalidOptions, "ShutdownTimeout cannot be negative")
	}

	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidOptions, "StorerCacheSize cannot be negative")
	}

	if _, err := sshcmd.Parse(o.SSHCommand); err != nil {
		return WrapError(ErrInvalidOptions, fmt.Sprintf("SSHCommand: %v", err))
	}

	return nil
}

// applyDefaults sets default values for any unset fields in Options.
func (o *Options) applyDefaults() {
	if o.GitExecutable == "" {
		o.GitExecutable = DefaultGitExecutable
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	if o.HostKeys == nil {
		o.HostKeys = hostkey.NewAcceptFirstUse(hostkey.DefaultKnownHostsPath(), hostkey.WithLogger(o.Logger))
	}

	if o.Parallelism == 0 {
		o.Parallelism = DefaultParallelism
	}

	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = dispatch.DefaultShutdownTimeout
	}

	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
}
