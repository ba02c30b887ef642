package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/gitclient/hostkey"
)

// Environment variables read for credentials so that secrets stay off the
// command line.
const (
	envToken      = "GITCLIENT_TOKEN"
	envPassphrase = "GITCLIENT_SSH_PASSPHRASE"
)

// globalFlags holds the flags shared by every subcommand.
type globalFlags struct {
	Backend         string
	GitExecutable   string
	Parallelism     int
	SSHCommand      string
	HostKeyPolicy   string
	KnownHosts      string
	HostKeysFile    string
	SSHKey          string
	SSHUser         string
	TokenURLs       []string
	SSHURLs         []string
	ShutdownTimeout time.Duration
	Verbose         bool
}

func (f *globalFlags) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.StringVar(&f.Backend, "backend", gitclient.BackendCLI.String(),
		"git implementation to use: cli or embedded")
	fs.StringVar(&f.GitExecutable, "git", gitclient.DefaultGitExecutable,
		"git binary used by the cli backend")
	fs.IntVarP(&f.Parallelism, "jobs", "j", gitclient.DefaultParallelism,
		"number of fetches or submodule updates to run at once")
	fs.StringVar(&f.SSHCommand, "ssh-command", "",
		"ssh program and arguments used by the cli backend (default \"ssh\")")
	fs.StringVar(&f.HostKeyPolicy, "host-key-policy", hostkey.NameAcceptFirstUse,
		"host key policy: accept-first-use, known-hosts-file, manual or none")
	fs.StringVar(&f.KnownHosts, "known-hosts", "",
		"known hosts file for accept-first-use and known-hosts-file (default ~/.ssh/known_hosts)")
	fs.StringVar(&f.HostKeysFile, "host-keys", "",
		"file with known_hosts lines trusted by the manual policy")
	fs.StringVar(&f.SSHKey, "ssh-key", "",
		"private key used for every ssh remote; passphrase read from $"+envPassphrase)
	fs.StringVar(&f.SSHUser, "ssh-user", credentials.DefaultSSHUsername,
		"user name sent with --ssh-key")
	fs.StringSliceVar(&f.TokenURLs, "token-url", nil,
		"bind $"+envToken+" to this repository URL; repeatable. Without it the token is the default credential")
	fs.StringSliceVar(&f.SSHURLs, "ssh-url", nil,
		"bind --ssh-key to this repository URL; repeatable. Without it the key is the default credential")
	fs.DurationVar(&f.ShutdownTimeout, "shutdown-timeout", 0,
		"how long to wait for running operations after a failure (default 10s)")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "log debug output")
	return fs
}

// NewRootCommand returns the gitclient command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "gitclient",
		Short:         "Run git operations through the cli or embedded backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddFlagSet(flags.flagSet())

	newClient := func(cmd *cobra.Command) (*gitclient.Client, error) {
		return flags.client(cmd.ErrOrStderr())
	}

	root.AddCommand(
		newLsRemoteCommand(newClient),
		newCloneCommand(newClient),
		newFetchCommand(newClient),
		newSubmoduleUpdateCommand(newClient),
	)
	return root
}

func (f *globalFlags) client(stderr io.Writer) (*gitclient.Client, error) {
	backend, err := gitclient.ParseBackend(f.Backend)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if f.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	store, err := f.credentials()
	if err != nil {
		return nil, err
	}

	strategy, err := f.hostKeys(logger)
	if err != nil {
		return nil, err
	}

	return gitclient.New(&gitclient.Options{
		Backend:         backend,
		GitExecutable:   f.GitExecutable,
		Credentials:     store,
		HostKeys:        strategy,
		Parallelism:     f.Parallelism,
		SSHCommand:      f.SSHCommand,
		ShutdownTimeout: f.ShutdownTimeout,
		Logger:          logger,
	})
}

func (f *globalFlags) credentials() (*credentials.Store, error) {
	store := credentials.NewStore()

	if token := os.Getenv(envToken); token != "" {
		cred := credentials.NewToken("env:"+envToken, token)
		if len(f.TokenURLs) == 0 {
			store.SetDefault(cred)
		}
		for _, u := range f.TokenURLs {
			store.Bind(u, cred)
		}
	}

	if f.SSHKey != "" {
		key, err := os.ReadFile(f.SSHKey)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		cred := credentials.NewSSHPrivateKey(f.SSHKey, f.SSHUser, key, os.Getenv(envPassphrase))
		if len(f.SSHURLs) == 0 {
			if store.Default() != nil {
				return nil, fmt.Errorf("both $%s and --ssh-key would be the default credential; bind one with --token-url or --ssh-url", envToken)
			}
			store.SetDefault(cred)
		}
		for _, u := range f.SSHURLs {
			store.Bind(u, cred)
		}
	}
	return store, nil
}

//nolint:ireturn // Strategy is a closed set of variants
func (f *globalFlags) hostKeys(logger *slog.Logger) (hostkey.Strategy, error) {
	value := f.KnownHosts
	if f.HostKeyPolicy == hostkey.NameManual {
		if f.HostKeysFile == "" {
			return nil, fmt.Errorf("--host-keys is required with --host-key-policy=%s", hostkey.NameManual)
		}
		data, err := os.ReadFile(f.HostKeysFile)
		if err != nil {
			return nil, fmt.Errorf("reading host keys: %w", err)
		}
		value = string(data)
	} else if value == "" {
		value = hostkey.DefaultKnownHostsPath()
	}
	return hostkey.Parse(f.HostKeyPolicy, value, hostkey.WithLogger(logger))
}
